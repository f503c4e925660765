// Package s3driver stores a sync target in an S3 bucket. S3 has no real
// directories: Mkdir writes a zero-byte `dir/` marker so empty directories
// survive, and listings group keys on the `/` delimiter.
package s3driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	delimiter       = "/"
	dirCacheSize    = 1024
	requestRepeats  = 3
	deleteBatchSize = 1000
)

var capabilities = driver.Capabilities{
	Name:         "s3",
	SpecialRoots: []string{driver.DefaultRoot},
}

// API is the subset of the S3 client the driver calls.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Driver struct {
	api    API
	config *Config
	// knownDirs remembers markers already written by this process.
	knownDirs *lru.Cache[string, struct{}]
}

func New(api API, cfg *Config) *Driver {
	cache, _ := lru.New[string, struct{}](dirCacheSize)
	return &Driver{
		api:       api,
		config:    cfg,
		knownDirs: cache,
	}
}

// NewWithConfig builds the AWS client from static credentials.
func NewWithConfig(ctx context.Context, cfg *Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 60 * time.Second,
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.UseAccelerate = cfg.UseAccelerate
	})

	return New(client, cfg), nil
}

func (d *Driver) Capabilities() driver.Capabilities {
	return capabilities
}

func (d *Driver) RequestRepeatCount() int {
	return requestRepeats
}

// key maps a special path to an object key. The special root maps to the
// configured prefix, which may be empty.
func (d *Driver) key(p string) (string, error) {
	_, sub, err := driver.SplitPath(p, capabilities)
	if err != nil {
		return "", err
	}
	prefix := strings.Trim(d.config.Prefix, delimiter)
	switch {
	case prefix == "":
		return sub, nil
	case sub == "":
		return prefix, nil
	}
	return prefix + delimiter + sub, nil
}

// dirPrefix is the listing prefix of the directory stored at key.
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + delimiter
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// transportError keeps S3 failures classifiable by driver.IsTransient.
func transportError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	te := &driver.TransportError{Op: op, Path: key, Err: err}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		te.Code = respErr.HTTPStatusCode()
	}
	return te
}

func (d *Driver) Initialize(ctx context.Context, basePath string) error {
	return driver.EnsureBasePath(ctx, basePath, d.Mkdir)
}

func (d *Driver) Stat(ctx context.Context, p string) (*driver.Item, error) {
	key, err := d.key(p)
	if err != nil {
		return nil, err
	}

	if key != "" {
		head, err := d.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.config.BucketName),
			Key:    aws.String(key),
		})
		if err == nil {
			return &driver.Item{Path: p, UpdatedTime: aws.ToTime(head.LastModified).UTC()}, nil
		}
		if !isNotFound(err) {
			return nil, transportError("HEAD", key, err)
		}
	}

	// no object: it is a directory if anything lives below it
	out, err := d.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.config.BucketName),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, transportError("LIST", key, err)
	}
	if len(out.Contents) == 0 && key != "" {
		return nil, nil
	}

	item := &driver.Item{Path: p, IsDirectory: true}
	if len(out.Contents) > 0 && strings.TrimSuffix(aws.ToString(out.Contents[0].Key), delimiter) == key {
		item.UpdatedTime = aws.ToTime(out.Contents[0].LastModified).UTC()
	}
	return item, nil
}

func (d *Driver) List(ctx context.Context, p string, opts driver.ListOptions) (*driver.ListResult, error) {
	key, err := d.key(p)
	if err != nil {
		return nil, err
	}
	cursor, err := driver.CursorAs[driver.S3Cursor](opts.Context)
	if err != nil {
		return nil, err
	}

	prefix := dirPrefix(key)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.config.BucketName),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	}
	if opts.PageSize > 0 {
		input.MaxKeys = aws.Int32(int32(opts.PageSize))
	}
	if cursor.ContinuationToken != "" {
		input.ContinuationToken = aws.String(cursor.ContinuationToken)
	}

	out, err := d.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, transportError("LIST", key, err)
	}

	res := &driver.ListResult{
		Items: make([]driver.Item, 0, len(out.CommonPrefixes)+len(out.Contents)),
	}
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), delimiter)
		if name == "" {
			continue
		}
		res.Items = append(res.Items, driver.Item{Path: name, IsDirectory: true})
	}
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if name == "" {
			// the marker of the listed directory itself
			continue
		}
		res.Items = append(res.Items, driver.Item{
			Path:        name,
			UpdatedTime: aws.ToTime(obj.LastModified).UTC(),
		})
	}

	if aws.ToBool(out.IsTruncated) {
		res.HasMore = true
		res.Context = driver.S3Cursor{ContinuationToken: aws.ToString(out.NextContinuationToken)}
	}
	return res, nil
}

func (d *Driver) Get(ctx context.Context, p string, opts driver.GetOptions) (*driver.Content, error) {
	key, err := d.key(p)
	if err != nil {
		return nil, err
	}

	out, err := d.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.config.BucketName),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, transportError("GET", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, transportError("GET", key, err)
	}

	if opts.Target != "" {
		if err := os.WriteFile(opts.Target, data, 0o644); err != nil {
			return nil, fmt.Errorf("get %s: write target: %w", p, err)
		}
	}
	return &driver.Content{Data: data, Format: opts.Format}, nil
}

func (d *Driver) Put(ctx context.Context, p string, data []byte, opts driver.PutOptions) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("put %s: %w", p, driver.ErrInvalidPath)
	}

	if opts.Source != "" {
		if data, err = os.ReadFile(opts.Source); err != nil {
			return fmt.Errorf("put %s: read source: %w", p, err)
		}
	}

	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return transportError("PUT", key, err)
}

// Mkdir writes a directory marker. Overwriting a marker is harmless, so an
// existing directory is never a conflict.
func (d *Driver) Mkdir(ctx context.Context, p string) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	if key == "" || d.knownDirs.Contains(key) {
		return nil
	}

	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.config.BucketName),
		Key:           aws.String(dirPrefix(key)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return transportError("PUT", dirPrefix(key), err)
	}

	d.knownDirs.Add(key, struct{}{})
	return nil
}

// Delete removes the object at p and, when p is a directory, every key below it.
func (d *Driver) Delete(ctx context.Context, p string) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}

	if key != "" {
		if _, err := d.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.config.BucketName),
			Key:    aws.String(key),
		}); err != nil && !isNotFound(err) {
			return transportError("DELETE", key, err)
		}
	}

	d.knownDirs.Remove(key)
	return d.deletePrefix(ctx, dirPrefix(key))
}

func (d *Driver) deletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(d.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.config.BucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return transportError("LIST", prefix, err)
		}

		for start := 0; start < len(page.Contents); start += deleteBatchSize {
			end := min(start+deleteBatchSize, len(page.Contents))
			ids := make([]types.ObjectIdentifier, 0, end-start)
			for _, obj := range page.Contents[start:end] {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
				d.knownDirs.Remove(strings.TrimSuffix(aws.ToString(obj.Key), delimiter))
			}

			out, err := d.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(d.config.BucketName),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return transportError("DELETE", prefix, err)
			}
			if len(out.Errors) > 0 {
				return fmt.Errorf("delete %s: %d objects failed, first: %s", prefix, len(out.Errors), aws.ToString(out.Errors[0].Message))
			}
		}
	}

	slog.Debug("s3 prefix deleted", "bucket", d.config.BucketName, "prefix", prefix)
	return nil
}

func (d *Driver) ClearRoot(ctx context.Context, p string) error {
	if err := d.Delete(ctx, p); err != nil {
		return err
	}
	return d.Mkdir(ctx, p)
}

var _ driver.Driver = (*Driver)(nil)
