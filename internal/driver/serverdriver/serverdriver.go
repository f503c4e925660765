// Package serverdriver talks to the file API of a dedicated sync server.
//
// Files are addressed by path: `root:/Apps/Joplin/info.json` becomes
// `api/files/root:/Apps/Joplin/info.json:`, and the bare root is
// `api/files/root`.
package serverdriver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
)

const (
	filesEndpoint   = "api/files/"
	childrenSuffix  = "/children"
	contentSuffix   = "/content"
	requestRepeats  = 3
	defaultPageSize = 100
)

var capabilities = driver.Capabilities{
	Name:         "server",
	SpecialRoots: []string{driver.DefaultRoot},
}

// fileMetadata is the server representation of a file or directory.
type fileMetadata struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	IsDirectory int    `json:"is_directory"`
	UpdatedTime int64  `json:"updated_time"`
}

type childrenPage struct {
	Items   []fileMetadata `json:"items"`
	HasMore bool           `json:"has_more"`
	Cursor  string         `json:"cursor,omitempty"`
}

type mkdirRequest struct {
	Name        string `json:"name"`
	IsDirectory int    `json:"is_directory"`
}

type Driver struct {
	api Transport
}

func New(api Transport) *Driver {
	return &Driver{api: api}
}

func (d *Driver) Capabilities() driver.Capabilities {
	return capabilities
}

func (d *Driver) RequestRepeatCount() int {
	return requestRepeats
}

// apiFilePath maps a special path to its file API endpoint.
func apiFilePath(p string) (string, error) {
	root, sub, err := driver.SplitPath(p, capabilities)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return filesEndpoint + root, nil
	}

	segments := strings.Split(sub, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return filesEndpoint + root + ":/" + strings.Join(segments, "/") + ":", nil
}

func metadataToItem(md *fileMetadata, path string) driver.Item {
	return driver.Item{
		Path:        path,
		UpdatedTime: time.UnixMilli(md.UpdatedTime).UTC(),
		IsDirectory: md.IsDirectory != 0,
	}
}

func (d *Driver) Initialize(ctx context.Context, basePath string) error {
	return driver.EnsureBasePath(ctx, basePath, d.Mkdir)
}

func (d *Driver) Stat(ctx context.Context, p string) (*driver.Item, error) {
	endpoint, err := apiFilePath(p)
	if err != nil {
		return nil, err
	}

	data, err := d.api.Exec(ctx, http.MethodGet, endpoint, nil, nil, ExecOptions{})
	if errors.Is(err, driver.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var md fileMetadata
	if err := jsonUnmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("stat %s: decode metadata: %w", p, err)
	}

	item := metadataToItem(&md, p)
	return &item, nil
}

func (d *Driver) List(ctx context.Context, p string, opts driver.ListOptions) (*driver.ListResult, error) {
	endpoint, err := apiFilePath(p)
	if err != nil {
		return nil, err
	}

	cursor, err := driver.CursorAs[driver.ServerCursor](opts.Context)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if cursor.Token != "" {
		query.Set("cursor", cursor.Token)
	}

	data, err := d.api.Exec(ctx, http.MethodGet, endpoint+childrenSuffix, nil, query, ExecOptions{})
	if err != nil {
		return nil, err
	}

	var page childrenPage
	if err := jsonUnmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("list %s: decode children: %w", p, err)
	}

	res := &driver.ListResult{
		Items:   make([]driver.Item, 0, len(page.Items)),
		HasMore: page.HasMore,
	}
	for i := range page.Items {
		res.Items = append(res.Items, metadataToItem(&page.Items[i], page.Items[i].Name))
	}
	if page.HasMore {
		res.Context = driver.ServerCursor{Token: page.Cursor}
	}
	return res, nil
}

func (d *Driver) Get(ctx context.Context, p string, opts driver.GetOptions) (*driver.Content, error) {
	endpoint, err := apiFilePath(p)
	if err != nil {
		return nil, err
	}

	data, err := d.api.Exec(ctx, http.MethodGet, endpoint+contentSuffix, nil, nil, ExecOptions{Format: opts.Format})
	if errors.Is(err, driver.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if opts.Target != "" {
		if err := os.WriteFile(opts.Target, data, 0o644); err != nil {
			return nil, fmt.Errorf("get %s: write target: %w", p, err)
		}
	}

	return &driver.Content{Data: data, Format: opts.Format}, nil
}

func (d *Driver) Put(ctx context.Context, p string, data []byte, opts driver.PutOptions) error {
	endpoint, err := apiFilePath(p)
	if err != nil {
		return err
	}

	if opts.Source != "" {
		if data, err = os.ReadFile(opts.Source); err != nil {
			return fmt.Errorf("put %s: read source: %w", p, err)
		}
	}
	if data == nil {
		data = []byte{}
	}

	_, err = d.api.Exec(ctx, http.MethodPut, endpoint+contentSuffix, data, nil, ExecOptions{RawBody: true})
	return err
}

// Mkdir posts a directory entry to the parent's children. The server answers
// 409 when the directory exists already.
func (d *Driver) Mkdir(ctx context.Context, p string) error {
	parent := driver.ParentPath(p)
	if parent == "" {
		return nil
	}

	endpoint, err := apiFilePath(parent)
	if err != nil {
		return err
	}

	body := &mkdirRequest{Name: driver.Basename(p), IsDirectory: 1}
	_, err = d.api.Exec(ctx, http.MethodPost, endpoint+childrenSuffix, body, nil, ExecOptions{})
	if err != nil && !errors.Is(err, driver.ErrConflict) {
		return err
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, p string) error {
	endpoint, err := apiFilePath(p)
	if err != nil {
		return err
	}
	_, err = d.api.Exec(ctx, http.MethodDelete, endpoint, nil, nil, ExecOptions{})
	return err
}

func (d *Driver) ClearRoot(ctx context.Context, p string) error {
	if err := d.Delete(ctx, p); err != nil && !errors.Is(err, driver.ErrNotFound) {
		return err
	}
	return d.Mkdir(ctx, p)
}

var _ driver.Driver = (*Driver)(nil)
