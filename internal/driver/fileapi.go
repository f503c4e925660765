package driver

import (
	"context"
	"fmt"
	"time"
)

// FileAPI binds a Driver to the base directory of a sync target. All paths
// passed to it are relative to that directory.
type FileAPI struct {
	driver     Driver
	baseDir    string
	retryDelay time.Duration
}

type FileAPIOption func(*FileAPI)

// WithRetryDelay sets the first backoff delay between repeated requests.
func WithRetryDelay(d time.Duration) FileAPIOption {
	return func(a *FileAPI) {
		a.retryDelay = d
	}
}

func NewFileAPI(d Driver, baseDir string, opts ...FileAPIOption) *FileAPI {
	api := &FileAPI{
		driver:     d,
		baseDir:    baseDir,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

func (a *FileAPI) Driver() Driver {
	return a.driver
}

func (a *FileAPI) BaseDir() string {
	return a.baseDir
}

// FullPath maps a relative path to the driver path.
func (a *FileAPI) FullPath(rel string) string {
	return JoinPath(a.baseDir, rel)
}

func (a *FileAPI) do(ctx context.Context, op string, fn func() error) error {
	return withRetry(ctx, a.driver.RequestRepeatCount(), a.retryDelay, op, fn)
}

func (a *FileAPI) Initialize(ctx context.Context) error {
	return a.do(ctx, "initialize", func() error {
		return a.driver.Initialize(ctx, a.baseDir)
	})
}

func (a *FileAPI) Stat(ctx context.Context, rel string) (item *Item, err error) {
	err = a.do(ctx, "stat", func() error {
		item, err = a.driver.Stat(ctx, a.FullPath(rel))
		return err
	})
	if item != nil {
		item.Path = rel
	}
	return item, err
}

func (a *FileAPI) List(ctx context.Context, rel string, opts ListOptions) (res *ListResult, err error) {
	err = a.do(ctx, "list", func() error {
		res, err = a.driver.List(ctx, a.FullPath(rel), opts)
		return err
	})
	return res, err
}

// ListAll pages through List until the backend reports no more items.
func (a *FileAPI) ListAll(ctx context.Context, rel string) ([]Item, error) {
	var (
		items []Item
		opts  ListOptions
	)
	for {
		res, err := a.List(ctx, rel, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
		if !res.HasMore {
			return items, nil
		}
		if res.Context == nil {
			return nil, fmt.Errorf("list %s: %w: more pages without a cursor", rel, ErrInvalidCursor)
		}
		opts.Context = res.Context
	}
}

func (a *FileAPI) Get(ctx context.Context, rel string, opts GetOptions) (content *Content, err error) {
	err = a.do(ctx, "get", func() error {
		content, err = a.driver.Get(ctx, a.FullPath(rel), opts)
		return err
	})
	return content, err
}

func (a *FileAPI) Put(ctx context.Context, rel string, data []byte, opts PutOptions) error {
	return a.do(ctx, "put", func() error {
		return a.driver.Put(ctx, a.FullPath(rel), data, opts)
	})
}

func (a *FileAPI) Mkdir(ctx context.Context, rel string) error {
	return a.do(ctx, "mkdir", func() error {
		return a.driver.Mkdir(ctx, a.FullPath(rel))
	})
}

func (a *FileAPI) Delete(ctx context.Context, rel string) error {
	return a.do(ctx, "delete", func() error {
		return a.driver.Delete(ctx, a.FullPath(rel))
	})
}

func (a *FileAPI) ClearRoot(ctx context.Context) error {
	return a.do(ctx, "clear root", func() error {
		return a.driver.ClearRoot(ctx, a.baseDir)
	})
}
