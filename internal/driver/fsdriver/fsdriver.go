// Package fsdriver is a sync target on a filesystem: a local or mounted
// directory in production, an in-memory tree in tests.
package fsdriver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/spf13/afero"
)

var capabilities = driver.Capabilities{
	Name:         "filesystem",
	SpecialRoots: []string{driver.DefaultRoot},
}

type Driver struct {
	fs   afero.Fs
	root string
}

// New serves the special root from the root directory of fsys.
func New(fsys afero.Fs, root string) *Driver {
	return &Driver{
		fs:   fsys,
		root: filepath.Clean(root),
	}
}

// NewOS serves a directory of the local filesystem.
func NewOS(root string) *Driver {
	return New(afero.NewOsFs(), root)
}

// NewMemory serves an empty in-memory tree.
func NewMemory() *Driver {
	return New(afero.NewMemMapFs(), "/")
}

func (d *Driver) Capabilities() driver.Capabilities {
	return capabilities
}

// Fs exposes the underlying filesystem, mostly for tests.
func (d *Driver) Fs() afero.Fs {
	return d.fs
}

// OSPath maps p to a path of the local filesystem. It reports false when the
// driver is not backed by the OS filesystem.
func (d *Driver) OSPath(p string) (string, bool) {
	if _, ok := d.fs.(*afero.OsFs); !ok {
		return "", false
	}
	local, err := d.localPath(p)
	if err != nil {
		return "", false
	}
	return local, true
}

func (d *Driver) localPath(p string) (string, error) {
	_, sub, err := driver.SplitPath(p, capabilities)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(sub)), nil
}

// Initialize creates the root directory if needed, then the base path below it.
func (d *Driver) Initialize(ctx context.Context, basePath string) error {
	if err := d.fs.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create root %s: %w", d.root, err)
	}
	return driver.EnsureBasePath(ctx, basePath, d.Mkdir)
}

func toItem(path string, info fs.FileInfo) driver.Item {
	return driver.Item{
		Path:        path,
		UpdatedTime: info.ModTime().UTC(),
		IsDirectory: info.IsDir(),
	}
}

func (d *Driver) Stat(_ context.Context, p string) (*driver.Item, error) {
	local, err := d.localPath(p)
	if err != nil {
		return nil, err
	}

	info, err := d.fs.Stat(local)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}

	item := toItem(p, info)
	return &item, nil
}

// List returns every child in one page, sorted by name.
func (d *Driver) List(_ context.Context, p string, _ driver.ListOptions) (*driver.ListResult, error) {
	local, err := d.localPath(p)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(d.fs, local)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", p, driver.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}

	items := make([]driver.Item, 0, len(infos))
	for _, info := range infos {
		items = append(items, toItem(info.Name(), info))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })

	return &driver.ListResult{Items: items}, nil
}

func (d *Driver) Get(_ context.Context, p string, opts driver.GetOptions) (*driver.Content, error) {
	local, err := d.localPath(p)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(d.fs, local)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}

	if opts.Target != "" {
		if err := os.WriteFile(opts.Target, data, 0o644); err != nil {
			return nil, fmt.Errorf("get %s: write target: %w", p, err)
		}
	}

	return &driver.Content{Data: data, Format: opts.Format}, nil
}

func (d *Driver) Put(_ context.Context, p string, data []byte, opts driver.PutOptions) error {
	local, err := d.localPath(p)
	if err != nil {
		return err
	}

	if opts.Source != "" {
		if data, err = os.ReadFile(opts.Source); err != nil {
			return fmt.Errorf("put %s: read source: %w", p, err)
		}
	}

	if err := d.fs.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if err := afero.WriteFile(d.fs, local, data, 0o644); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (d *Driver) Mkdir(_ context.Context, p string) error {
	local, err := d.localPath(p)
	if err != nil {
		return err
	}

	err = d.fs.Mkdir(local, 0o755)
	if err == nil || errors.Is(err, os.ErrExist) {
		return nil
	}
	if info, statErr := d.fs.Stat(local); statErr == nil && info.IsDir() {
		return nil
	}
	return fmt.Errorf("mkdir %s: %w", p, err)
}

func (d *Driver) Delete(_ context.Context, p string) error {
	local, err := d.localPath(p)
	if err != nil {
		return err
	}

	if _, err := d.fs.Stat(local); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", p, driver.ErrNotFound)
	}
	if err := d.fs.RemoveAll(local); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (d *Driver) ClearRoot(ctx context.Context, p string) error {
	if err := d.Delete(ctx, p); err != nil && !errors.Is(err, driver.ErrNotFound) {
		return err
	}
	return d.Mkdir(ctx, p)
}

// RequestRepeatCount is 1: local errors do not go away on their own.
func (d *Driver) RequestRepeatCount() int {
	return 1
}

var _ driver.Driver = (*Driver)(nil)
