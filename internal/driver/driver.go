// Package driver defines the storage abstraction every sync target backend
// implements, and FileAPI, the base-path aware view the engines work with.
package driver

import (
	"context"
	"time"
)

// Driver is a backend adapter over a remote namespace addressed by
// `SPECIAL_DIR:/sub/path` paths.
//
// Stat and Get report a missing object as nil with a nil error. Mkdir treats an
// existing directory as success. All other failures propagate unchanged.
type Driver interface {
	Capabilities() Capabilities

	// Initialize creates every missing directory of basePath, one level at a time.
	Initialize(ctx context.Context, basePath string) error

	Stat(ctx context.Context, path string) (*Item, error)

	// List returns the immediate children of path, one page at a time.
	List(ctx context.Context, path string, opts ListOptions) (*ListResult, error)

	Get(ctx context.Context, path string, opts GetOptions) (*Content, error)

	// Put overwrites the full content of path.
	Put(ctx context.Context, path string, data []byte, opts PutOptions) error

	Mkdir(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error

	// ClearRoot deletes path and recreates it empty.
	ClearRoot(ctx context.Context, path string) error

	// RequestRepeatCount is the number of attempts that are safe for a
	// request that failed with a transient error.
	RequestRepeatCount() int
}

// DeltaSource is implemented by backends with a native change feed. The delta
// engine only uses it when Capabilities.SupportsNativeDelta is set.
//
// No driver in this module implements it yet: fsdriver, s3driver and
// serverdriver leave SupportsNativeDelta unset and are diffed from full
// listings.
type DeltaSource interface {
	Delta(ctx context.Context, path string, cursor Cursor) (*DeltaPage, error)
}

// Capabilities describes backend quirks so callers never branch on a backend name.
type Capabilities struct {
	Name                string
	SupportsNativeDelta bool
	// SpecialRoots lists the names accepted before the colon of a path.
	SpecialRoots []string
}

func (c Capabilities) HasSpecialRoot(name string) bool {
	for _, r := range c.SpecialRoots {
		if r == name {
			return true
		}
	}
	return false
}

// Item is a remote file or directory. Path is the name relative to the
// listed directory for List results, and the requested path for Stat.
type Item struct {
	Path        string    `json:"path"`
	UpdatedTime time.Time `json:"updatedTime"`
	IsDirectory bool      `json:"isDirectory"`
}

type ListOptions struct {
	// Context continues a previous page. Nil starts at the beginning.
	Context Cursor
	// PageSize is a hint; backends without paging ignore it.
	PageSize int
}

type ListResult struct {
	Items   []Item
	HasMore bool
	Context Cursor
}

// DeltaPage is a page of a native change feed.
type DeltaPage struct {
	Items   []DeltaItem
	HasMore bool
	Context Cursor
}

type DeltaItem struct {
	Item
	IsDeleted bool
}

type ResponseFormat int

const (
	FormatText ResponseFormat = iota
	FormatBinary
)

func (f ResponseFormat) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "text"
}

type GetOptions struct {
	Format ResponseFormat
	// Target, when set, receives the content as a local file.
	Target string
}

type PutOptions struct {
	// Source, when set, is a local file uploaded instead of the data argument.
	Source string
}

type Content struct {
	Data   []byte
	Format ResponseFormat
}

func (c *Content) String() string {
	if c == nil {
		return ""
	}
	return string(c.Data)
}
