package delta

import (
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
)

type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Change is one item of a delta. For deletions Item holds the last state
// that was observed.
type Change struct {
	driver.Item
	Kind ChangeKind `json:"kind"`
}

// Entry is what a snapshot remembers about an item.
type Entry struct {
	UpdatedTime time.Time `json:"updatedTime"`
	IsDirectory bool      `json:"isDirectory"`
}

// Context is the state carried from one Delta call to the next: the listing
// the next scan is compared to, and changes not yet handed out.
type Context struct {
	Snapshot map[string]Entry `json:"snapshot"`
	Pending  []Change         `json:"pending,omitempty"`
	// Cursor is only set when a native change feed is in use.
	Cursor driver.Cursor `json:"-"`
}

func (c *Context) clone() *Context {
	if c == nil {
		return &Context{Snapshot: map[string]Entry{}}
	}
	out := &Context{
		Snapshot: make(map[string]Entry, len(c.Snapshot)),
		Pending:  append([]Change(nil), c.Pending...),
		Cursor:   c.Cursor,
	}
	for k, v := range c.Snapshot {
		out.Snapshot[k] = v
	}
	return out
}

type Options struct {
	// Limit caps the changes returned by one call; 0 returns everything.
	Limit int
}

type Result struct {
	Changes []Change
	HasMore bool
	Context *Context
}
