// Package delta computes the changes of a sync target directory between two
// scans, either by diffing full listings or through a backend change feed.
// The bundled drivers have no change feed, so in practice every delta is a
// listing diff; driver.DeltaSource is the hook for a backend that has one.
package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	pathpkg "path"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/19Mahmoud19/joplin/internal/driver"
)

// Engine produces deltas for directories of one sync target.
type Engine struct {
	api    *driver.FileAPI
	ignore *IgnoreList
}

type EngineOption func(*Engine)

// WithIgnore replaces the default ignore list.
func WithIgnore(l *IgnoreList) EngineOption {
	return func(e *Engine) {
		e.ignore = l
	}
}

func NewEngine(api *driver.FileAPI, opts ...EngineOption) *Engine {
	e := &Engine{
		api:    api,
		ignore: NewIgnoreList(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) IgnoreList() *IgnoreList {
	return e.ignore
}

// Delta returns the changes of path since prev. A nil prev reports every
// item as added. On error prev is left untouched and no partial result is
// returned, so the caller can retry with the same context.
func (e *Engine) Delta(ctx context.Context, path string, prev *Context, opts Options) (*Result, error) {
	if opts.Limit < 0 {
		return nil, fmt.Errorf("delta: negative limit %d", opts.Limit)
	}

	next := prev.clone()

	// changes of an earlier scan are handed out before the target is listed again
	if len(next.Pending) > 0 {
		return e.page(next, nil, opts), nil
	}

	var (
		changes []Change
		hasMore bool
		err     error
	)
	if src, ok := e.nativeSource(); ok {
		changes, hasMore, err = e.nativeDelta(ctx, src, path, next)
	} else {
		changes, err = e.listDelta(ctx, path, next)
	}
	if err != nil {
		return nil, err
	}

	res := e.page(next, changes, opts)
	res.HasMore = res.HasMore || hasMore
	slog.Debug("delta", "path", path, "changes", len(res.Changes), "pending", len(next.Pending), "hasMore", res.HasMore)
	return res, nil
}

func (e *Engine) nativeSource() (driver.DeltaSource, bool) {
	d := e.api.Driver()
	if !d.Capabilities().SupportsNativeDelta {
		return nil, false
	}
	src, ok := d.(driver.DeltaSource)
	return src, ok
}

// page hands out at most opts.Limit changes and parks the rest in next.Pending.
func (e *Engine) page(next *Context, changes []Change, opts Options) *Result {
	queue := append(next.Pending, changes...)
	n := len(queue)
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}

	next.Pending = append([]Change(nil), queue[n:]...)
	return &Result{
		Changes: queue[:n:n],
		HasMore: len(next.Pending) > 0,
		Context: next,
	}
}

func (e *Engine) listDelta(ctx context.Context, path string, next *Context) ([]Change, error) {
	items, err := e.api.ListAll(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("delta %s: %w", path, err)
	}

	snapshot := make(map[string]Entry, len(items))
	seen := mapset.NewThreadUnsafeSet[string]()
	var changes []Change

	for _, item := range items {
		if e.ignored(path, item) {
			continue
		}
		seen.Add(item.Path)
		snapshot[item.Path] = Entry{UpdatedTime: item.UpdatedTime, IsDirectory: item.IsDirectory}

		old, known := next.Snapshot[item.Path]
		switch {
		case !known:
			changes = append(changes, Change{Item: item, Kind: Added})
		case item.UpdatedTime.After(old.UpdatedTime):
			changes = append(changes, Change{Item: item, Kind: Updated})
		}
	}

	before := mapset.NewThreadUnsafeSetFromMapKeys(next.Snapshot)
	for _, p := range before.Difference(seen).ToSlice() {
		old := next.Snapshot[p]
		changes = append(changes, Change{
			Item: driver.Item{Path: p, UpdatedTime: old.UpdatedTime, IsDirectory: old.IsDirectory},
			Kind: Deleted,
		})
	}

	sortChanges(changes)
	next.Snapshot = snapshot
	return changes, nil
}

func (e *Engine) nativeDelta(ctx context.Context, src driver.DeltaSource, path string, next *Context) ([]Change, bool, error) {
	page, err := src.Delta(ctx, e.api.FullPath(path), next.Cursor)
	if err != nil {
		if errors.Is(err, driver.ErrInvalidCursor) {
			slog.Warn("delta cursor rejected", "path", path, "error", err)
		}
		return nil, false, fmt.Errorf("delta %s: %w", path, err)
	}

	var changes []Change
	for _, di := range page.Items {
		if e.ignored(path, di.Item) {
			continue
		}
		old, known := next.Snapshot[di.Path]
		switch {
		case di.IsDeleted:
			if !known {
				continue
			}
			delete(next.Snapshot, di.Path)
			changes = append(changes, Change{
				Item: driver.Item{Path: di.Path, UpdatedTime: old.UpdatedTime, IsDirectory: old.IsDirectory},
				Kind: Deleted,
			})
		case !known:
			next.Snapshot[di.Path] = Entry{UpdatedTime: di.UpdatedTime, IsDirectory: di.IsDirectory}
			changes = append(changes, Change{Item: di.Item, Kind: Added})
		case di.UpdatedTime.After(old.UpdatedTime):
			next.Snapshot[di.Path] = Entry{UpdatedTime: di.UpdatedTime, IsDirectory: di.IsDirectory}
			changes = append(changes, Change{Item: di.Item, Kind: Updated})
		}
	}

	next.Cursor = page.Context
	return changes, page.HasMore, nil
}

// ignored matches a child of dir against the ignore list by its path from
// the base directory, so reserved names only apply at the top.
func (e *Engine) ignored(dir string, item driver.Item) bool {
	return e.ignore.ShouldIgnore(pathpkg.Join(dir, item.Path), item.IsDirectory)
}

func sortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Kind != changes[j].Kind {
			return changes[i].Kind < changes[j].Kind
		}
		return changes[i].Path < changes[j].Path
	})
}
