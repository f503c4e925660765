package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedDriver serves a fixed listing in pages of two and can fail the first
// few calls with a given error.
type pagedDriver struct {
	items      []Item
	failures   int
	failWith   error
	calls      int
	lastPath   string
	repeatable int
}

func (d *pagedDriver) fail() error {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return d.failWith
	}
	return nil
}

func (d *pagedDriver) Capabilities() Capabilities { return testCaps }
func (d *pagedDriver) Initialize(ctx context.Context, basePath string) error {
	return EnsureBasePath(ctx, basePath, d.Mkdir)
}
func (d *pagedDriver) Stat(_ context.Context, p string) (*Item, error) {
	d.lastPath = p
	if err := d.fail(); err != nil {
		return nil, err
	}
	return &Item{Path: p, UpdatedTime: time.UnixMilli(1000)}, nil
}
func (d *pagedDriver) List(_ context.Context, p string, opts ListOptions) (*ListResult, error) {
	d.lastPath = p
	if err := d.fail(); err != nil {
		return nil, err
	}
	cur, err := CursorAs[ServerCursor](opts.Context)
	if err != nil {
		return nil, err
	}
	start := len(cur.Token)
	end := min(start+2, len(d.items))
	res := &ListResult{Items: d.items[start:end], HasMore: end < len(d.items)}
	if res.HasMore {
		res.Context = ServerCursor{Token: cur.Token + "xx"}
	}
	return res, nil
}
func (d *pagedDriver) Get(context.Context, string, GetOptions) (*Content, error) { return nil, d.fail() }
func (d *pagedDriver) Put(context.Context, string, []byte, PutOptions) error     { return d.fail() }
func (d *pagedDriver) Mkdir(_ context.Context, p string) error {
	d.lastPath = p
	return d.fail()
}
func (d *pagedDriver) Delete(context.Context, string) error    { return d.fail() }
func (d *pagedDriver) ClearRoot(context.Context, string) error { return d.fail() }
func (d *pagedDriver) RequestRepeatCount() int                 { return d.repeatable }

func TestFileAPI_ListAllPaginates(t *testing.T) {
	d := &pagedDriver{repeatable: 1}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		d.items = append(d.items, Item{Path: name})
	}
	api := NewFileAPI(d, "root:/Apps/Joplin")

	items, err := api.ListAll(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, 3, d.calls)
	assert.Equal(t, "root:/Apps/Joplin", d.lastPath)
}

func TestFileAPI_StatUsesRelativePath(t *testing.T) {
	d := &pagedDriver{repeatable: 1}
	api := NewFileAPI(d, "root:/Apps/Joplin")

	item, err := api.Stat(context.Background(), "info.json")
	require.NoError(t, err)
	assert.Equal(t, "root:/Apps/Joplin/info.json", d.lastPath)
	assert.Equal(t, "info.json", item.Path)
}

func TestFileAPI_RetriesTransientErrors(t *testing.T) {
	d := &pagedDriver{
		repeatable: 3,
		failures:   2,
		failWith:   &TransportError{Op: "GET", Code: 502},
	}
	api := NewFileAPI(d, "root", WithRetryDelay(time.Millisecond))

	_, err := api.Stat(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 3, d.calls)
}

func TestFileAPI_StopsAtRepeatCount(t *testing.T) {
	d := &pagedDriver{
		repeatable: 3,
		failures:   10,
		failWith:   &TransportError{Op: "PUT", Code: 0, Err: errors.New("connection reset")},
	}
	api := NewFileAPI(d, "root", WithRetryDelay(time.Millisecond))

	err := api.Put(context.Background(), "x", []byte("y"), PutOptions{})
	require.Error(t, err)
	assert.Equal(t, 3, d.calls)
}

func TestFileAPI_DoesNotRetryPermanentErrors(t *testing.T) {
	d := &pagedDriver{
		repeatable: 3,
		failures:   1,
		failWith:   &TransportError{Op: "DELETE", Code: 403},
	}
	api := NewFileAPI(d, "root", WithRetryDelay(time.Millisecond))

	err := api.Delete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 1, d.calls)
}

func TestFileAPI_Initialize(t *testing.T) {
	d := &pagedDriver{repeatable: 1}
	api := NewFileAPI(d, "root:/Apps/Joplin")

	require.NoError(t, api.Initialize(context.Background()))
	assert.Equal(t, 2, d.calls)
	assert.Equal(t, "root:/Apps/Joplin", d.lastPath)
}
