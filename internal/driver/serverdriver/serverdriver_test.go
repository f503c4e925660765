package serverdriver

import (
	"context"
	"testing"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) (*Driver, *fakeServer) {
	t.Helper()
	srv := newFakeServer(t)
	client, err := NewClient(&ClientConfig{BaseURL: srv.URL(), SessionID: testSessionID, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return New(client), srv
}

func TestAPIFilePath(t *testing.T) {
	tests := map[string]string{
		"root":                       "api/files/root",
		"root:/":                     "api/files/root",
		"root:/info.json":            "api/files/root:/info.json:",
		"root:/Apps/Joplin/locks":    "api/files/root:/Apps/Joplin/locks:",
		"root:/Apps/My Notes/a b.md": "api/files/root:/Apps/My%20Notes/a%20b.md:",
	}
	for in, want := range tests {
		got, err := apiFilePath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := apiFilePath("appfolder:/x")
	assert.ErrorIs(t, err, driver.ErrInvalidPath)
}

func TestDriver_PutStatGetDelete(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDriver(t)

	item, err := d.Stat(ctx, "root:/info.json")
	require.NoError(t, err)
	assert.Nil(t, item)

	require.NoError(t, d.Put(ctx, "root:/info.json", []byte(`{"version":1}`), driver.PutOptions{}))
	require.NoError(t, d.Put(ctx, "root:/info.json", []byte(`{"version":2}`), driver.PutOptions{}))

	item, err = d.Stat(ctx, "root:/info.json")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "root:/info.json", item.Path)
	assert.False(t, item.IsDirectory)
	assert.False(t, item.UpdatedTime.IsZero())

	content, err := d.Get(ctx, "root:/info.json", driver.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, content.String())

	require.NoError(t, d.Delete(ctx, "root:/info.json"))

	item, err = d.Stat(ctx, "root:/info.json")
	require.NoError(t, err)
	assert.Nil(t, item)

	content, err = d.Get(ctx, "root:/info.json", driver.GetOptions{Format: driver.FormatBinary})
	require.NoError(t, err)
	assert.Nil(t, content)

	assert.ErrorIs(t, d.Delete(ctx, "root:/info.json"), driver.ErrNotFound)
}

func TestDriver_MkdirSwallowsConflict(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)

	require.NoError(t, d.Mkdir(ctx, "root:/Apps"))
	require.NoError(t, d.Mkdir(ctx, "root:/Apps"))
	assert.Contains(t, srv.requests, "POST /root/children")

	item, err := d.Stat(ctx, "root:/Apps")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.True(t, item.IsDirectory)

	// a missing parent is a real error
	err = d.Mkdir(ctx, "root:/missing/child")
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestDriver_InitializeAndListPages(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDriver(t)

	require.NoError(t, d.Initialize(ctx, "root:/Apps/Joplin"))
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		require.NoError(t, d.Put(ctx, "root:/Apps/Joplin/"+name, []byte(name), driver.PutOptions{}))
	}
	require.NoError(t, d.Mkdir(ctx, "root:/Apps/Joplin/locks"))

	res, err := d.List(ctx, "root:/Apps/Joplin", driver.ListOptions{PageSize: 3})
	require.NoError(t, err)
	assert.True(t, res.HasMore)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "a.md", res.Items[0].Path)

	res, err = d.List(ctx, "root:/Apps/Joplin", driver.ListOptions{PageSize: 3, Context: res.Context})
	require.NoError(t, err)
	assert.False(t, res.HasMore)
	assert.Nil(t, res.Context)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "locks", res.Items[0].Path)
	assert.True(t, res.Items[0].IsDirectory)

	_, err = d.List(ctx, "root:/Apps/Joplin", driver.ListOptions{Context: driver.S3Cursor{}})
	assert.ErrorIs(t, err, driver.ErrInvalidCursor)
}

func TestDriver_ThroughFileAPIRetries(t *testing.T) {
	ctx := context.Background()
	d, srv := newTestDriver(t)
	api := driver.NewFileAPI(d, "root", driver.WithRetryDelay(time.Millisecond))

	srv.failRequests(2, 503)
	require.NoError(t, api.Put(ctx, "info.json", []byte(`{"version":1}`), driver.PutOptions{}))

	srv.failRequests(3, 503)
	_, err := api.Stat(ctx, "info.json")
	var te *driver.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.Code)
	assert.Equal(t, "try again", te.Message)
}

func TestDriver_RejectsBadSession(t *testing.T) {
	srv := newFakeServer(t)
	client, err := NewClient(&ClientConfig{BaseURL: srv.URL(), SessionID: "wrong"})
	require.NoError(t, err)

	_, err = New(client).Stat(context.Background(), "root:/info.json")
	var te *driver.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 403, te.Code)
	assert.False(t, driver.IsTransient(err))
}

func TestClientConfig_Validate(t *testing.T) {
	_, err := NewClient(&ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{BaseURL: "http://localhost", RateLimit: "ten per second"})
	assert.ErrorContains(t, err, "invalid rate limit")
}

func TestClient_RateLimit(t *testing.T) {
	srv := newFakeServer(t)
	client, err := NewClient(&ClientConfig{BaseURL: srv.URL(), SessionID: testSessionID, RateLimit: "2-H"})
	require.NoError(t, err)
	d := New(client)

	for range 2 {
		_, err := d.Stat(context.Background(), "root:/info.json")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.Stat(ctx, "root:/info.json")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Len(t, srv.requests, 2)
}
