package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recorder) run(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *recorder) count(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.reasons {
		if got == reason {
			n++
		}
	}
	return n
}

func TestRun_NeedsSomethingToWatch(t *testing.T) {
	err := New(WithInterval(0)).Run(context.Background(), (&recorder{}).run)
	assert.Error(t, err)
}

func TestRun_Polls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- New(WithInterval(10*time.Millisecond)).Run(ctx, rec.run) }()

	require.Eventually(t, func() bool { return rec.count(ReasonPoll) >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, rec.count(ReasonStart))
}

func TestRun_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := New(WithInterval(time.Millisecond)).Run(context.Background(), func(ctx context.Context, reason string) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestRun_FilesystemEvents(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	w := New(
		WithDir(dir),
		WithInterval(0),
		WithDebounce(20*time.Millisecond),
		WithFilter(func(path string) bool { return strings.HasSuffix(path, ".tmp") }),
	)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, rec.run) }()

	require.Eventually(t, func() bool { return rec.count(ReasonStart) == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.tmp"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count(ReasonChange))

	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte(strings.Repeat("a", i+1)), 0o644))
	}
	require.Eventually(t, func() bool { return rec.count(ReasonChange) >= 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, rec.count(ReasonPoll))
}
