package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/19Mahmoud19/joplin/internal/driver/fsdriver"
	"github.com/19Mahmoud19/joplin/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	api   *driver.FileAPI
	locks *lock.Handler
	clock *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	api := driver.NewFileAPI(fsdriver.NewMemory(), "root:/Apps/Joplin")
	require.NoError(t, api.Initialize(context.Background()))
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &env{api: api, locks: lock.NewHandler(api, lock.WithClock(c.Now)), clock: c}
}

func (e *env) handler(clientID string, opts ...Option) *Handler {
	return NewHandler(e.api, e.locks, "desktop", clientID, opts...)
}

func (e *env) setVersion(t *testing.T, v int) {
	t.Helper()
	require.NoError(t, SaveDescriptor(context.Background(), e.api, Descriptor{Version: v}))
}

func (e *env) version(t *testing.T) int {
	t.Helper()
	d, err := FetchDescriptor(context.Background(), e.api)
	require.NoError(t, err)
	return d.Version
}

func (e *env) assertNoLocks(t *testing.T) {
	t.Helper()
	locks, err := e.locks.Locks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func recording(order *[]int, v int, err error) Func {
	return func(context.Context, *driver.FileAPI) error {
		*order = append(*order, v)
		return err
	}
}

func sparseRegistry(t *testing.T, steps map[int]Migration) Registry {
	t.Helper()
	r := NewRegistry(1)
	for v, m := range steps {
		var err error
		r, err = r.Register(v, m)
		require.NoError(t, err)
	}
	return r
}

func TestExec_AppliesMigrationsInOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var order []int
	r := sparseRegistry(t, map[int]Migration{
		3: recording(&order, 3, nil),
		5: recording(&order, 5, nil),
	})

	res, err := e.handler("c1", WithRegistry(r)).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, order)
	assert.Equal(t, &Result{From: 1, To: 5, Applied: []int{3, 5}}, res)
	assert.Equal(t, 5, e.version(t))
	e.assertNoLocks(t)

	// nothing left to do
	res, err = e.handler("c1", WithRegistry(r)).Exec(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, []int{3, 5}, order)
}

func TestExec_FailureKeepsLastAppliedVersion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	boom := errors.New("boom")
	var order []int
	r := sparseRegistry(t, map[int]Migration{
		3: recording(&order, 3, nil),
		5: recording(&order, 5, boom),
	})

	res, err := e.handler("c1", WithRegistry(r)).Exec(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.ErrorIs(t, err, boom)
	var me *MigrationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 5, me.Version)
	assert.Equal(t, []int{3}, res.Applied)

	assert.Equal(t, 3, e.version(t))
	e.assertNoLocks(t)

	// a rerun resumes at the failed step
	order = nil
	r[5] = recording(&order, 5, nil)
	_, err = e.handler("c1", WithRegistry(r)).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, order)
	assert.Equal(t, 5, e.version(t))
}

func TestExec_TargetTooNew(t *testing.T) {
	e := newEnv(t)
	e.setVersion(t, 4)

	_, err := e.handler("c1").Exec(context.Background())
	assert.ErrorIs(t, err, ErrTargetTooNew)
	e.assertNoLocks(t)
}

func TestExec_LockConflict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.locks.Acquire(ctx, lock.Shared, "mobile", "c2", time.Minute)
	require.NoError(t, err)

	_, err = e.handler("c1").Exec(ctx)
	assert.ErrorIs(t, err, lock.ErrLockConflict)
	assert.Equal(t, 1, e.version(t))
}

func TestCheckCanSync(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	h := e.handler("c1", WithSupportedVersion(2))

	err := h.CheckCanSync(ctx)
	assert.ErrorIs(t, err, ErrTargetTooOld)
	assert.NotErrorIs(t, err, ErrTargetTooNew)

	e.setVersion(t, 2)
	assert.NoError(t, h.CheckCanSync(ctx))

	e.setVersion(t, 3)
	err = h.CheckCanSync(ctx)
	assert.ErrorIs(t, err, ErrTargetTooNew)
	var ve *VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, VersionError{Target: 3, Supported: 2}, *ve)
}

func TestExec_RefreshesLockBetweenSteps(t *testing.T) {
	for _, refresh := range []bool{true, false} {
		t.Run(map[bool]string{true: "refresh", false: "no refresh"}[refresh], func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)

			var competitorErr error
			slow := func(context.Context, *driver.FileAPI) error {
				e.clock.Advance(25 * time.Second)
				return nil
			}
			contend := func(ctx context.Context, _ *driver.FileAPI) error {
				e.clock.Advance(25 * time.Second)
				_, competitorErr = e.locks.Acquire(ctx, lock.Exclusive, "mobile", "c2", time.Minute)
				return nil
			}
			r := sparseRegistry(t, map[int]Migration{2: Func(slow), 3: Func(contend)})

			policy := LockPolicy{TTL: 30 * time.Second, RefreshBetweenSteps: refresh}
			_, err := e.handler("c1", WithRegistry(r), WithLockPolicy(policy)).Exec(ctx)
			require.NoError(t, err)

			if refresh {
				assert.ErrorIs(t, competitorErr, lock.ErrLockConflict)
			} else {
				assert.NoError(t, competitorErr, "lock expired during the run")
			}
		})
	}
}

func TestEndToEnd_FreshTarget(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	d, err := e.handler("c1").Descriptor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)

	var concurrentErr error
	r := Default()
	v2 := r[2]
	r[2] = Func(func(ctx context.Context, api *driver.FileAPI) error {
		_, concurrentErr = e.handler("c2").Exec(ctx)
		return v2.Exec(ctx, api)
	})

	h := e.handler("c1", WithRegistry(r))
	assert.Equal(t, 2, h.SupportedVersion())

	res, err := h.Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Applied)
	assert.ErrorIs(t, concurrentErr, lock.ErrLockConflict)

	content, err := e.api.Get(ctx, DescriptorPath, driver.GetOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, content.String())

	for _, dir := range []string{"locks", "temp", ".resource"} {
		item, err := e.api.Stat(ctx, dir)
		require.NoError(t, err)
		require.NotNil(t, item, dir)
		assert.True(t, item.IsDirectory, dir)
	}
	e.assertNoLocks(t)
	assert.NoError(t, h.CheckCanSync(ctx))
}
