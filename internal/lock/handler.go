package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/19Mahmoud19/joplin/internal/driver"
)

const (
	DefaultTTL = 30 * time.Second

	// lock objects fetched in parallel
	readConcurrency = 8
	releaseTimeout  = 10 * time.Second
)

// Handler manages the locks of one sync target.
type Handler struct {
	api *driver.FileAPI
	now func() time.Time

	afterWrite func()
}

type Option func(*Handler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(api *driver.FileAPI, opts ...Option) *Handler {
	h := &Handler{
		api: api,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func lockPath(name string) string {
	return Dir + "/" + name
}

// Locks returns every readable lock object, expired ones included, oldest first.
func (h *Handler) Locks(ctx context.Context) ([]Lock, error) {
	items, err := h.api.ListAll(ctx, Dir)
	if errors.Is(err, driver.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}

	var names []string
	for _, item := range items {
		if !item.IsDirectory && strings.HasSuffix(item.Path, fileExt) {
			names = append(names, item.Path)
		}
	}

	found := make([]*Lock, len(names))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(readConcurrency)
	for i, name := range names {
		eg.Go(func() error {
			l, err := h.read(egCtx, name)
			if err != nil {
				return err
			}
			found[i] = l
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	locks := make([]Lock, 0, len(found))
	for _, l := range found {
		if l != nil {
			locks = append(locks, *l)
		}
	}
	sort.Slice(locks, func(i, j int) bool { return precedes(locks[i], locks[j]) })
	return locks, nil
}

// read fetches one lock object. A lock that vanished or cannot be decoded is
// reported as nil.
func (h *Handler) read(ctx context.Context, name string) (*Lock, error) {
	content, err := h.api.Get(ctx, lockPath(name), driver.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("read lock %s: %w", name, err)
	}
	if content == nil {
		return nil, nil
	}

	var l Lock
	if err := json.Unmarshal(content.Data, &l); err != nil {
		slog.Warn("ignoring unreadable lock", "name", name, "error", err)
		return nil, nil
	}
	if l.Type != Shared && l.Type != Exclusive {
		slog.Warn("ignoring lock of unknown type", "name", name, "type", l.Type)
		return nil, nil
	}
	return &l, nil
}

// Acquire takes a lock of type t for the client, valid for ttl. It fails with a
// *ConflictError when another client holds an incompatible active lock, either
// before the write or right after it.
func (h *Handler) Acquire(ctx context.Context, t Type, clientType, clientID string, ttl time.Duration) (*Lock, error) {
	if t != Shared && t != Exclusive {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidLock, t)
	}
	if clientType == "" || clientID == "" {
		return nil, fmt.Errorf("%w: client type and id are required", ErrInvalidLock)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	existing, err := h.Locks(ctx)
	if err != nil {
		return nil, err
	}

	now := h.now()
	for _, held := range existing {
		if blocks(t, clientType, clientID, held, now) {
			return nil, &ConflictError{Want: t, Held: held}
		}
	}
	h.purge(ctx, existing, now)

	own := Lock{
		Type:       t,
		ClientType: clientType,
		ClientID:   clientID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := h.write(ctx, own); err != nil {
		return nil, err
	}
	if h.afterWrite != nil {
		h.afterWrite()
	}

	// another client may have written between the check and the write
	competitors, err := h.Locks(ctx)
	if err != nil {
		return nil, errors.Join(err, h.release(ctx, own.Name()))
	}
	now = h.now()
	for _, held := range competitors {
		if blocks(t, clientType, clientID, held, now) && precedes(held, own) {
			slog.Debug("lock lost after write", "lock", own.Name(), "held", held.Name())
			return nil, errors.Join(&ConflictError{Want: t, Held: held}, h.release(ctx, own.Name()))
		}
	}

	slog.Debug("lock acquired", "lock", own.Name(), "expires", own.ExpiresAt)
	return &own, nil
}

// Refresh extends a held lock by acquiring it again, so a lock that expired
// and was taken over meanwhile is reported as a conflict.
func (h *Handler) Refresh(ctx context.Context, l *Lock, ttl time.Duration) (*Lock, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: nil lock", ErrInvalidLock)
	}
	return h.Acquire(ctx, l.Type, l.ClientType, l.ClientID, ttl)
}

// Release deletes the lock object. Releasing an absent lock succeeds.
func (h *Handler) Release(ctx context.Context, t Type, clientType, clientID string) error {
	return h.release(ctx, FileName(t, clientType, clientID))
}

func (h *Handler) release(ctx context.Context, name string) error {
	err := h.api.Delete(ctx, lockPath(name))
	if err != nil && !errors.Is(err, driver.ErrNotFound) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	slog.Debug("lock released", "lock", name)
	return nil
}

// WithLock runs fn while holding the lock. The lock is released afterwards
// even when fn fails or ctx is cancelled.
func (h *Handler) WithLock(ctx context.Context, t Type, clientType, clientID string, ttl time.Duration, fn func(ctx context.Context, l *Lock) error) (err error) {
	l, err := h.Acquire(ctx, t, clientType, clientID, ttl)
	if err != nil {
		return err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := h.Release(relCtx, t, clientType, clientID); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx, l)
}

// PurgeExpired deletes every expired lock object and returns how many it removed.
func (h *Handler) PurgeExpired(ctx context.Context) (int, error) {
	locks, err := h.Locks(ctx)
	if err != nil {
		return 0, err
	}

	now := h.now()
	purged := 0
	var errs []error
	for _, l := range locks {
		if l.Active(now) {
			continue
		}
		if err := h.release(ctx, l.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

// purge removes expired locks without failing the caller.
func (h *Handler) purge(ctx context.Context, locks []Lock, now time.Time) {
	for _, l := range locks {
		if l.Active(now) {
			continue
		}
		if err := h.release(ctx, l.Name()); err != nil {
			slog.Warn("purge expired lock", "lock", l.Name(), "error", err)
		}
	}
}

func (h *Handler) write(ctx context.Context, l Lock) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lock %s: %w", l.Name(), err)
	}
	if err := h.api.Mkdir(ctx, Dir); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := h.api.Put(ctx, lockPath(l.Name()), data, driver.PutOptions{}); err != nil {
		return fmt.Errorf("write lock %s: %w", l.Name(), err)
	}
	return nil
}
