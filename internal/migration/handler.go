// Package migration upgrades the schema version of a sync target under an
// exclusive lock, one registered migration at a time.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/19Mahmoud19/joplin/internal/lock"
)

// LockPolicy controls the exclusive lock held during an upgrade. The TTL is
// sized for one step; with RefreshBetweenSteps the lock is taken again before
// every further step so a long sequence never outlives it.
type LockPolicy struct {
	TTL                 time.Duration
	RefreshBetweenSteps bool
}

func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		TTL:                 lock.DefaultTTL,
		RefreshBetweenSteps: true,
	}
}

type Handler struct {
	api        *driver.FileAPI
	locks      *lock.Handler
	clientType string
	clientID   string
	registry   Registry
	supported  int
	policy     LockPolicy
}

type Option func(*Handler)

func WithRegistry(r Registry) Option {
	return func(h *Handler) {
		h.registry = r
	}
}

// WithSupportedVersion overrides the version the client supports, which
// defaults to the latest version of the registry.
func WithSupportedVersion(v int) Option {
	return func(h *Handler) {
		h.supported = v
	}
}

func WithLockPolicy(p LockPolicy) Option {
	return func(h *Handler) {
		h.policy = p
	}
}

func NewHandler(api *driver.FileAPI, locks *lock.Handler, clientType, clientID string, opts ...Option) *Handler {
	h := &Handler{
		api:        api,
		locks:      locks,
		clientType: clientType,
		clientID:   clientID,
		registry:   Default(),
		policy:     DefaultLockPolicy(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.supported <= 0 {
		h.supported = h.registry.Latest()
	}
	if h.policy.TTL <= 0 {
		h.policy.TTL = lock.DefaultTTL
	}
	return h
}

func (h *Handler) SupportedVersion() int {
	return h.supported
}

func (h *Handler) Descriptor(ctx context.Context) (Descriptor, error) {
	return FetchDescriptor(ctx, h.api)
}

// CheckCanSync passes only when the target is exactly at the supported version.
func (h *Handler) CheckCanSync(ctx context.Context) error {
	d, err := FetchDescriptor(ctx, h.api)
	if err != nil {
		return err
	}
	if d.Version != h.supported {
		return &VersionError{Target: d.Version, Supported: h.supported}
	}
	return nil
}

// Result describes an upgrade run.
type Result struct {
	From    int
	To      int
	Applied []int
}

// Exec upgrades the target to the supported version. A lock conflict means
// another client is busy with the target and the call should be retried later.
// When a step fails the returned error matches ErrMigrationFailed and the
// descriptor is left at the last version that was fully applied.
func (h *Handler) Exec(ctx context.Context) (*Result, error) {
	d, err := FetchDescriptor(ctx, h.api)
	if err != nil {
		return nil, err
	}
	if d.Version > h.supported {
		return nil, &VersionError{Target: d.Version, Supported: h.supported}
	}

	res := &Result{From: d.Version, To: d.Version}
	err = h.locks.WithLock(ctx, lock.Exclusive, h.clientType, h.clientID, h.policy.TTL, func(ctx context.Context, l *lock.Lock) error {
		// another client may have upgraded the target while we waited for the lock
		d, err := FetchDescriptor(ctx, h.api)
		if err != nil {
			return err
		}
		if d.Version > h.supported {
			return &VersionError{Target: d.Version, Supported: h.supported}
		}
		res.From, res.To = d.Version, d.Version

		for v := d.Version + 1; v <= h.supported; v++ {
			m := h.registry.At(v)
			if m == nil {
				continue
			}

			if h.policy.RefreshBetweenSteps && len(res.Applied) > 0 {
				if l, err = h.locks.Refresh(ctx, l, h.policy.TTL); err != nil {
					return fmt.Errorf("refresh lock before version %d: %w", v, err)
				}
			}

			slog.Info("migration start", "version", v)
			if err := m.Exec(ctx, h.api); err != nil {
				return &MigrationError{Version: v, Err: err}
			}

			d = d.withVersion(v)
			if err := SaveDescriptor(ctx, h.api, d); err != nil {
				return &MigrationError{Version: v, Err: err}
			}
			res.Applied = append(res.Applied, v)
			res.To = v
			slog.Info("migration done", "version", v)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}
