// Package session wires one sync target: the driver, the base-path bound
// file API, the lock handler, the migration handler and the delta engine.
// Nothing here is global, so any number of sessions can coexist in a process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/19Mahmoud19/joplin/internal/config"
	"github.com/19Mahmoud19/joplin/internal/delta"
	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/19Mahmoud19/joplin/internal/driver/fsdriver"
	"github.com/19Mahmoud19/joplin/internal/lock"
	"github.com/19Mahmoud19/joplin/internal/migration"
	"github.com/19Mahmoud19/joplin/internal/utils"
	"github.com/19Mahmoud19/joplin/internal/watch"
)

const lockFile = "joplinsync.lock"

var ErrProfileLocked = errors.New("profile locked by another process")

type Session struct {
	Config     *config.Config
	ClientID   string
	Driver     driver.Driver
	API        *driver.FileAPI
	Locks      *lock.Handler
	Migrations *migration.Handler
	Delta      *delta.Engine
	Store      *delta.Store

	flock *flock.Flock
}

type options struct {
	driver   driver.Driver
	registry migration.Registry
	now      func() time.Time
}

type Option func(*options)

// WithDriver uses d instead of building a driver from the target config.
func WithDriver(d driver.Driver) Option {
	return func(o *options) {
		o.driver = d
	}
}

func WithRegistry(r migration.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithClock replaces the clock of the lock handler.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Open validates cfg, locks the profile directory and builds the session.
// The base directory of the target is created when missing.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Session, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &options{registry: migration.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	if err := utils.EnsureDir(cfg.ProfileDir); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	fl := flock.New(filepath.Join(cfg.ProfileDir, lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock profile: %w", err)
	}
	if !locked {
		return nil, ErrProfileLocked
	}

	sess := &Session{Config: cfg, flock: fl}
	defer func() {
		if err != nil {
			err = errors.Join(err, sess.Close())
		}
	}()

	if sess.ClientID = cfg.ClientID; sess.ClientID == "" {
		if sess.ClientID, err = resolveClientID(cfg.ProfileDir); err != nil {
			return nil, err
		}
	}

	if sess.Driver = o.driver; sess.Driver == nil {
		if sess.Driver, err = NewDriver(ctx, &cfg.Target); err != nil {
			return nil, err
		}
	}

	sess.API = driver.NewFileAPI(sess.Driver, cfg.Target.BasePath, driver.WithRetryDelay(cfg.Target.RetryDelay))
	if err := sess.API.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", cfg.Target.BasePath, err)
	}

	sess.Locks = lock.NewHandler(sess.API, lock.WithClock(o.now))
	sess.Migrations = migration.NewHandler(sess.API, sess.Locks, cfg.ClientType, sess.ClientID,
		migration.WithRegistry(o.registry),
		migration.WithSupportedVersion(cfg.SyncVersion),
		migration.WithLockPolicy(migration.LockPolicy{
			TTL:                 cfg.Lock.TTL,
			RefreshBetweenSteps: cfg.Lock.RefreshBetweenSteps,
		}),
	)
	sess.Delta = delta.NewEngine(sess.API, delta.WithIgnore(delta.NewIgnoreList(cfg.Delta.Ignore...)))

	sess.Store = delta.NewStore(cfg.StatePath())
	if err := sess.Store.Open(); err != nil {
		sess.Store = nil
		return nil, err
	}

	attrs := []any{
		"target", sess.Driver.Capabilities().Name,
		"base", cfg.Target.BasePath,
		"client", cfg.ClientType,
		"clientId", sess.ClientID,
		"syncVersion", sess.Migrations.SupportedVersion(),
	}
	if cfg.Target.Type == config.TargetServer {
		attrs = append(attrs, "url", cfg.Target.Server.BaseURL, "session", utils.MaskSecret(cfg.Target.Server.SessionID))
	}
	slog.Info("session open", attrs...)
	return sess, nil
}

// Close releases the delta store and the profile lock.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
		s.Store = nil
	}
	if s.flock != nil && s.flock.Locked() {
		if err := s.flock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock profile: %w", err))
		} else if err := os.Remove(s.flock.Path()); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// scope keys the persisted delta context of a directory of this target.
func (s *Session) scope(path string) string {
	return fmt.Sprintf("%s|%s", s.Driver.Capabilities().Name, s.API.FullPath(path))
}

// SyncDelta runs the delta engine on path, continuing from the persisted
// context. The new context is only saved when the call succeeds.
func (s *Session) SyncDelta(ctx context.Context, path string) (*delta.Result, error) {
	if err := s.Migrations.CheckCanSync(ctx); err != nil {
		return nil, err
	}

	scope := s.scope(path)
	prev, err := s.Store.Load(ctx, scope)
	if err != nil {
		return nil, err
	}

	res, err := s.Delta.Delta(ctx, path, prev, delta.Options{Limit: s.Config.Delta.PageLimit})
	if err != nil {
		return nil, err
	}
	if err := s.Store.Save(ctx, scope, res.Context); err != nil {
		return nil, err
	}
	return res, nil
}

// ResetDelta forgets the persisted context of path.
func (s *Session) ResetDelta(ctx context.Context, path string) error {
	return s.Store.Reset(ctx, s.scope(path))
}

// Watch runs SyncDelta on path at start, every interval and, for a target on
// the local filesystem, whenever one of its entries changes. Each page of
// changes is handed to fn. Transport failures are logged and retried on the
// next trigger; a sync version mismatch or an error from fn stops the watch.
func (s *Session) Watch(ctx context.Context, path string, interval time.Duration, fn func(*delta.Result) error) error {
	opts := []watch.Option{watch.WithInterval(interval)}
	if fd, ok := s.Driver.(*fsdriver.Driver); ok {
		if dir, ok := fd.OSPath(s.API.FullPath(path)); ok {
			ignore := s.Delta.IgnoreList()
			opts = append(opts,
				watch.WithDir(dir),
				watch.WithFilter(func(p string) bool {
					rel := pathpkg.Join(path, filepath.Base(p))
					return ignore.ShouldIgnore(rel, false) || ignore.ShouldIgnore(rel, true)
				}),
			)
		}
	}

	return watch.New(opts...).Run(ctx, func(ctx context.Context, reason string) error {
		for {
			res, err := s.SyncDelta(ctx, path)
			switch {
			case err == nil:
			case errors.Is(err, migration.ErrTargetTooNew), errors.Is(err, migration.ErrTargetTooOld):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				slog.Warn("delta failed", "path", path, "reason", reason, "error", err)
				return nil
			}

			if err := fn(res); err != nil {
				return err
			}
			if !res.HasMore {
				return nil
			}
		}
	})
}
