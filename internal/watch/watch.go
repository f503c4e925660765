// Package watch decides when a directory of the sync target should be
// diffed again: on a timer for every target, and on filesystem events when
// the target is a local directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultInterval        = 30 * time.Second
	defaultDebounceTimeout = 200 * time.Millisecond
	eventBufferSize        = 64
)

// Reasons passed to the run callback.
const (
	ReasonStart  = "start"
	ReasonPoll   = "poll"
	ReasonChange = "change"
)

// FilterCallback returns true if an event on path should not trigger a run.
type FilterCallback func(path string) bool

// RunFunc is called for every trigger. Returning an error stops the watcher.
type RunFunc func(ctx context.Context, reason string) error

type Watcher struct {
	dir      string
	interval time.Duration
	debounce time.Duration
	filter   FilterCallback
}

type Option func(*Watcher)

// WithDir watches the immediate children of a local directory.
func WithDir(dir string) Option {
	return func(w *Watcher) {
		w.dir = dir
	}
}

// WithInterval sets the poll interval. Zero or less disables polling.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.interval = d
	}
}

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

func WithFilter(fn FilterCallback) Option {
	return func(w *Watcher) {
		w.filter = fn
	}
}

func New(opts ...Option) *Watcher {
	w := &Watcher{
		interval: DefaultInterval,
		debounce: defaultDebounceTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run calls fn once, then again after every poll interval and after every
// burst of filesystem events, until ctx is done or fn fails. Triggers that
// arrive while fn runs are coalesced into one follow-up run.
func (w *Watcher) Run(ctx context.Context, fn RunFunc) error {
	if w.interval <= 0 && w.dir == "" {
		return errors.New("watch: nothing to watch, set a directory or a poll interval")
	}

	var changes <-chan struct{}
	if w.dir != "" {
		events := make(chan notify.EventInfo, eventBufferSize)
		if err := notify.Watch(w.dir, events, notify.All); err != nil {
			return fmt.Errorf("watch %s: %w", w.dir, err)
		}
		defer notify.Stop(events)
		slog.Info("watch start", "dir", w.dir, "interval", w.interval)
		changes = w.debounceEvents(ctx, events)
	} else {
		slog.Info("watch start", "interval", w.interval)
	}
	defer slog.Info("watch stop")

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if err := fn(ctx, ReasonStart); err != nil {
		return err
	}

	for {
		var reason string
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			reason = ReasonPoll
		case <-changes:
			reason = ReasonChange
		}
		if err := fn(ctx, reason); err != nil {
			return err
		}
	}
}

// debounceEvents turns a burst of raw events into a single signal once no
// event arrived for the debounce timeout.
func (w *Watcher) debounceEvents(ctx context.Context, events <-chan notify.EventInfo) <-chan struct{} {
	out := make(chan struct{}, 1)

	go func() {
		timer := time.NewTimer(w.debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if w.filter != nil && w.filter(ev.Path()) {
					continue
				}
				slog.Debug("watch event", "event", ev.Event(), "path", ev.Path())
				timer.Reset(w.debounce)
			case <-timer.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}
