package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/poll"
	"github.com/jpalmerr/poll/dashboard"
	"github.com/jpalmerr/poll/internal/fetch"
	"github.com/jpalmerr/poll/internal/server"
	"github.com/jpalmerr/poll/internal/store"
)

const defaultPort = 8080

// Change is passed to callbacks registered with [WithChangeCallback].
type Change struct {
	Target Target
	State  poll.State[Reading]
}

// Runner watches a set of targets, one [poll.Controller] each, and serves
// their state over HTTP.
//
//	r, err := watch.New(watch.WithTargets(targets...), watch.WithPort(9090))
//	if err != nil {
//	    return err
//	}
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	return r.Start(ctx) // blocks until ctx is cancelled
type Runner struct {
	title        string
	targets      []Target
	interval     time.Duration
	port         int
	logger       *slog.Logger
	clock        clockwork.Clock
	callbacks    []func(Change)
	triggerRate  rate.Limit
	triggerBurst int
	immediate    bool

	mu          sync.RWMutex
	controllers map[string]*poll.Controller[Reading]
	srv         *server.Server
}

// New creates a [Runner].
//
// At least one target is required and names must be unique. Defaults:
//   - interval: [poll.DefaultInterval]
//   - port: 8080
//   - manual refreshes: 1 per second per watch, burst 3
//   - immediate probe on start: on
func New(opts ...Option) (*Runner, error) {
	cfg := &runnerConfig{
		interval:  poll.DefaultInterval,
		port:      defaultPort,
		immediate: true,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	seen := make(map[string]bool, len(cfg.targets))
	for _, t := range cfg.targets {
		if seen[t.name] {
			return nil, fmt.Errorf("duplicate target name: %q", t.name)
		}
		seen[t.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Runner{
		title:        cfg.title,
		targets:      cfg.targets,
		interval:     cfg.interval,
		port:         cfg.port,
		logger:       logger,
		clock:        clock,
		callbacks:    cfg.callbacks,
		triggerRate:  cfg.triggerRate,
		triggerBurst: cfg.triggerBurst,
		immediate:    cfg.immediate,
	}, nil
}

// Start watches every target and serves HTTP until ctx is cancelled.
//
// It blocks. On return all controllers are stopped and the server is
// shutting down. Returns nil on cancellation, or an error if a controller
// cannot be built or the port cannot be bound.
func (r *Runner) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := store.NewMemoryStore()
	client := fetch.NewClient(fetch.WithClock(r.clock))
	defer client.Close()

	controllers := make(map[string]*poll.Controller[Reading], len(r.targets))
	for _, t := range r.targets {
		ctrl, err := t.controller(client, r.clock, r.interval, r.observe(st, t),
			poll.WithLogger(r.logger),
			poll.WithClock(r.clock),
		)
		if err != nil {
			return fmt.Errorf("target %q: %w", t.name, err)
		}
		controllers[t.name] = ctrl
		st.Update(toSnapshot(t, ctrl.State()))
	}

	srv := server.NewServer(st, r, server.Config{
		Port:         r.port,
		Title:        r.title,
		TriggerRate:  r.triggerRate,
		TriggerBurst: r.triggerBurst,
	}, dashboard.Assets, r.logger)

	r.mu.Lock()
	r.controllers = controllers
	r.srv = srv
	r.mu.Unlock()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	r.logger.Info("watch started",
		"targets", len(r.targets),
		"default_interval", r.interval.String(),
		"addr", srv.Addr(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for name, ctrl := range controllers {
		name, ctrl := name, ctrl
		g.Go(func() error {
			ctrl.Start(gctx)
			if r.immediate {
				if _, err := ctrl.TriggerRefresh(gctx); err != nil && gctx.Err() == nil {
					r.logger.Debug("initial probe failed", "watch", name, "error", err.Error())
				}
			}
			<-gctx.Done()
			ctrl.Stop()
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("watch stopped")
	return err
}

// Refresh probes the named target now and waits for the result. It
// returns the probe's error, [ErrUnknownWatch], or [ErrUnavailable] when
// the runner is not running.
func (r *Runner) Refresh(ctx context.Context, name string) error {
	r.mu.RLock()
	ctrl, ok := r.controllers[name]
	started := r.controllers != nil
	r.mu.RUnlock()

	if !started {
		return fmt.Errorf("%q: %w", name, ErrUnavailable)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWatch, name)
	}

	_, err := ctrl.TriggerRefresh(ctx)
	if errors.Is(err, poll.ErrStopped) {
		return fmt.Errorf("%q: %w", name, ErrUnavailable)
	}
	return err
}

// State returns the current state of the named watch. ok is false before
// [Runner.Start] or for unknown names.
func (r *Runner) State(name string) (state poll.State[Reading], ok bool) {
	r.mu.RLock()
	ctrl, ok := r.controllers[name]
	r.mu.RUnlock()
	if !ok {
		return poll.State[Reading]{}, false
	}
	return ctrl.State(), true
}

// Addr returns the HTTP listen address, or "" before the server is bound.
func (r *Runner) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.srv == nil {
		return ""
	}
	return r.srv.Addr()
}

// Targets returns a copy of the configured targets.
func (r *Runner) Targets() []Target {
	cp := make([]Target, len(r.targets))
	copy(cp, r.targets)
	return cp
}

// Port returns the configured HTTP port.
func (r *Runner) Port() int {
	return r.port
}

// DefaultInterval returns the interval for targets without their own.
func (r *Runner) DefaultInterval() time.Duration {
	return r.interval
}

// observe returns the change hook for t: store first, then callbacks.
func (r *Runner) observe(st store.Store, t Target) func(poll.State[Reading]) {
	return func(s poll.State[Reading]) {
		st.Update(toSnapshot(t, s))

		if !s.IsRefreshing {
			if reading, ok := s.Value.Get(); ok && s.LastError == nil {
				r.logger.Debug("probe settled",
					"watch", t.name,
					"status", reading.Status.String(),
					"status_code", reading.StatusCode,
					"latency_ms", reading.Latency.Milliseconds(),
					"should_refresh", s.ShouldRefresh,
				)
			}
		}

		if len(r.callbacks) == 0 {
			return
		}
		change := Change{Target: t, State: s}
		for _, cb := range r.callbacks {
			invokeCallbackSafe(cb, change, r.logger)
		}
	}
}

// toSnapshot flattens a controller state into its stored form.
func toSnapshot(t Target, s poll.State[Reading]) store.Snapshot {
	snap := store.Snapshot{
		Name:          t.name,
		URL:           t.url,
		Labels:        t.labels,
		IsRefreshing:  s.IsRefreshing,
		ShouldRefresh: s.ShouldRefresh,
		WillRefreshAt: s.WillRefreshAt,
		Refreshes:     s.Refreshes,
	}
	if reading, ok := s.Value.Get(); ok {
		snap.Status = reading.Status.String()
		snap.StatusCode = reading.StatusCode
		snap.ResponseTimeMs = reading.Latency.Milliseconds()
		snap.CheckedAt = reading.CheckedAt
	}
	if s.LastError != nil {
		msg := s.LastError.Error()
		snap.Error = &msg
	}
	return snap
}

// invokeCallbackSafe calls cb, logging instead of propagating a panic.
func invokeCallbackSafe(cb func(Change), change Change, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("change callback panicked",
				"panic", fmt.Sprintf("%v", rec),
				"watch", change.Target.name,
			)
		}
	}()
	cb(change)
}
