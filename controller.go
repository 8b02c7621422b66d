package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// flightKey is the single in-flight slot shared by all refresh attempts of
// one controller.
const flightKey = "refresh"

const (
	triggerScheduled = "scheduled"
	triggerManual    = "manual"
)

// ErrRefreshPanic wraps the error reported when a [RefreshFunc] panics.
var ErrRefreshPanic = errors.New("poll: refresh panicked")

// Controller periodically refreshes a value of type T.
//
// A Controller owns a [State] and three cooperating parts: the state
// holder, a ticker that fires every interval, and the refresh executor that
// calls the producer and applies the result. It is created with [New],
// started with [Controller.Start] and torn down with [Controller.Stop].
//
// The typical lifecycle is:
//
//	ctrl, err := poll.New(poll.Config[int]{
//	    InitialValue: poll.Some(0),
//	    RefreshValue: fetchCount,
//	    Interval:     10 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	ctrl.Start(ctx)
//	defer ctrl.Stop()
//
// Refresh attempts never overlap. A scheduled tick that finds an attempt in
// flight is skipped, and a [Controller.TriggerRefresh] issued during an
// attempt waits for that attempt and returns its result instead of starting
// a second producer call.
//
// All methods are safe for concurrent use.
type Controller[T any] struct {
	id           string
	name         string
	rules        rules[T]
	refreshValue RefreshFunc[T]
	onChange     func(State[T])
	clock        clockwork.Clock
	logger       *slog.Logger

	flight singleflight.Group

	// emitMu serializes transitions together with their OnChange call so
	// observers see states in the order they were applied.
	emitMu sync.Mutex

	mu      sync.RWMutex
	state   State[T]
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a [Controller] from cfg.
//
// The initial state is computed immediately: Value is cfg.InitialValue,
// ShouldRefresh is cfg.ShouldRefreshIf applied to it, and WillRefreshAt is
// the current time plus the interval plus [RefreshGrace]. No timer runs
// until [Controller.Start] is called.
//
// Returns [ErrInvalidInterval] if cfg.Interval is negative, or an error from
// any option.
func New[T any](cfg Config[T], opts ...Option) (*Controller[T], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	cc := &ctrlConfig{}
	for _, opt := range opts {
		if err := opt(cc); err != nil {
			return nil, err
		}
	}

	clock := cc.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	id := uuid.NewString()
	logger := cc.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("controller_id", id)
	if cc.name != "" {
		logger = logger.With("controller", cc.name)
	}

	r := rules[T]{
		interval:        cfg.Interval,
		shouldRefreshIf: guardPredicate(cfg.ShouldRefreshIf, logger),
	}

	return &Controller[T]{
		id:           id,
		name:         cc.name,
		rules:        r,
		refreshValue: cfg.RefreshValue,
		onChange:     cfg.OnChange,
		clock:        clock,
		logger:       logger,
		state:        r.initial(cfg.InitialValue, clock.Now()),
	}, nil
}

// ID returns the unique identifier assigned at construction.
func (c *Controller[T]) ID() string {
	return c.id
}

// Name returns the name set with [WithName], or "" if none was set.
func (c *Controller[T]) Name() string {
	return c.name
}

// Interval returns the time between scheduled ticks.
func (c *Controller[T]) Interval() time.Duration {
	return c.rules.interval
}

// State returns a snapshot of the current state.
func (c *Controller[T]) State() State[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Value returns the current value.
func (c *Controller[T]) Value() Optional[T] {
	return c.State().Value
}

// IsRefreshing reports whether a producer call is outstanding.
func (c *Controller[T]) IsRefreshing() bool {
	return c.State().IsRefreshing
}

// WillRefreshAt returns the predicted end of the next poll cycle.
func (c *Controller[T]) WillRefreshAt() time.Time {
	return c.State().WillRefreshAt
}

// Start begins scheduled refreshing in a background goroutine.
//
// The first tick fires one interval after Start. On each tick the live
// state is read; if ShouldRefresh is true and no attempt is in flight, a
// refresh attempt runs with ctx's values as the producer's context.
// Cancelling ctx does not cancel an attempt already in flight.
//
// Start is idempotent; calls after the first are no-ops. If [Controller.Stop]
// was called first, Start does nothing. Cancelling ctx ends scheduling the
// same way Stop does, but leaves [Controller.TriggerRefresh] usable.
func (c *Controller[T]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// created under the lock so ticks are measured from Start, not from
	// whenever the goroutine gets scheduled
	ticker := c.clock.NewTicker(c.rules.interval)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("poll controller started", "interval", c.rules.interval.String())

	go func() {
		defer c.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				c.tick(ctx)
			}
		}
	}()
}

// Stop halts scheduled refreshing.
//
// Stop blocks until the scheduler goroutine exits; no tick is acted on after
// it returns. An attempt already in flight is not cancelled, but its result
// is discarded: the state is frozen from the moment Stop is called and
// OnChange is not called again.
//
// Stop is idempotent and safe to call before [Controller.Start].
func (c *Controller[T]) Stop() {
	c.mu.Lock()
	first := !c.stopped
	if first {
		c.stopped = true
		if c.cancel != nil {
			c.cancel()
		}
	}
	c.mu.Unlock()

	c.wg.Wait()

	if first {
		c.logger.Debug("poll controller stopped")
	}
}

// TriggerRefresh forces a refresh attempt now and returns the new value.
//
// The refresh predicate is not consulted. If an attempt is already in
// flight, TriggerRefresh waits for it and returns its result. If ctx ends
// first, ctx.Err() is returned and the shared attempt keeps running, even
// when this call started it. The producer sees ctx's values but never its
// cancellation, so it must bound its own work.
//
// Returns [ErrStopped] after [Controller.Stop], or the producer's error if
// the attempt failed.
func (c *Controller[T]) TriggerRefresh(ctx context.Context) (Optional[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.RLock()
	stopped := c.stopped
	c.mu.RUnlock()
	if stopped {
		return None[T](), ErrStopped
	}

	return c.refresh(ctx, triggerManual)
}

// tick runs one scheduled cycle against the live state.
func (c *Controller[T]) tick(ctx context.Context) {
	c.mu.RLock()
	stopped, s := c.stopped, c.state
	c.mu.RUnlock()

	if stopped {
		return
	}
	if !s.ShouldRefresh {
		c.logger.Debug("scheduled refresh skipped", "reason", "predicate")
		return
	}
	if s.IsRefreshing {
		c.logger.Debug("scheduled refresh skipped", "reason", "in flight")
		return
	}

	// the attempt runs outside the loop so Stop never waits on a producer
	go func() {
		_, _ = c.refresh(ctx, triggerScheduled)
	}()
}

// refresh runs an attempt through the single in-flight slot. The attempt
// keeps ctx's values but not its cancellation: it is shared, so no single
// waiter may abort it.
func (c *Controller[T]) refresh(ctx context.Context, trigger string) (Optional[T], error) {
	attemptCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (interface{}, error) {
		return c.attempt(attemptCtx, trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return None[T](), res.Err
		}
		return res.Val.(Optional[T]), nil
	case <-ctx.Done():
		return None[T](), ctx.Err()
	}
}

// attempt performs one refresh: enter refreshing, call the producer, then
// apply the settled or failed transition. IsRefreshing is always cleared,
// whatever the producer does.
func (c *Controller[T]) attempt(ctx context.Context, trigger string) (Optional[T], error) {
	s, ok := c.apply(event[T]{kind: eventStarted})
	if !ok {
		return None[T](), ErrStopped
	}

	logger := c.logger.With("trigger", trigger)
	start := c.clock.Now()

	value, err := c.produce(ctx, s.Value)
	now := c.clock.Now()
	durationMs := now.Sub(start).Milliseconds()

	if err != nil {
		logger.Warn("refresh failed", "error", err.Error(), "duration_ms", durationMs)
		if _, ok := c.apply(event[T]{kind: eventFailed, err: err, at: now}); !ok {
			return None[T](), ErrStopped
		}
		return None[T](), err
	}

	if _, ok := c.apply(event[T]{kind: eventSettled, value: value, at: now}); !ok {
		logger.Debug("refresh result discarded", "reason", "controller stopped")
		return None[T](), ErrStopped
	}

	logger.Debug("refresh completed", "duration_ms", durationMs)
	return value, nil
}

// produce calls the producer with panic recovery.
// A panic is logged with its stack under a correlation ID and returned as
// an error wrapping [ErrRefreshPanic].
func (c *Controller[T]) produce(ctx context.Context, current Optional[T]) (value Optional[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			c.logger.Error("refresh panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			value = None[T]()
			err = fmt.Errorf("%w (correlation_id: %s)", ErrRefreshPanic, correlationID)
		}
	}()
	return c.refreshValue(ctx, current)
}

// apply runs the transition for ev and notifies the observer. It reports
// false, leaving the state untouched, once the controller is stopped.
func (c *Controller[T]) apply(ev event[T]) (State[T], bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return State[T]{}, false
	}
	before := c.state
	c.state = c.rules.next(c.state, ev)
	s := c.state
	c.mu.Unlock()

	c.emit(s)
	return before, true
}

// emit calls the OnChange hook with panic recovery.
func (c *Controller[T]) emit(s State[T]) {
	if c.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("change hook panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()
	c.onChange(s)
}

// guardPredicate wraps p so a panic counts as "do not refresh" instead of
// unwinding through the state lock.
func guardPredicate[T any](p Predicate[T], logger *slog.Logger) Predicate[T] {
	return func(current Optional[T]) (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("refresh predicate panicked", "panic", fmt.Sprintf("%v", r))
				ok = false
			}
		}()
		return p(current)
	}
}
