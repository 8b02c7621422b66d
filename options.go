package poll

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the time between scheduled ticks when
// [Config.Interval] is zero.
const DefaultInterval = 5 * time.Second

// RefreshFunc computes the next value from the current one.
//
// It is the producer of a [Controller]. It is called with the value held at
// the moment the attempt begins, never a copy captured at construction. An
// error leaves the current value in place and is recorded in
// [State.LastError].
type RefreshFunc[T any] func(ctx context.Context, current Optional[T]) (Optional[T], error)

// Predicate decides whether a scheduled tick should refresh, given the
// current value. It must not block.
type Predicate[T any] func(current Optional[T]) bool

// Config describes what a [Controller] refreshes and how often.
//
// All fields are optional:
//   - InitialValue: absent
//   - RefreshValue: identity, resolving to the current value
//   - Interval: [DefaultInterval]
//   - ShouldRefreshIf: always true
//
// Config is read once by [New]; changing it afterwards has no effect.
type Config[T any] struct {
	// InitialValue is the value exposed before the first refresh settles.
	InitialValue Optional[T]

	// RefreshValue is the producer called on every refresh attempt.
	RefreshValue RefreshFunc[T]

	// Interval is the time between scheduled ticks. Negative values are
	// rejected with [ErrInvalidInterval].
	Interval time.Duration

	// ShouldRefreshIf gates scheduled ticks. Manual triggers bypass it.
	ShouldRefreshIf Predicate[T]

	// OnChange, if set, is called with the new state after every
	// transition. Calls are serialized and arrive in transition order.
	// Panics are recovered and logged. OnChange may read [Controller.State]
	// but must not call TriggerRefresh or Stop: it runs inside the attempt
	// those calls would wait on.
	OnChange func(State[T])
}

// identity is the default producer.
func identity[T any](_ context.Context, current Optional[T]) (Optional[T], error) {
	return current, nil
}

// always is the default predicate.
func always[T any](Optional[T]) bool {
	return true
}

// withDefaults returns a copy of c with unset fields filled in.
func (c Config[T]) withDefaults() (Config[T], error) {
	if c.Interval < 0 {
		return c, ErrInvalidInterval
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.RefreshValue == nil {
		c.RefreshValue = identity[T]
	}
	if c.ShouldRefreshIf == nil {
		c.ShouldRefreshIf = always[T]
	}
	return c, nil
}

// ctrlConfig holds ambient settings during Controller construction.
type ctrlConfig struct {
	name   string
	logger *slog.Logger
	clock  clockwork.Clock
}

// Option configures ambient behaviour of a [Controller]: logging, time
// source and identity. What the controller refreshes is described by
// [Config].
type Option func(*ctrlConfig) error

// WithLogger sets the [slog.Logger] used by the controller.
// Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *ctrlConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock sets the time source for ticks and deadlines.
//
// Production code does not need this. Tests pass a
// [clockwork.FakeClock] to advance time deterministically:
//
//	clock := clockwork.NewFakeClock()
//	ctrl, _ := poll.New(cfg, poll.WithClock(clock))
//	ctrl.Start(ctx)
//	clock.Advance(cfg.Interval)
//
// Returns an error if the clock is nil.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *ctrlConfig) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clock
		return nil
	}
}

// WithName sets a human-readable name attached to every log record.
//
// Returns an error if the name is blank.
func WithName(name string) Option {
	return func(cfg *ctrlConfig) error {
		if strings.TrimSpace(name) == "" {
			return errors.New("name cannot be empty")
		}
		cfg.name = name
		return nil
	}
}
