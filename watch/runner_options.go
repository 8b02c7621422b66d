package watch

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// runnerConfig holds mutable state during Runner construction.
type runnerConfig struct {
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
}

// Option configures a [Runner] in [New].
type Option func(*runnerConfig) error

// WithTarget adds one target. Call it once per target, or use
// [WithTargets].
func WithTarget(t Target) Option {
	return func(cfg *runnerConfig) error {
		cfg.targets = append(cfg.targets, t)
		return nil
	}
}

// WithTargets adds several targets.
func WithTargets(targets ...Target) Option {
	return func(cfg *runnerConfig) error {
		cfg.targets = append(cfg.targets, targets...)
		return nil
	}
}

// WithDefaultInterval sets the probe interval for targets without their
// own [WithInterval]. Defaults to [poll.DefaultInterval].
//
// Returns an error if d is not positive.
func WithDefaultInterval(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		if d <= 0 {
			return errors.New("default interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithPort sets the HTTP port. Zero binds any free port; see
// [Runner.Addr]. Defaults to 8080.
func WithPort(port int) Option {
	return func(cfg *runnerConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets the logger handed to the runner, its server and every
// controller. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *runnerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the dashboard title.
func WithTitle(title string) Option {
	return func(cfg *runnerConfig) error {
		cfg.title = title
		return nil
	}
}

// WithClock sets the time source of every controller. Intended for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *runnerConfig) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clock
		return nil
	}
}

// WithChangeCallback registers cb to run after every state change of every
// watch: when a probe starts and when it settles or fails. Callbacks run in
// registration order on the goroutine that applied the change, after the
// store is updated. They must not block and must not refresh the watch
// they are called for. Panics are recovered and logged.
//
// Nil callbacks are ignored.
func WithChangeCallback(cb func(Change)) Option {
	return func(cfg *runnerConfig) error {
		if cb != nil {
			cfg.callbacks = append(cfg.callbacks, cb)
		}
		return nil
	}
}

// WithTriggerLimit limits manual refreshes through the HTTP API to r per
// second per watch, with bursts of up to burst.
func WithTriggerLimit(r rate.Limit, burst int) Option {
	return func(cfg *runnerConfig) error {
		if r <= 0 || burst < 1 {
			return errors.New("trigger limit must have a positive rate and burst")
		}
		cfg.triggerRate = r
		cfg.triggerBurst = burst
		return nil
	}
}

// WithImmediateProbe controls whether every target is probed once as soon
// as [Runner.Start] runs, instead of first waiting one interval. Defaults
// to true.
func WithImmediateProbe(enabled bool) Option {
	return func(cfg *runnerConfig) error {
		cfg.immediate = enabled
		return nil
	}
}
