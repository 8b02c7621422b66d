package watch

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// Bounds for [WithInterval].
const (
	MinInterval = time.Second
	MaxInterval = time.Hour
)

// targetConfig holds mutable state during target construction.
type targetConfig struct {
	labels    map[string]string
	headers   map[string]string
	timeout   time.Duration
	extractor StatusExtractor
	method    string
	interval  time.Duration
	stopWhen  []Status
}

// TargetOption configures a [Target] in [NewTarget].
type TargetOption func(*targetConfig) error

// WithLabels adds key-value labels, shown on the dashboard and in the API.
//
// Returns an error for an odd number of arguments.
func WithLabels(keyValues ...string) TargetOption {
	return func(cfg *targetConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithHeaders adds headers sent with every probe, e.g. authorization.
//
// Returns an error for an odd number of arguments.
func WithHeaders(keyValues ...string) TargetOption {
	return func(cfg *targetConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout bounds each probe. A probe that times out fails and the
// watch keeps its previous reading. Defaults to 10 seconds.
//
// Returns an error if d is not positive.
func WithTimeout(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithExtractor sets how responses are judged. Defaults to
// [DefaultExtractor].
func WithExtractor(e StatusExtractor) TargetOption {
	return func(cfg *targetConfig) error {
		cfg.extractor = e
		return nil
	}
}

// WithMethod sets the probe method: GET (default), HEAD or POST.
func WithMethod(method string) TargetOption {
	return func(cfg *targetConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithInterval sets the time between scheduled probes for this target,
// overriding the runner default. Must be between 1 second and 1 hour.
func WithInterval(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d < MinInterval {
			return errors.New("interval must be at least 1 second")
		}
		if d > MaxInterval {
			return errors.New("interval must not exceed 1 hour")
		}
		cfg.interval = d
		return nil
	}
}

// WithStopWhen ends scheduled probing once a reading has one of statuses.
// Manual refreshes still run, and a later reading outside statuses
// resumes scheduling.
//
// Use it for endpoints that converge, such as a deployment or build that
// ends up or down and then stays there.
func WithStopWhen(statuses ...Status) TargetOption {
	return func(cfg *targetConfig) error {
		for _, s := range statuses {
			if _, err := ParseStatus(string(s)); err != nil {
				return fmt.Errorf("WithStopWhen: %w", err)
			}
			if !slices.Contains(cfg.stopWhen, s) {
				cfg.stopWhen = append(cfg.stopWhen, s)
			}
		}
		return nil
	}
}
