package poll

import "errors"

var (
	// ErrStopped is returned by [Controller.TriggerRefresh] after
	// [Controller.Stop] has been called.
	ErrStopped = errors.New("poll: controller stopped")

	// ErrInvalidInterval is returned by [New] when the configured interval
	// is negative.
	ErrInvalidInterval = errors.New("poll: interval must not be negative")
)
