package watch

import "github.com/jpalmerr/poll/internal/server"

var (
	// ErrUnknownWatch is returned by [Runner.Refresh] for a name the runner
	// does not watch.
	ErrUnknownWatch = server.ErrUnknownWatch

	// ErrUnavailable is returned by [Runner.Refresh] when the runner is not
	// running.
	ErrUnavailable = server.ErrUnavailable
)
