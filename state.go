package poll

import "time"

// RefreshGrace is added to the interval when computing [State.WillRefreshAt].
//
// The deadline marks the end of the poll cycle in which the next scheduled
// refresh may occur, not its start.
const RefreshGrace = time.Second

// State is a read-only snapshot of a [Controller].
//
// State values are produced by [Controller.State] and passed to the
// OnChange hook. They are copies; holding one does not block the controller.
type State[T any] struct {
	// Value is the most recently settled value, or the initial value before
	// the first successful refresh.
	Value Optional[T] `json:"value"`

	// IsRefreshing is true while a producer call is outstanding.
	IsRefreshing bool `json:"is_refreshing"`

	// WillRefreshAt is the predicted end of the next poll cycle. It is
	// informational only; the scheduler does not read it.
	WillRefreshAt time.Time `json:"will_refresh_at"`

	// ShouldRefresh is the refresh predicate applied to Value. Scheduled
	// ticks consult it; manual triggers ignore it.
	ShouldRefresh bool `json:"should_refresh"`

	// LastError is the error from the most recent attempt, or nil if that
	// attempt succeeded.
	LastError error `json:"-"`

	// LastRefreshedAt is when the last successful attempt settled.
	// Zero until the first refresh completes.
	LastRefreshedAt time.Time `json:"last_refreshed_at"`

	// Refreshes counts successful attempts.
	Refreshes uint64 `json:"refreshes"`
}

// eventKind identifies a state transition.
type eventKind int

const (
	eventStarted eventKind = iota + 1
	eventSettled
	eventFailed
)

func (k eventKind) String() string {
	switch k {
	case eventStarted:
		return "started"
	case eventSettled:
		return "settled"
	case eventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// event is the input to [rules.next]. Value is used by eventSettled, Err by
// eventFailed; At is the completion instant for both.
type event[T any] struct {
	kind  eventKind
	value Optional[T]
	err   error
	at    time.Time
}

// rules holds the immutable parts of a controller's configuration that the
// transition function depends on.
type rules[T any] struct {
	interval        time.Duration
	shouldRefreshIf Predicate[T]
}

// initial builds the state of a freshly created controller.
func (r rules[T]) initial(value Optional[T], now time.Time) State[T] {
	return State[T]{
		Value:         value,
		WillRefreshAt: r.deadline(now),
		ShouldRefresh: r.shouldRefreshIf(value),
	}
}

// deadline computes the next WillRefreshAt from the instant an attempt
// completed.
func (r rules[T]) deadline(now time.Time) time.Time {
	return now.Add(r.interval + RefreshGrace)
}

// next applies ev to s and returns the resulting state. It is pure: s is
// not modified.
func (r rules[T]) next(s State[T], ev event[T]) State[T] {
	switch ev.kind {
	case eventStarted:
		s.IsRefreshing = true
	case eventSettled:
		s.Value = ev.value
		s.IsRefreshing = false
		s.WillRefreshAt = r.deadline(ev.at)
		s.ShouldRefresh = r.shouldRefreshIf(ev.value)
		s.LastError = nil
		s.LastRefreshedAt = ev.at
		s.Refreshes++
	case eventFailed:
		// value and predicate result stay with the last settled value
		s.IsRefreshing = false
		s.WillRefreshAt = r.deadline(ev.at)
		s.LastError = ev.err
	}
	return s
}
