package store

import "time"

// Snapshot is the stored view of one watch at one instant.
//
// It merges the latest reading with the controller's refresh metadata and
// is shaped for JSON (REST API and SSE).
type Snapshot struct {
	// Name is the watch name and the store key.
	Name string `json:"name"`

	// URL is the probed URL.
	URL string `json:"url"`

	// Labels are the watch's key-value metadata.
	Labels map[string]string `json:"labels"`

	// Status is the last extracted status, or "" before the first probe.
	Status string `json:"status"`

	// StatusCode is the last HTTP status code, zero if none was received.
	StatusCode int `json:"status_code"`

	// ResponseTimeMs is the last probe latency in milliseconds.
	ResponseTimeMs int64 `json:"response_time_ms"`

	// CheckedAt is when the last probe completed. Zero before the first.
	CheckedAt time.Time `json:"checked_at"`

	// IsRefreshing is true while a probe is in flight.
	IsRefreshing bool `json:"is_refreshing"`

	// ShouldRefresh is false once the watch reached a stop status.
	ShouldRefresh bool `json:"should_refresh"`

	// WillRefreshAt is the predicted end of the next poll cycle.
	WillRefreshAt time.Time `json:"will_refresh_at"`

	// Refreshes counts successful probes.
	Refreshes uint64 `json:"refreshes"`

	// Error is the message of the last failed probe, nil after a success.
	Error *string `json:"error"`
}

// Store holds the latest [Snapshot] per watch and fans changes out to
// subscribers.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update stores s under s.Name and notifies subscribers.
	Update(s Snapshot)

	// Get returns the snapshot for name.
	Get(name string) (Snapshot, bool)

	// GetAll returns every snapshot ordered by name.
	GetAll() []Snapshot

	// Subscribe returns a buffered channel of updates. Slow consumers miss
	// updates. Callers must Unsubscribe when done.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes its channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Snapshot)
}
