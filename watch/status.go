package watch

import (
	"fmt"
	"time"
)

// Status is the health of a watched endpoint as judged by its extractor.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"

	// StatusUnknown means the extractor could not decide, for example
	// because the body was not the JSON it expected.
	StatusUnknown Status = "unknown"
)

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts s to a [Status]. It accepts exactly the four
// lower-case status names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUp, StatusDown, StatusDegraded, StatusUnknown:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q (want up, down, degraded or unknown)", s)
	}
}

// StatusExtractor derives a [Status] from a response body and status code.
//
// Extractors must be pure and must not block. A panicking extractor fails
// the probe it runs in; the panic is logged with a correlation ID and the
// watch keeps its previous reading.
type StatusExtractor func(body []byte, statusCode int) Status

// Reading is the value a watch's controller refreshes: the outcome of one
// completed probe.
type Reading struct {
	Status     Status        `json:"status"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	CheckedAt  time.Time     `json:"checked_at"`
}
