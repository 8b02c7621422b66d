package watch

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jpalmerr/poll"
	"github.com/jpalmerr/poll/internal/fetch"
)

// Target is an HTTP endpoint to watch.
//
// Target is immutable after [NewTarget]; getters return copies of maps and
// slices.
type Target struct {
	name      string
	url       string
	labels    map[string]string
	headers   map[string]string
	timeout   time.Duration
	extractor StatusExtractor
	method    string
	interval  time.Duration
	stopWhen  []Status
}

// NewTarget creates a [Target] named name that probes rawURL.
//
// rawURL must be absolute with an http or https scheme. Options are
// applied in order.
//
//	t, err := watch.NewTarget("deploy", "https://ci.example.com/api/deploys/42",
//	    watch.WithExtractor(watch.JSONFieldExtractor("state")),
//	    watch.WithInterval(10*time.Second),
//	    watch.WithStopWhen(watch.StatusUp, watch.StatusDown),
//	)
func NewTarget(name, rawURL string, opts ...TargetOption) (Target, error) {
	if name == "" {
		return Target{}, errors.New("target name cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, errors.New("invalid URL: " + err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, errors.New("URL must have a scheme (http:// or https://)")
	}
	if u.Host == "" {
		return Target{}, errors.New("URL must have a host")
	}

	cfg := &targetConfig{
		labels:  make(map[string]string),
		headers: make(map[string]string),
		timeout: fetch.DefaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Target{}, err
		}
	}

	return Target{
		name:      name,
		url:       rawURL,
		labels:    cfg.labels,
		headers:   cfg.headers,
		timeout:   cfg.timeout,
		extractor: cfg.extractor,
		method:    cfg.method,
		interval:  cfg.interval,
		stopWhen:  cfg.stopWhen,
	}, nil
}

// Name returns the target's name, unique within a [Runner].
func (t Target) Name() string { return t.name }

// URL returns the probed URL.
func (t Target) URL() string { return t.url }

// Labels returns a copy of the target's labels, or nil if none are set.
func (t Target) Labels() map[string]string { return copyMap(t.labels) }

// Headers returns a copy of the request headers, or nil if none are set.
func (t Target) Headers() map[string]string { return copyMap(t.headers) }

// Timeout returns the per-probe timeout. Defaults to 10 seconds.
func (t Target) Timeout() time.Duration { return t.timeout }

// Extractor returns the configured extractor, or nil when
// [DefaultExtractor] applies.
func (t Target) Extractor() StatusExtractor { return t.extractor }

// Method returns the HTTP method, or "" for GET.
func (t Target) Method() string { return t.method }

// Interval returns the target's own interval, or 0 to use the runner's.
func (t Target) Interval() time.Duration { return t.interval }

// StopWhen returns the statuses that end scheduled probing.
func (t Target) StopWhen() []Status { return slices.Clone(t.stopWhen) }

// ShouldRefresh reports whether scheduled probing continues given the
// current reading. It is true until a probe lands on a StopWhen status.
func (t Target) ShouldRefresh(current poll.Optional[Reading]) bool {
	r, ok := current.Get()
	if !ok {
		return true
	}
	return !slices.Contains(t.stopWhen, r.Status)
}

// Controller returns a [poll.Controller] that probes t every
// t.Interval() (or [poll.DefaultInterval] when unset) until a reading
// lands on a StopWhen status. The controller is not started.
//
// Controllers from this method share one pooled HTTP client.
func (t Target) Controller(opts ...poll.Option) (*poll.Controller[Reading], error) {
	return t.controller(sharedClient(), clockwork.NewRealClock(), 0, nil, opts...)
}

// controller builds the controller for t. fallback applies when t has no
// interval of its own.
func (t Target) controller(
	client *fetch.Client,
	clock clockwork.Clock,
	fallback time.Duration,
	onChange func(poll.State[Reading]),
	opts ...poll.Option,
) (*poll.Controller[Reading], error) {
	interval := t.interval
	if interval == 0 {
		interval = fallback
	}

	opts = append([]poll.Option{poll.WithName(t.name)}, opts...)
	return poll.New(poll.Config[Reading]{
		RefreshValue:    t.probe(client, clock),
		Interval:        interval,
		ShouldRefreshIf: t.ShouldRefresh,
		OnChange:        onChange,
	}, opts...)
}

// probe returns the producer that performs one HTTP probe of t.
// Transport failures are errors; any HTTP response yields a reading.
func (t Target) probe(client *fetch.Client, clock clockwork.Clock) poll.RefreshFunc[Reading] {
	extractor := t.extractor
	if extractor == nil {
		extractor = DefaultExtractor
	}
	req := fetch.Request{
		Method:  t.method,
		URL:     t.url,
		Headers: t.headers,
		Timeout: t.timeout,
	}

	return func(ctx context.Context, _ poll.Optional[Reading]) (poll.Optional[Reading], error) {
		resp, err := client.Do(ctx, req)
		if err != nil {
			return poll.None[Reading](), err
		}
		return poll.Some(Reading{
			Status:     extractor(resp.Body, resp.StatusCode),
			StatusCode: resp.StatusCode,
			Latency:    resp.Latency,
			CheckedAt:  clock.Now(),
		}), nil
	}
}

var sharedClient = sync.OnceValue(func() *fetch.Client {
	return fetch.NewClient()
})

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
