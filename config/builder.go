package config

import (
	"sort"

	"golang.org/x/time/rate"

	"github.com/jpalmerr/poll/watch"
)

// BuildTargets converts the watches of cfg into targets, in file order.
func BuildTargets(cfg *Config) ([]watch.Target, error) {
	targets := make([]watch.Target, 0, len(cfg.Watches))
	for _, wc := range cfg.Watches {
		t, err := buildTarget(wc)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// RunnerOptions returns the runner options described by cfg, targets
// included.
func RunnerOptions(cfg *Config) ([]watch.Option, error) {
	targets, err := BuildTargets(cfg)
	if err != nil {
		return nil, err
	}

	opts := []watch.Option{
		watch.WithTargets(targets...),
		watch.WithPort(cfg.Port),
		watch.WithDefaultInterval(cfg.Interval.Duration()),
	}
	if cfg.Title != "" {
		opts = append(opts, watch.WithTitle(cfg.Title))
	}
	if tl := cfg.TriggerLimit; tl.Rate > 0 || tl.Burst > 0 {
		r, burst := rate.Limit(tl.Rate), tl.Burst
		if r == 0 {
			r = 1
		}
		if burst == 0 {
			burst = 1
		}
		opts = append(opts, watch.WithTriggerLimit(r, burst))
	}
	return opts, nil
}

func buildTarget(wc WatchConfig) (watch.Target, error) {
	var opts []watch.TargetOption

	if wc.Method != "" {
		opts = append(opts, watch.WithMethod(wc.Method))
	}
	if wc.Timeout != 0 {
		opts = append(opts, watch.WithTimeout(wc.Timeout.Duration()))
	}
	if len(wc.Headers) > 0 {
		opts = append(opts, watch.WithHeaders(mapToKeyValuePairs(wc.Headers)...))
	}
	if len(wc.Labels) > 0 {
		opts = append(opts, watch.WithLabels(mapToKeyValuePairs(wc.Labels)...))
	}
	if wc.Interval != 0 {
		opts = append(opts, watch.WithInterval(wc.Interval.Duration()))
	}
	if len(wc.StopWhen) > 0 {
		statuses := make([]watch.Status, 0, len(wc.StopWhen))
		for _, s := range wc.StopWhen {
			st, err := watch.ParseStatus(s)
			if err != nil {
				return watch.Target{}, err
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, watch.WithStopWhen(statuses...))
	}

	extractor, err := buildExtractor(wc.Extractor)
	if err != nil {
		return watch.Target{}, err
	}
	if extractor != nil {
		opts = append(opts, watch.WithExtractor(extractor))
	}

	return watch.NewTarget(wc.Name, wc.URL, opts...)
}

// mapToKeyValuePairs flattens m into sorted key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildExtractor returns nil for the default extractor.
func buildExtractor(ec ExtractorConfig) (watch.StatusExtractor, error) {
	switch ec.Type {
	case "http":
		return watch.HTTPStatusExtractor, nil
	case "json":
		return watch.JSONFieldExtractor(ec.Path), nil
	case "contains":
		return watch.ContainsExtractor(ec.Text), nil
	case "regex":
		return watch.RegexExtractor(ec.Pattern, ec.Up)
	default:
		return nil, nil
	}
}
