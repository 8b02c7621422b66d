package watch

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var errInvalidRegexGroups = errors.New("pattern must contain a capture group")

// statusWords maps common health words, lower-cased, to a status. Words
// not listed here count as down.
var statusWords = map[string]Status{
	"ok": StatusUp, "healthy": StatusUp, "up": StatusUp, "active": StatusUp,
	"running": StatusUp, "pass": StatusUp, "passed": StatusUp, "true": StatusUp,
	"green": StatusUp, "none": StatusUp, "operational": StatusUp,

	"degraded": StatusDegraded, "warning": StatusDegraded, "warn": StatusDegraded,
	"partial": StatusDegraded, "yellow": StatusDegraded, "amber": StatusDegraded,
}

func wordToStatus(word string) Status {
	if st, ok := statusWords[strings.ToLower(strings.TrimSpace(word))]; ok {
		return st
	}
	return StatusDown
}

// HTTPStatusExtractor judges by status code alone: 2xx is up, 4xx is
// degraded, anything else is down.
var HTTPStatusExtractor StatusExtractor = func(_ []byte, statusCode int) Status {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusUp
	case statusCode >= 400 && statusCode < 500:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// JSONFieldExtractor reads the field at a dotted path and maps its value
// through the usual health words ("ok", "healthy", "degraded", ...).
// Numeric segments index into arrays, so "checks.0.status" reads the
// first check. Booleans map true to up; the numbers 1 and 0 behave like
// true and false.
//
// Returns [StatusUnknown] if the body is not JSON or the path is missing.
func JSONFieldExtractor(path string) StatusExtractor {
	segments := strings.Split(path, ".")

	return func(body []byte, _ int) Status {
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return StatusUnknown
		}
		word, ok := lookup(doc, segments)
		if !ok {
			return StatusUnknown
		}
		return wordToStatus(word)
	}
}

// lookup walks doc along segments and renders the leaf as a word.
func lookup(doc any, segments []string) (string, bool) {
	cur := doc
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return "", false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return "", false
			}
			cur = node[i]
		default:
			return "", false
		}
	}

	switch v := cur.(type) {
	case string:
		return v, v != ""
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		switch v {
		case 1:
			return "true", true
		case 0:
			return "false", true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// RegexExtractor matches pattern against the body and compares its first
// capture group, case-insensitively, with upMatch: equal is up, different
// is down, no match is unknown.
//
// Returns an error if pattern does not compile or has no capture group.
func RegexExtractor(pattern, upMatch string) (StatusExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, errInvalidRegexGroups
	}

	return func(body []byte, _ int) Status {
		m := re.FindSubmatch(body)
		if len(m) < 2 {
			return StatusUnknown
		}
		if strings.EqualFold(string(m[1]), upMatch) {
			return StatusUp
		}
		return StatusDown
	}, nil
}

// MustRegexExtractor is [RegexExtractor] for constant patterns; it panics
// if the pattern is invalid.
func MustRegexExtractor(pattern, upMatch string) StatusExtractor {
	e, err := RegexExtractor(pattern, upMatch)
	if err != nil {
		panic("watch: invalid regex extractor: " + err.Error())
	}
	return e
}

// ContainsExtractor is up when the body contains text, ignoring case, and
// down otherwise.
func ContainsExtractor(text string) StatusExtractor {
	needle := strings.ToLower(text)
	return func(body []byte, _ int) Status {
		if strings.Contains(strings.ToLower(string(body)), needle) {
			return StatusUp
		}
		return StatusDown
	}
}

// FirstMatch tries extractors in order and returns the first result that
// is not [StatusUnknown].
func FirstMatch(extractors ...StatusExtractor) StatusExtractor {
	return func(body []byte, statusCode int) Status {
		for _, e := range extractors {
			if st := e(body, statusCode); st != StatusUnknown {
				return st
			}
		}
		return StatusUnknown
	}
}

// DefaultExtractor reads a top-level JSON "status" field and falls back to
// [HTTPStatusExtractor].
var DefaultExtractor = FirstMatch(
	JSONFieldExtractor("status"),
	HTTPStatusExtractor,
)
