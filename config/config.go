// Package config reads the YAML file that drives the poll binary.
//
// Example:
//
//	title: Release
//	port: 8080
//	interval: 5s
//
//	trigger_limit:
//	  rate: 1
//	  burst: 3
//
//	watches:
//	  - name: deploy
//	    url: https://ci.example.com/api/deploys/${DEPLOY_ID}
//	    extractor: json:state
//	    stop_when: [up, down]
//	  - name: api
//	    url: https://api.example.com/health
//	    interval: 30s
//	    headers:
//	      Authorization: Bearer ${API_TOKEN:-dev}
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/poll"
	"github.com/jpalmerr/poll/watch"
)

const defaultPort = 8080

// Config is the root of the configuration file. Use [Load] or [Parse].
type Config struct {
	// Title is the dashboard title.
	Title string `yaml:"title"`

	// Port is the HTTP port. Defaults to 8080.
	Port int `yaml:"port"`

	// Interval is the probe interval for watches without their own.
	// Defaults to 5s.
	Interval Duration `yaml:"interval"`

	// TriggerLimit bounds manual refreshes per watch through the API.
	TriggerLimit TriggerLimitConfig `yaml:"trigger_limit"`

	Watches []WatchConfig `yaml:"watches"`
}

// TriggerLimitConfig is the per-watch limit on manual refreshes. Zero
// fields keep the server defaults.
type TriggerLimitConfig struct {
	// Rate is refreshes per second; fractions are allowed (0.1 is one
	// every 10 seconds).
	Rate float64 `yaml:"rate"`

	Burst int `yaml:"burst"`
}

// WatchConfig is one watched endpoint.
type WatchConfig struct {
	// Name identifies the watch in the API and must be unique.
	Name string `yaml:"name"`

	// URL supports ${VAR} and ${VAR:-default} substitution.
	URL string `yaml:"url"`

	// Method is GET, HEAD or POST. Defaults to GET.
	Method string `yaml:"method"`

	// Timeout bounds each probe. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are sent with each probe. Values support substitution.
	Headers map[string]string `yaml:"headers"`

	Labels map[string]string `yaml:"labels"`

	Extractor ExtractorConfig `yaml:"extractor"`

	// Interval overrides the top-level interval. Between 1s and 1h.
	Interval Duration `yaml:"interval"`

	// StopWhen lists statuses (up, down, degraded, unknown) at which
	// scheduled probing stops.
	StopWhen []string `yaml:"stop_when"`
}

// ExtractorConfig selects how a response is judged.
//
// Shorthand:
//
//	extractor: default
//	extractor: http
//	extractor: json:data.health.status
//	extractor: contains:ok
//
// Structured:
//
//	extractor:
//	  type: regex
//	  pattern: 'state=(\w+)'
//	  up: ready
type ExtractorConfig struct {
	// Type is "default", "http", "json", "contains" or "regex".
	Type string

	// Path is the dotted field path for json.
	Path string

	// Text is the substring for contains.
	Text string

	// Pattern and Up configure regex: the first capture group equal to
	// Up means up.
	Pattern string
	Up      string
}

// Duration is a time.Duration written as "10s", "1m" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler, accepting the shorthand
// string or the structured form.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	case yaml.MappingNode:
		var raw struct {
			Type    string `yaml:"type"`
			Path    string `yaml:"path"`
			Text    string `yaml:"text"`
			Pattern string `yaml:"pattern"`
			Up      string `yaml:"up"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*e = ExtractorConfig(raw)
		return nil
	default:
		return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
	}
}

func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	kind, value, found := strings.Cut(s, ":")
	if !found {
		switch s {
		case "default", "http":
			e.Type = s
			return nil
		default:
			return fmt.Errorf("unknown extractor %q (expected 'default', 'http', 'json:path', or 'contains:text')", s)
		}
	}

	switch kind {
	case "json":
		e.Path = value
	case "contains":
		e.Text = value
	default:
		return fmt.Errorf("unknown extractor type %q", kind)
	}
	e.Type = kind
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}. Group 2 is non-empty
// when a default was given; group 3 is the default itself.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars substitutes ${VAR} and ${VAR:-default}. A variable that is
// set but empty wins over the default; an unset variable without a default
// is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML, applies defaults, expands environment variables in
// URLs and header values, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Interval == 0 {
		cfg.Interval = Duration(poll.DefaultInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandAndValidate() error {
	if len(c.Watches) == 0 {
		return errors.New("at least one watch must be defined")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if d := c.Interval.Duration(); d < watch.MinInterval || d > watch.MaxInterval {
		return fmt.Errorf("interval must be between %s and %s, got %s", watch.MinInterval, watch.MaxInterval, d)
	}
	if c.TriggerLimit.Rate < 0 || c.TriggerLimit.Burst < 0 {
		return errors.New("trigger_limit: rate and burst cannot be negative")
	}

	seen := make(map[string]int, len(c.Watches))
	for i := range c.Watches {
		w := &c.Watches[i]
		if err := w.expandAndValidate(); err != nil {
			if w.Name == "" {
				return fmt.Errorf("watches[%d]: %w", i, err)
			}
			return fmt.Errorf("watches[%d] (%s): %w", i, w.Name, err)
		}
		if j, dup := seen[w.Name]; dup {
			return fmt.Errorf("watches[%d] (%s): name already used by watches[%d]", i, w.Name, j)
		}
		seen[w.Name] = i
	}
	return nil
}

func (w *WatchConfig) expandAndValidate() error {
	if w.Name == "" {
		return errors.New("name is required")
	}

	if w.URL == "" {
		return errors.New("url is required")
	}
	expanded, err := expandEnvVars(w.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	w.URL = expanded

	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}

	for k, v := range w.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		w.Headers[k] = expanded
	}

	switch w.Method {
	case "", "GET", "HEAD", "POST":
	default:
		return errors.New("method must be GET, HEAD, or POST")
	}

	if w.Timeout != 0 && w.Timeout.Duration() < time.Second {
		return fmt.Errorf("timeout must be at least 1s if specified, got %s", w.Timeout.Duration())
	}

	if d := w.Interval.Duration(); d != 0 && (d < watch.MinInterval || d > watch.MaxInterval) {
		return fmt.Errorf("interval must be between %s and %s, got %s", watch.MinInterval, watch.MaxInterval, d)
	}

	for _, s := range w.StopWhen {
		if _, err := watch.ParseStatus(s); err != nil {
			return fmt.Errorf("stop_when: %w", err)
		}
	}

	return w.Extractor.validate()
}

func (e ExtractorConfig) validate() error {
	switch e.Type {
	case "", "default", "http":
	case "json":
		if e.Path == "" {
			return errors.New("extractor type 'json' requires a path")
		}
	case "contains":
		if e.Text == "" {
			return errors.New("extractor type 'contains' requires text")
		}
	case "regex":
		if e.Up == "" {
			return errors.New("extractor type 'regex' requires up")
		}
		if _, err := watch.RegexExtractor(e.Pattern, e.Up); err != nil {
			return fmt.Errorf("extractor type 'regex': %w", err)
		}
	default:
		return fmt.Errorf("unknown extractor type %q", e.Type)
	}
	return nil
}
