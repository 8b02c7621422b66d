package config

import (
	"testing"
	"time"

	"github.com/jpalmerr/poll/watch"
)

func mustParse(t *testing.T, yaml string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func TestBuildTargets(t *testing.T) {
	cfg := mustParse(t, `
watches:
  - name: deploy
    url: https://ci.example.com/deploys/1
    method: HEAD
    timeout: 3s
    interval: 2s
    headers:
      X-Key: secret
    labels:
      env: prod
      team: core
    stop_when: [up, down]
  - name: api
    url: https://api.example.com/health
`)

	targets, err := BuildTargets(cfg)
	if err != nil {
		t.Fatalf("BuildTargets() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("len(targets) = %d, want 2", len(targets))
	}

	deploy := targets[0]
	if deploy.Name() != "deploy" {
		t.Errorf("Name() = %q, want deploy", deploy.Name())
	}
	if deploy.Method() != "HEAD" {
		t.Errorf("Method() = %q, want HEAD", deploy.Method())
	}
	if deploy.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v, want 3s", deploy.Timeout())
	}
	if deploy.Interval() != 2*time.Second {
		t.Errorf("Interval() = %v, want 2s", deploy.Interval())
	}
	if deploy.Headers()["X-Key"] != "secret" {
		t.Errorf("Headers() = %v", deploy.Headers())
	}
	if deploy.Labels()["env"] != "prod" || deploy.Labels()["team"] != "core" {
		t.Errorf("Labels() = %v", deploy.Labels())
	}
	stop := deploy.StopWhen()
	if len(stop) != 2 || stop[0] != watch.StatusUp || stop[1] != watch.StatusDown {
		t.Errorf("StopWhen() = %v, want [up down]", stop)
	}

	api := targets[1]
	if api.Interval() != 0 {
		t.Errorf("Interval() = %v, want 0 (runner default)", api.Interval())
	}
	if api.Extractor() != nil {
		t.Error("Extractor() should be nil for the default extractor")
	}
}

func TestBuildTargets_ExtractorBehavior(t *testing.T) {
	tests := []struct {
		name      string
		extractor string
		body      string
		code      int
		want      watch.Status
	}{
		{"http ignores body", `http`, `{"status": "down"}`, 200, watch.StatusUp},
		{"json path", `json:data.state`, `{"data": {"state": "degraded"}}`, 200, watch.StatusDegraded},
		{"contains hit", `contains:READY`, `system ready`, 500, watch.StatusUp},
		{"contains miss", `contains:READY`, `booting`, 200, watch.StatusDown},
		{"regex up", `{type: regex, pattern: 'state=(\w+)', up: ready}`, `state=ready`, 200, watch.StatusUp},
		{"regex down", `{type: regex, pattern: 'state=(\w+)', up: ready}`, `state=failed`, 200, watch.StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustParse(t, `
watches:
  - name: api
    url: https://example.com
    extractor: `+tt.extractor+`
`)
			targets, err := BuildTargets(cfg)
			if err != nil {
				t.Fatalf("BuildTargets() error = %v", err)
			}
			e := targets[0].Extractor()
			if e == nil {
				t.Fatal("Extractor() = nil")
			}
			if got := e([]byte(tt.body), tt.code); got != tt.want {
				t.Errorf("extractor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunnerOptions(t *testing.T) {
	cfg := mustParse(t, `
title: Release
port: 9999
interval: 7s
trigger_limit:
  rate: 2
watches:
  - name: api
    url: https://example.com
`)

	opts, err := RunnerOptions(cfg)
	if err != nil {
		t.Fatalf("RunnerOptions() error = %v", err)
	}

	r, err := watch.New(opts...)
	if err != nil {
		t.Fatalf("watch.New() error = %v", err)
	}
	if r.Port() != 9999 {
		t.Errorf("Port() = %d, want 9999", r.Port())
	}
	if r.DefaultInterval() != 7*time.Second {
		t.Errorf("DefaultInterval() = %v, want 7s", r.DefaultInterval())
	}
	if len(r.Targets()) != 1 {
		t.Errorf("len(Targets()) = %d, want 1", len(r.Targets()))
	}
}

func TestMapToKeyValuePairs_Sorted(t *testing.T) {
	got := mapToKeyValuePairs(map[string]string{"b": "2", "a": "1", "c": "3"})
	want := []string{"a", "1", "b", "2", "c", "3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pairs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
