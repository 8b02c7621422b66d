package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/poll/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRefresher records refreshes and writes a fixed snapshot to the store.
type fakeRefresher struct {
	st  store.Store
	err error

	mu    sync.Mutex
	names []string
}

func (f *fakeRefresher) Refresh(_ context.Context, name string) error {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()

	if errors.Is(f.err, ErrUnknownWatch) || errors.Is(f.err, ErrUnavailable) {
		return f.err
	}

	snap, _ := f.st.Get(name)
	snap.Refreshes++
	if f.err != nil {
		msg := f.err.Error()
		snap.Error = &msg
	} else {
		snap.Error = nil
		snap.Status = "up"
	}
	f.st.Update(snap)
	return f.err
}

func (f *fakeRefresher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *store.MemoryStore, *fakeRefresher) {
	t.Helper()
	st := store.NewMemoryStore()
	st.Update(store.Snapshot{Name: "api", URL: "http://example.com/health", Status: "down", ShouldRefresh: true})
	st.Update(store.Snapshot{Name: "db", URL: "http://example.com/db", Status: "up"})

	ref := &fakeRefresher{st: st}
	return NewServer(st, ref, cfg, nil, testLogger()), st, ref
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_ListWatches(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/watches")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []store.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "api", got[0].Name)
	assert.Equal(t, "db", got[1].Name)
}

func TestServer_GetWatch(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/watches/db")
	require.Equal(t, http.StatusOK, rec.Code)

	var got store.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "db", got.Name)
	assert.Equal(t, "up", got.Status)
}

func TestServer_GetUnknownWatch(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/watches/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown watch")
}

func TestServer_Refresh(t *testing.T) {
	srv, _, ref := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/watches/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	var got store.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "up", got.Status)
	assert.Equal(t, uint64(1), got.Refreshes)
	assert.Equal(t, []string{"api"}, ref.calls())
}

func TestServer_RefreshMethodNotAllowed(t *testing.T) {
	srv, _, ref := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/watches/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, ref.calls())
}

func TestServer_RefreshUnknownWatch(t *testing.T) {
	srv, _, ref := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/watches/nope/refresh")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ref.calls())
}

func TestServer_RefreshErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"probe failed", errors.New("connection refused"), http.StatusBadGateway},
		{"unavailable", fmt.Errorf("api: %w", ErrUnavailable), http.StatusServiceUnavailable},
		{"unknown", fmt.Errorf("api: %w", ErrUnknownWatch), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, ref := newTestServer(t, Config{})
			ref.err = tt.err

			rec := do(t, srv.Handler(), http.MethodPost, "/api/watches/api/refresh")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestServer_RefreshFailureReturnsSnapshot(t *testing.T) {
	srv, _, ref := newTestServer(t, Config{})
	ref.err = errors.New("connection refused")

	rec := do(t, srv.Handler(), http.MethodPost, "/api/watches/api/refresh")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var got store.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, "connection refused", *got.Error)
}

func TestServer_RefreshRateLimited(t *testing.T) {
	srv, _, ref := newTestServer(t, Config{TriggerRate: rate.Every(time.Hour), TriggerBurst: 2})
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/watches/api/refresh").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/watches/api/refresh").Code)

	rec := do(t, h, http.MethodPost, "/api/watches/api/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, ref.calls(), 2)

	// limits are per watch
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/watches/db/refresh").Code)
}

func TestServer_HealthzBeforeStart(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StartServes(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Port: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	require.NotEmpty(t, srv.Addr())

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	base := "http://127.0.0.1:" + port

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/watches/api")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv, _, _ := newTestServer(t, Config{Port: port})
	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}

func TestServer_ShutdownOnCancel(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	cancel()

	_, port, _ := net.SplitHostPort(srv.Addr())
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+port, 50*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHandleSSE_InitialSnapshots(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "api", events[0].Name)
	assert.Equal(t, "db", events[1].Name)
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	srv, st, _ := newTestServer(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	// give the handler time to subscribe
	time.Sleep(50 * time.Millisecond)
	st.Update(store.Snapshot{Name: "api", IsRefreshing: true})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.True(t, events[2].IsRefreshing)
}

func TestHandleSSE_OverRealConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, st, _ := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sse", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent := func() store.Snapshot {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var snap store.Snapshot
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
				return snap
			}
		}
	}

	assert.Equal(t, "api", readEvent().Name)
	assert.Equal(t, "db", readEvent().Name)

	st.Update(store.Snapshot{Name: "db", Status: "down"})
	got := readEvent()
	assert.Equal(t, "db", got.Name)
	assert.Equal(t, "down", got.Status)

	cancel()
	_ = resp.Body.Close()
	ts.CloseClientConnections()
	http.DefaultClient.CloseIdleConnections()
}

func TestHandleDashboard(t *testing.T) {
	assets := fstest.MapFS{
		"assets/index.html": {Data: []byte("<title>{{.Title}}</title>")},
	}

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"default title", "", "<title>poll</title>"},
		{"custom title", "Builds", "<title>Builds</title>"},
		{"escaped title", `<script>&"`, "<title>&lt;script&gt;&amp;&#34;</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(store.NewMemoryStore(), &fakeRefresher{}, Config{Title: tt.title}, assets, testLogger())

			rec := do(t, srv.Handler(), http.MethodGet, "/")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestHandleDashboard_NoAssets(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func parseSSEEvents(t *testing.T, body string) []store.Snapshot {
	t.Helper()
	var out []store.Snapshot
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap store.Snapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		out = append(out, snap)
	}
	return out
}
