package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/poll/internal/store"
)

const (
	// sseWriteTimeout bounds a single SSE write so a stuck client cannot
	// pin its handler past shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle     = "poll"
	titlePlaceholder = "{{.Title}}"

	// DefaultTriggerRate is how often each watch may be refreshed through
	// the API.
	DefaultTriggerRate = rate.Limit(1)

	// DefaultTriggerBurst is how many manual refreshes per watch may be
	// made back to back.
	DefaultTriggerBurst = 3
)

var (
	// ErrUnknownWatch is returned by a [Refresher] for names it does not hold.
	ErrUnknownWatch = errors.New("unknown watch")

	// ErrUnavailable is returned by a [Refresher] that can no longer refresh,
	// typically during shutdown.
	ErrUnavailable = errors.New("watch unavailable")
)

// Refresher forces an immediate refresh of one watch. It returns once the
// refresh has settled and the store holds the result.
type Refresher interface {
	Refresh(ctx context.Context, name string) error
}

// Config holds the server's tunables.
type Config struct {
	// Port to listen on. Zero picks a free port, see [Server.Addr].
	Port int

	// Title shown by the dashboard. Defaults to "poll".
	Title string

	// TriggerRate and TriggerBurst shape the per-watch limiter on
	// POST /api/watches/{name}/refresh. Zero values use the defaults.
	TriggerRate  rate.Limit
	TriggerBurst int
}

// Server serves the dashboard, the watch API and the SSE stream.
//
// Routes:
//   - GET /: dashboard
//   - GET /healthz: 200 once listening, 503 before
//   - GET /api/watches: all snapshots
//   - GET /api/watches/{name}: one snapshot
//   - POST /api/watches/{name}/refresh: refresh one watch now
//   - GET /api/sse: snapshot stream
type Server struct {
	store     store.Store
	refresher Refresher
	cfg       Config
	assets    fs.FS
	logger    *slog.Logger

	ready    atomic.Bool
	limiters sync.Map // watch name -> *rate.Limiter

	httpServer *http.Server
	addr       atomic.String
}

// NewServer creates a [Server]. assets may be nil, in which case no
// dashboard is served. Nothing listens until [Server.Start].
func NewServer(st store.Store, refresher Refresher, cfg Config, assets fs.FS, logger *slog.Logger) *Server {
	if cfg.TriggerRate == 0 {
		cfg.TriggerRate = DefaultTriggerRate
	}
	if cfg.TriggerBurst <= 0 {
		cfg.TriggerBurst = DefaultTriggerBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     st,
		refresher: refresher,
		cfg:       cfg,
		assets:    assets,
		logger:    logger,
	}
}

// Handler returns the router. It is usable without [Server.Start], with
// /healthz reporting 503.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog(s.logger))

	r.With(waitReady(&s.ready)).Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/watches", s.handleList)
		r.Get("/watches/{name}", s.handleGet)
		r.Post("/watches/{name}/refresh", s.handleRefresh)
		r.Get("/sse", s.handleSSE)
	})

	if s.assets != nil {
		r.Get("/", s.handleDashboard)
	}

	return r
}

// Start binds the port and serves in the background until ctx is
// cancelled, then shuts down with a 5 second grace period.
//
// Returns an error if the port cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}
	s.addr.Store(ln.Addr().String())

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with ctx so SSE handlers return on shutdown
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.ready.Store(true)
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before [Server.Start].
func (s *Server) Addr() string {
	return s.addr.Load()
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetAll())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap, ok := s.store.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", ErrUnknownWatch, name))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRefresh forces a refresh and answers with the resulting snapshot.
// A probe that ran but failed answers 502 with the snapshot, whose error
// field carries the cause.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.store.Get(name); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", ErrUnknownWatch, name))
		return
	}

	lim := s.limiter(name)
	if !lim.Allow() {
		w.Header().Set("Retry-After", retryAfter(lim))
		writeError(w, http.StatusTooManyRequests, errors.New("refresh rate limit exceeded"))
		return
	}

	err := s.refresher.Refresh(r.Context(), name)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownWatch):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		snap, _ := s.store.Get(name)
		writeJSON(w, http.StatusBadGateway, snap)
		return
	}

	snap, _ := s.store.Get(name)
	writeJSON(w, http.StatusOK, snap)
}

// limiter returns the trigger limiter for name, creating it on first use.
func (s *Server) limiter(name string) *rate.Limiter {
	if v, ok := s.limiters.Load(name); ok {
		return v.(*rate.Limiter)
	}
	v, _ := s.limiters.LoadOrStore(name, rate.NewLimiter(s.cfg.TriggerRate, s.cfg.TriggerBurst))
	return v.(*rate.Limiter)
}

// retryAfter is the whole number of seconds until lim admits one event.
func retryAfter(lim *rate.Limiter) string {
	res := lim.Reserve()
	delay := res.Delay()
	res.Cancel()

	secs := int(delay / time.Second)
	if delay%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.cfg.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleSSE streams snapshots as Server-Sent Events: every stored snapshot
// first, then each update.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	deadlines := true

	writeEvent := func(snap store.Snapshot) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return nil
		}
		if deadlines {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				deadlines = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, snap := range s.store.GetAll() {
		if err := writeEvent(snap); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(snap); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
