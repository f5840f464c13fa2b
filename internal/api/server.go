// Package api serves a small loopback HTTP API for inspecting and
// controlling a running session.
//
//	GET  /v1/healthz     liveness
//	GET  /v1/status      session snapshot
//	GET  /v1/metrics     counters
//	POST /v1/disconnect  start a disconnect
//	POST /v1/proxy       point the system proxy at the tunnel
//
// It is optional; the session core opens no listeners of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	vpnerr "sshvpn/internal/errors"
	"sshvpn/internal/metrics"
	"sshvpn/internal/proxy"
	"sshvpn/internal/session"
	"sshvpn/util"
)

// APIVersion prefixes every route.
const APIVersion = "v1"

// DefaultAddress is used when Options.Addr is empty.
const DefaultAddress = "127.0.0.1:8787"

// Session is the part of *session.Controller the API exposes.
type Session interface {
	Snapshot() session.Snapshot
	Disconnect() error
	EnableProxy(ctx context.Context) (proxy.Outcome, error)
}

// Options configures a Server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *util.Logger
	Metrics         *metrics.Collector
}

// Server hosts the API.
type Server struct {
	sess   Session
	opts   Options
	logger *util.Logger
	http   *http.Server
}

// Error is the body of every non-2xx response.
type Error struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// TimeNow is the response clock.
var TimeNow = time.Now //nolint:gochecknoglobals

// New returns a server for sess.  It does not listen until Start.
func New(sess Session, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		// EnableProxy may run nmcli; leave it room.
		opts.WriteTimeout = 45 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}

	s := &Server{sess: sess, opts: opts, logger: logger}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/"+APIVersion, func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/proxy", s.handleProxy)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start listens on the configured address and serves in the
// background.  It returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API: %v", err)
		}
	}()
	s.logger.Verbose("Status API listening on http://%s/%s/", ln.Addr(), APIVersion)
	return ln.Addr(), nil
}

// Stop shuts the server down, waiting up to ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// ── handlers ─────────────────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": timestamp(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Metrics.Snapshot())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	before := s.sess.Snapshot().Status
	if err := s.sess.Disconnect(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if before == session.Idle {
		writeJSON(w, http.StatusOK, map[string]string{"status": session.Idle.String()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": session.Disconnecting.String()})
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	out, err := s.sess.EnableProxy(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proxy":    out,
		"endpoint": s.sess.Snapshot().Endpoint,
	})
}

// ── helpers ──────────────────────────────────────────────────────────

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case vpnerr.Is(err, vpnerr.ErrBusy), vpnerr.Is(err, vpnerr.ErrNotConnected):
		return http.StatusConflict
	case vpnerr.Is(err, vpnerr.ErrProxyConfig):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api %s %s -> %d (%v)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Error{Error: msg, Timestamp: timestamp()})
}

func timestamp() string {
	return TimeNow().UTC().Format(time.RFC3339)
}
