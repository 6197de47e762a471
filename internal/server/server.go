// Package server exposes the console's REST API, the websocket push
// endpoint, and the embedded UI.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"datadesk/internal/cache"
	"datadesk/internal/fault"
	"datadesk/internal/frontend"
	"datadesk/internal/logging"
	"datadesk/internal/notify"
	"datadesk/internal/report"
	"datadesk/internal/session"
	"datadesk/internal/settings"
	"datadesk/internal/source"
)

// Config holds server dependencies.
type Config struct {
	Settings *settings.Settings
	Registry *source.Registry
	Sessions *session.Manager
	Reports  *report.Builder
	Cache    *cache.Store
	Hub      *notify.Hub

	Logger *slog.Logger
}

// Server is the console HTTP server.
type Server struct {
	settings *settings.Settings
	registry *source.Registry
	sessions *session.Manager
	reports  *report.Builder
	cache    *cache.Store
	hub      *notify.Hub

	limiter *rateLimiter
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	inFlight sync.WaitGroup // tracks in-flight requests for graceful drain
	draining atomic.Bool
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		settings: cfg.Settings,
		registry: cfg.Registry,
		sessions: cfg.Sessions,
		reports:  cfg.Reports,
		cache:    cfg.Cache,
		hub:      cfg.Hub,
		limiter:  newRateLimiter(rate.Every(time.Second), 10),
		logger:   logging.Default(cfg.Logger).With("component", "server"),
	}
}

// buildMux registers every route. Trailing slashes are part of the
// path contract the front end relies on.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /settings/{$}", s.handleSettings)

	mux.HandleFunc("GET /source/list/{$}", s.handleSourceList)
	mux.HandleFunc("GET /source/{id}/load-nodes/{$}", s.handleLoadNodes)
	mux.HandleFunc("POST /source/create/{$}", s.handleSourceCreate)
	mux.HandleFunc("POST /source/update/{$}", s.handleSourceUpdate)
	mux.HandleFunc("POST /source/update-layout/{$}", s.handleUpdateLayout)

	mux.HandleFunc("GET /node/view/{nodeId}/{$}", s.handleNodeView)
	mux.HandleFunc("GET /node/kill/{nodeId}/{$}", s.handleNodeKill)
	mux.HandleFunc("DELETE /node/kill/{nodeId}/{$}", s.handleNodeKill)
	mux.HandleFunc("GET /node/clear-cache/{nodeId}/{$}", s.handleNodeClearCache)
	mux.HandleFunc("DELETE /node/clear-cache/{nodeId}/{$}", s.handleNodeClearCache)

	mux.HandleFunc("GET /node/profile-report/{nodeId}/{$}", s.handleProfileReportPage)
	mux.HandleFunc("GET /node/build-profile-report/{nodeId}/{$}", s.handleBuildProfileReport)
	mux.HandleFunc("GET /node/view-profile-report/{nodeId}/{$}", s.handleViewProfileReport)

	mux.HandleFunc("GET /ws/{clientId}/{$}", s.handleWebsocket)

	if h := frontend.Handler(s.settings.AppTitle); h != nil {
		mux.Handle("/", h)
	}

	return mux
}

// Handler returns the full handler stack. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.trackingMiddleware(rateLimitMiddleware(s.limiter)(s.buildMux()))
}

// trackingMiddleware counts in-flight requests so Stop can drain them,
// rejecting new work once draining starts.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// Serve starts the server on the given listener and blocks until it
// stops.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler()}
	s.mu.Unlock()

	var cleanupWG sync.WaitGroup
	s.limiter.startCleanup(ctx, &cleanupWG, time.Minute, 10*time.Minute)
	defer cleanupWG.Wait()

	s.logger.Info("server starting", "addr", listener.Addr().String())
	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	s.logger.Info("server stopping")
	s.draining.Store(true)
	// Websocket handlers block in their read loop and count as
	// in-flight, so the hub has to go down before the drain.
	s.hub.Close()
	s.inFlight.Wait()
	return server.Shutdown(ctx)
}

// respond writes v as JSON.
func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// respondError maps a fault kind to its HTTP status and sends the
// underlying message to the client.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.KindOf(err).HTTPStatus()
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.respond(w, status, errorBody{Error: err.Error()})
}

// clientID reads the optional client_id query parameter from a
// mutating request. The front end sends the same id it registered its
// websocket under (the clientId segment of /ws/{clientId}/), so the
// broadcast triggered by the request skips the originator's own
// socket. Absent or unmatched ids broadcast to every connection.
func clientID(r *http.Request) string {
	return r.URL.Query().Get("client_id")
}
