package web

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cjeanneret/PiSense/internal/debug"
	"github.com/cjeanneret/PiSense/internal/telemetry"
)

// Deps holds what the server exposes.
type Deps struct {
	Broadcaster    *StatusBroadcaster
	Task           TaskControl
	Metrics        *telemetry.Metrics // nil = no HTTP metrics
	MetricsHandler http.Handler       // nil = no /metrics route
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr           string
	handlers       *Handlers
	metrics        *telemetry.Metrics
	metricsHandler http.Handler
}

// NewServer creates a server for addr.
func NewServer(addr string, deps Deps) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return newServer(addr, deps, subFS), nil
}

func newServer(addr string, deps Deps, staticFS fs.FS) *Server {
	return &Server{
		addr:           addr,
		handlers:       NewHandlers(deps.Broadcaster, deps.Task, deps.Metrics, staticFS),
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(recovery)
	r.Use(requestID)
	r.Use(instrument(s.metrics))

	r.Get("/", s.handlers.ServeIndex)
	r.Get("/healthz", s.handlers.HandleHealthz)
	r.Get("/status", s.handlers.HandleStatus)
	r.Get("/status/stream", s.handlers.HandleStatusStream)
	r.Post("/stop", s.handlers.HandleStop)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// request contexts end with ctx so SSE streams return on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	}
}
