package admin

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wagiedev/rbridge-go/internal/worker"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Bridge is the part of the bridge the admin API reads and controls.
type Bridge interface {
	Ready() bool
	Addr() net.Addr
	Workers() []*worker.Worker
	Worker(id string) (*worker.Worker, bool)
	Kill(ctx context.Context, id string) error
}

// Config holds admin server configuration.
type Config struct {
	// Listen is the HTTP bind address, e.g. "127.0.0.1:7071".
	Listen string
}

// Server is the admin HTTP server.
type Server struct {
	config    Config
	bridge    Bridge
	logger    *slog.Logger
	startedAt time.Time
}

// New creates an admin server for bridge.
func New(config Config, bridge Bridge, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		bridge:    bridge,
		logger:    logger.With("component", "admin"),
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Admin server starting", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Admin server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/workers", func(r chi.Router) {
		r.Get("/", s.handleListWorkers)
		r.Get("/{id}", s.handleGetWorker)
		r.Delete("/{id}", s.handleKillWorker)
		r.Post("/{id}/events", s.handleEmit)
		r.Get("/{id}/stream", s.handleStream)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
