package webbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/germanamz/illias/pkg/engine"
)

const shutdownTimeout = 5 * time.Second

// Server serves one session over HTTP.
type Server struct {
	engine   *engine.Engine
	session  *engine.Session
	origins  []string
	decimals int
	log      *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithAllowedOrigins sets the origins allowed by CORS and the WebSocket
// handshake. Patterns may contain one "*" wildcard. Empty allows only
// same-origin requests.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server bound to session s of engine e.
func New(e *engine.Engine, s *engine.Session, opts ...Option) *Server {
	srv := &Server{
		engine:   e,
		session:  s,
		decimals: e.Config().DecimalPlaces(),
		log:      slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", s.handleProviders)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSnapshot)
			r.Post("/messages", s.handleSend)
			r.Post("/clear", s.handleClear)
			r.Put("/provider", s.handleSetProvider)
			r.Put("/model", s.handleSetModel)
			r.Put("/credential", s.handleSetCredential)
			r.Put("/params", s.handleSetParams)
		})
	})

	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("bridge listening", "addr", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("webbridge: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webbridge: shutdown: %w", err)
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webbridge: %w", err)
	}

	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
