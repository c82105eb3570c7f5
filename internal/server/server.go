// Package server exposes SnapGuard over HTTP.
//
// Routes:
//
//	POST /api/images        upload an image, returns the share link
//	GET  /api/images        dashboard list, newest first
//	GET  /api/images/{id}   record detail with its access log
//	GET  /api/events        websocket, record change notifications
//	GET  /view/{id}         websocket, one view session per connection
//
// The image payload is never served by a plain GET. It only travels inside
// the frames of a live view session.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/render"
	"github.com/roach88/snapguard/internal/session"
	"github.com/roach88/snapguard/internal/store"
)

// DefaultMaxUploadBytes caps the upload request body.
const DefaultMaxUploadBytes = 32 << 20

// Server wires the record store, access logger and renderer to HTTP.
type Server struct {
	records     store.RecordStore
	logger      *access.Logger
	renderer    *render.Renderer
	ids         access.IDGenerator
	now         func() time.Time
	sessionOpts []session.Option

	publicURL      string
	allowedOrigins []string
	maxUploadBytes int64

	upgrader websocket.Upgrader
	hub      *Hub
	router   chi.Router

	startOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithPublicURL sets the base URL used to build share links.
func WithPublicURL(u string) Option {
	return func(s *Server) {
		s.publicURL = strings.TrimRight(u, "/")
	}
}

// WithAllowedOrigins sets the CORS and websocket origin allow list.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithSessionOptions configures the engine built for every view connection.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// WithRenderer replaces the default frame renderer.
func WithRenderer(r *render.Renderer) Option {
	return func(s *Server) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithIDGenerator sets the record id generator used by uploads.
func WithIDGenerator(ids access.IDGenerator) Option {
	return func(s *Server) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithNow sets the clock used to stamp uploads.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxUploadBytes caps the upload request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// New creates a Server. Call Start (or ListenAndServe) before serving
// websocket traffic.
func New(records store.RecordStore, logger *access.Logger, opts ...Option) *Server {
	s := &Server{
		records:        records,
		logger:         logger,
		renderer:       render.New(),
		ids:            access.ShortIDGenerator{},
		now:            time.Now,
		publicURL:      "http://localhost:8080",
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.hub = NewHub(&s.upgrader)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleDetail)
		})
		r.Get("/events", s.hub.ServeWS)
	})

	r.Get("/view/{id}", s.handleView)

	return r
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the dashboard hub and subscribes it to store changes. Both
// stop when ctx is cancelled. Only the first call has an effect.
func (s *Server) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		events, unsubscribe := s.records.Subscribe(clientSendBuffer)
		s.hub.Start(ctx)
		go func() {
			defer unsubscribe()
			s.hub.Relay(ctx, events)
		}()
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)

	// No WriteTimeout: view sockets outlive any fixed deadline.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "public_url", s.publicURL)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// shareLink returns the viewer URL for id.
func (s *Server) shareLink(id string) string {
	return s.publicURL + "/view/" + url.PathEscape(id)
}

// checkOrigin accepts clients without an Origin header, same-host clients
// and allow-listed origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.allowedOrigins, origin) || slices.Contains(s.allowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
