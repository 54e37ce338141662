// Package server exposes the tamper check over HTTP for upload clients.
//
// Routes:
//
//	POST /api/check_invoice   multipart upload, field "invoice"
//	GET  /artifacts/*         evidence images (local artifact backend only)
//	GET  /healthz
//
// Each upload is written to its own temporary directory, removed when the
// request ends. Nothing is shared between requests.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"invoiceguard/internal/logger"
	"invoiceguard/internal/pipeline"
)

// Checker runs the tamper check on a stored upload.
type Checker interface {
	CheckDocument(ctx context.Context, path string) (*pipeline.Verdict, error)
}

// Config holds the HTTP settings resolved at startup.
type Config struct {
	Addr string

	// UploadDir is the parent of the per-request upload directories.
	UploadDir string

	// MaxUploadBytes bounds the uploaded file size.
	MaxUploadBytes int64

	// ArtifactDir is served under /artifacts when set.
	ArtifactDir string

	AllowedOrigins []string

	// Timeout bounds one pipeline run.
	Timeout time.Duration
}

// Server is the HTTP upload collaborator.
type Server struct {
	checker Checker
	config  Config
	log     zerolog.Logger
}

// New creates a server over checker.
func New(checker Checker, config Config) *Server {
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	return &Server{
		checker: checker,
		config:  config,
		log:     logger.WithComponent("server"),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/check_invoice", s.handleCheckInvoice)

	if s.config.ArtifactDir != "" {
		files := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.config.ArtifactDir)))
		r.Get("/artifacts/*", func(w http.ResponseWriter, req *http.Request) {
			// Run directories are not browsable.
			if path := req.URL.Path; path == "" || path[len(path)-1] == '/' {
				http.NotFound(w, req)
				return
			}
			files.ServeHTTP(w, req)
		})
	}

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.config.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := logger.WithRequestID(middleware.GetReqID(r.Context()))
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
