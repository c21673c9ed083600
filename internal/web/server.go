package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/registration"
	"github.com/kozaktomas/face-matcher/internal/web/handlers"
	"github.com/kozaktomas/face-matcher/internal/web/middleware"
)

// Deps are the components the server routes requests to.
type Deps struct {
	Store     database.EmbeddingStore
	Engine    *facematch.Engine
	Flow      *registration.Flow
	Extractor embedder.Extractor // optional, image endpoints answer 503 without it
	Pinger    handlers.Pinger    // optional, used by the health check
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Engine == nil || deps.Flow == nil {
		return nil, errors.New("store, engine and registration flow are required")
	}

	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(constants.RequestTimeout))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Web.Addr(),
		Handler:           r,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
		WriteTimeout:      constants.RequestTimeout + constants.ReadHeaderTimeout,
		IdleTimeout:       constants.RequestTimeout,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s (strategy %s)", s.httpServer.Addr, s.deps.Store.Strategy())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
