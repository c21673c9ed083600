package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/web/handlers"
	"github.com/kozaktomas/face-matcher/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	maxUpload := s.config.Web.MaxUploadSize

	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.deps.Store.Strategy(), s.deps.Pinger)
	statsHandler := handlers.NewStatsHandler(s.deps.Store, s.deps.Engine.Threshold(), s.deps.Engine.Dim())
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Engine, s.deps.Extractor, maxUpload)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Flow, s.deps.Store, maxUpload, statsHandler.InvalidateCache)
	indexHandler := handlers.NewIndexHandler(s.deps.Store, statsHandler.InvalidateCache)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/stats", statsHandler.Get)

		r.Get("/identities", identitiesHandler.List)
		r.Get("/identities/{id}", identitiesHandler.Get)
		r.Delete("/identities/{id}", identitiesHandler.Delete)

		// Image uploads
		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(maxUpload))

			r.Post("/recognize", recognizeHandler.Recognize)
			r.Post("/identities", identitiesHandler.Register)
		})

		// Raw embeddings
		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(constants.MaxJSONBodySize))

			r.Post("/recognize/embedding", recognizeHandler.RecognizeEmbedding)
			r.Post("/identities/embedding", identitiesHandler.RegisterEmbedding)
			r.Post("/index/rebuild", indexHandler.Rebuild)
		})
	})
}
