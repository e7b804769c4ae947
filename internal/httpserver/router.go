package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/auth"
	"github.com/piotroramus/10x-cards-sub000/internal/handlers"
	"github.com/piotroramus/10x-cards-sub000/internal/metrics"
	"github.com/piotroramus/10x-cards-sub000/internal/middleware"
)

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	verifier *auth.Verifier,
	generations *handlers.GenerationsHandler,
	cardsHandler *handlers.CardsHandler,
) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(60 * time.Second)) // generation can ride out upstream retries
	r.Use(middleware.MaxBodySize(512 * 1024))   // 512 KB max body

	// authenticated API
	r.Route("/api", func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.Post("/generations", generations.Create)

		r.Post("/cards", cardsHandler.Create)
		r.Get("/cards", cardsHandler.List)
		r.Put("/cards/{cardID}", cardsHandler.Update)
		r.Delete("/cards/{cardID}", cardsHandler.Delete)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
