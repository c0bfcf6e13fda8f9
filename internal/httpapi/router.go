package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Get("/v1/healthz", app.Health)

	r.Post("/v1/generate-preview", app.GeneratePreview)
	r.Post("/v1/calculate-price", app.CalculatePrice)
	r.Get("/v1/previews/{id}", app.GetPreview)

	r.Route("/v1/wizard", func(r chi.Router) {
		r.Get("/status", app.WizardStatus)
		r.Post("/generate", app.WizardGenerate)
		r.Post("/train-index", app.TrainIndex)
	})

	return r
}
