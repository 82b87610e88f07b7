package httpapi

import (
	"net/http"
	"time"

	"modabot/internal/http/handlers"
	"modabot/internal/infra"
	appmw "modabot/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the plugin's HTTP surface. Generation routes carry a rate
// limit because each request occupies an upstream job slot until its poll
// loop ends.
func NewRouter(app *handlers.App, logger *infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		appmw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		appmw.Logger(*logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/moda", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(appmw.RateLimit(10, time.Minute))
			r.Get("/generate", app.ModaGenerate)
			r.Get("/edit", app.ModaEdit)
			r.Get("/ai", app.ModaAI)
		})
		r.Get("/tasks", app.ModaTasks)
		r.Get("/tasks/{id}", app.ModaTask)
		r.Get("/favorites", app.ModaFavorites)
		r.Post("/tasks/{id}/favorite", app.ModaFavorite)
		r.Delete("/tasks/{id}/favorite", app.ModaUnfavorite)
	})

	return r
}
