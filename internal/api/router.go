package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/scholia/internal/noteservice"
)

// NewRouter creates a chi router with all API routes, meant to be mounted
// at /api. authEnabled controls whether the bearer token is enforced.
// events, if non-nil, is served at GET /events behind the same auth.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, events http.Handler, logger *slog.Logger) chi.Router {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})
	r.Get("/session", h.Session)

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", h.ListNotes)
		r.Post("/", h.CreateNote)
		r.Post("/import", h.ImportNote)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetNote)
			r.Patch("/", h.UpdateNote)
			r.Delete("/", h.DeleteNote)
			r.Get("/export", h.ExportNote)
			r.Post("/select", h.SelectNote)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NoCache)
				r.Post("/ocr", h.ExtractText)
				r.Post("/analyze", h.AnalyzeNote)
				r.Put("/questions/{qid}/answer", h.SetAnswer)
				r.Post("/grade", h.GradeQuiz)
				r.Post("/chat", h.Chat)
			})
		})
	})

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}
	return r
}
