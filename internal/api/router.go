package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	ratelimit "uni.edu.pe/chatbot-uni/internal/middleware"
)

type RouterConfig struct {
	StaticDir      string
	AuthLimiter    *ratelimit.LimiterStore
	MessageLimiter *ratelimit.LimiterStore
}

func NewRouter(apiHandler *APIHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(RequestLogger)

	pages := NewPages(apiHandler, cfg.StaticDir)

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/programs", apiHandler.ProgramsHandler)
		r.Group(func(r chi.Router) {
			if cfg.AuthLimiter != nil {
				r.Use(ratelimit.RateLimit(cfg.AuthLimiter, ratelimit.ClientIP))
			}
			r.Post("/register", apiHandler.RegisterHandler)
			r.Post("/login", apiHandler.LoginHandler)
			r.Post("/login/google", apiHandler.GoogleLoginHandler)
		})

		// The websocket authenticates from its query string.
		r.Get("/history/ws", apiHandler.HistoryWSHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/me", apiHandler.MeHandler)
			r.Put("/me/profile", apiHandler.CompleteProfileHandler)
			r.Put("/me/display-name", apiHandler.UpdateDisplayNameHandler)

			// Chat session routes
			r.Post("/sessions", apiHandler.CreateSessionHandler)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", apiHandler.GetSessionHandler)
				r.Delete("/", apiHandler.CloseSessionHandler)
				r.Put("/draft", apiHandler.SetDraftHandler)
				r.Post("/open", apiHandler.OpenTranscriptHandler)
				r.Post("/reset", apiHandler.ResetSessionHandler)
				r.Post("/retry", apiHandler.RetryHandler)
				r.Group(func(r chi.Router) {
					if cfg.MessageLimiter != nil {
						r.Use(ratelimit.RateLimit(cfg.MessageLimiter, UserKey))
					}
					r.Post("/messages", apiHandler.PostMessageHandler)
					r.Post("/suggestions/{index}", apiHandler.SubmitSuggestionHandler)
				})
			})

			// History routes
			r.Get("/history", apiHandler.ListHistoryHandler)
			r.Delete("/history/{transcriptID}", apiHandler.DeleteHistoryHandler)
		})
	})

	// Client routes
	r.Get("/", pages.Root)
	r.Get("/login", pages.Public)
	r.Get("/register", pages.Public)
	r.Get("/chat", pages.Protected)
	r.Get("/chat/{transcriptID}", pages.Protected)
	r.Get("/history", pages.Protected)
	r.Get("/settings", pages.Protected)
	r.NotFound(pages.NotFound)

	return r
}
