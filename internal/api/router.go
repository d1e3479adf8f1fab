package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, pollInterval time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	streamHandler := NewStreamHandler(apiHandler, pollInterval)

	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Chat routes: anonymous callers are allowed, the middleware
		// only resolves who is asking.
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.IdentityMiddleware)

			r.Post("/chat", apiHandler.ChatHandler)
			r.Get("/messages", apiHandler.MessagesHandler)
			r.Get("/messages/stream", streamHandler.ServeHTTP)
			r.Get("/quota", apiHandler.QuotaHandler)
		})
	})

	return r
}
