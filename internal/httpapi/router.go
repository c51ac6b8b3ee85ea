// ABOUTME: chi router and middleware wiring for the relay-gateway API
// ABOUTME: Request-ID tagging, slog request logging, CORS and panic recovery

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// Router builds the HTTP routing table.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.requestID)
	r.Use(a.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Put("/users", a.handleCreateUser)
		r.Get("/users", a.handleListUsers)
		r.Delete("/users/{id}", a.handleDeleteUser)
		r.Put("/contacts", a.handleCreateContact)
		r.Get("/contacts", a.handleListContacts)
		r.Delete("/contacts/{id}", a.handleDeleteContact)

		r.Post("/messages/send", a.handleSendMessage)
		r.Post("/messages/receive/text", a.handleReceiveText)
		r.Post("/messages/receive/email", a.handleReceiveEmail)

		r.Get("/conversations", a.handleListConversations)
		r.Get("/conversations/{id}/messages", a.handleConversationMessages)

		if a.loopback {
			r.Post("/test/messages/receive", a.handleLoopbackReceive)
		}
	})

	r.Get("/healthz", a.handleHealth)

	return r
}

// requestID tags each request with a generated identifier for log correlation.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with method, path, status and duration.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		a.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", ww.Header().Get("X-Request-ID"))
	})
}
