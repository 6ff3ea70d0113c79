package router

import (
	"log/slog"
	"net/http"

	"memberauth/internal/http/handlers"
	mw "memberauth/internal/http/middleware"
	"memberauth/internal/http/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Logger        *slog.Logger
	Handler       *handlers.Handler
	Authenticator mw.Authenticator
	Health        map[string]handlers.Pinger
	Gatherer      prometheus.Gatherer
	CORSOrigins   []string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mw.Logger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.DeviceIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Authenticate(d.Logger, d.Authenticator))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeFail, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.CodeFail, "Method not allowed")
	})

	r.Get("/health", handlers.Health(d.Logger, d.Health))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	h := d.Handler
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/reissue", h.Reissue)
		r.Post("/logout", h.Logout)
		r.Get("/logout", h.Logout)
		r.Post("/email", h.SendEmailCode)
		r.Post("/email/verify", h.VerifyEmailCode)
	})

	r.Route("/api/member", func(r chi.Router) {
		r.Post("/signup", h.Signup)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequirePrincipal)
			r.Get("/me", h.Me)
		})
	})

	return r
}
