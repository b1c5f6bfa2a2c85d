package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/hostd/internal/controlplane/api/auth"
	"github.com/marmos91/hostd/internal/controlplane/api/handlers"
	apiMiddleware "github.com/marmos91/hostd/internal/controlplane/api/middleware"
)

// NewRouter builds the chi router of the control surface.
//
// Routes:
//   - GET /health/live - Liveness probe
//   - GET /health/ready - Readiness probe
//   - POST /api/v1/auth/token - Exchange the admin secret for tokens
//   - POST /api/v1/auth/refresh - Token refresh
//   - GET /api/v1/auth/me - Current token info
//   - GET /api/v1/status, POST /api/v1/stop
//   - GET /api/v1/modules, PUT /api/v1/modules/{filename}
//   - POST /api/v1/modules/{name}/load, DELETE /api/v1/modules/{name}
//   - GET|POST /api/v1/services, POST /api/v1/services/start|stop
func NewRouter(rt handlers.Runtime, jwtService *auth.JWTService, config APIConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.RequestContext)
	r.Use(apiMiddleware.Tracing)
	r.Use(apiMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.RequestTimeout))

	healthHandler := handlers.NewHealthHandler(rt)
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health/live", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(config.Admin.SecretHash, jwtService)
	statusHandler := handlers.NewStatusHandler(rt)
	moduleHandler := handlers.NewModuleHandler(rt)
	serviceHandler := handlers.NewServiceHandler(rt)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/token", authHandler.Token)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))
			r.Use(apiMiddleware.RequireAdmin())

			r.Get("/status", statusHandler.Status)
			r.Post("/stop", statusHandler.Stop)

			r.Route("/modules", func(r chi.Router) {
				r.Get("/", moduleHandler.List)
				r.Put("/{filename}", moduleHandler.Register)
				r.Post("/{name}/load", moduleHandler.Load)
				r.Delete("/{name}", moduleHandler.Delete)
			})

			r.Route("/services", func(r chi.Router) {
				r.Get("/", serviceHandler.List)
				r.Post("/", serviceHandler.Register)
				r.Post("/start", serviceHandler.Start)
				r.Post("/stop", serviceHandler.Stop)
			})
		})
	})

	return r
}
