package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/authgateway/app"
	"github.com/upb/authgateway/handlers"
	"github.com/upb/authgateway/middleware"
	"github.com/upb/authgateway/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestMeta)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	if timeout := deps.Config.Server.RequestTimeout; timeout > 0 {
		r.Use(chimw.Timeout(timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"WWW-Authenticate", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.DB, deps.Logger)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	auth := handlers.NewAuthHandler(deps.AuthService, deps.Logger)
	users := handlers.NewUserHandler(deps.UserService, deps.Audit, deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		// credential exchange ignores the Authorization header so an expired
		// access token never blocks a refresh
		r.Route("/auth", func(r chi.Router) {
			r.Post("/google", auth.HandleGoogleLogin)
			r.Post("/refresh", auth.HandleRefresh)
			r.Post("/logout", auth.HandleLogout)
			r.With(deps.AuthMiddleware.Authenticate, deps.AuthMiddleware.RequireAuth).Get("/me", auth.HandleMe)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.Authenticate)
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/me", users.HandleGetMe)
			r.Put("/me", users.HandleUpdateMe)
			r.Delete("/me", users.HandleDeleteMe)
			r.Post("/me/sync", users.HandleSyncMe)
			r.Get("/me/activity", users.HandleActivity)
			r.Get("/{id}", users.HandleGetUser)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: "Method not allowed",
		})
	})

	return r
}
