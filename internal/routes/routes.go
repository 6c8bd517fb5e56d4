package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/zootopia/storefront/internal/auth"
	"github.com/zootopia/storefront/internal/handlers"
	"github.com/zootopia/storefront/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	sessions auth.SessionValidator,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", healthHandler.Health)

	router.Route("/api/users", func(r chi.Router) {
		// Password and code steps share one per-IP budget
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Post("/auth", authHandler.Login)
			r.Post("/auth/mfa", authHandler.VerifyMFA)
			r.Post("/register", authHandler.Register)
		})

		r.Post("/logout", authHandler.Logout)

		// Session required; MFA-scoped tokens are rejected by the middleware
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(sessions))
			r.Get("/profile", authHandler.Profile)
		})
	})
}
