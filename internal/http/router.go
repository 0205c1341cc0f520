package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/eventhub/server/internal/auth"
	"github.com/eventhub/server/internal/config"
	"github.com/eventhub/server/internal/http/handlers"
	"github.com/eventhub/server/internal/middleware"
	"github.com/eventhub/server/internal/repo"
)

// NewRouter creates the HTTP router with all routes configured
func NewRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	tokens *auth.TokenService,
	users repo.UserRepo,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AppOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	// The in-memory limiter is a transport guard only; the auth core enforces
	// the per-phone resend cooldown itself.
	otpLimiter := middleware.NewRateLimiter(cfg.OtpRateLimitWindow, cfg.OtpRateLimitMax)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(otpLimiter, middleware.IPKey))
			r.Post("/request-otp", authHandler.HandleRequestOtp)
			r.Post("/verify-otp", authHandler.HandleVerifyOtp)
		})
		r.Post("/refresh", authHandler.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokens, users))
			r.Post("/logout", authHandler.HandleLogout)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(tokens, users))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
