package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smartirrigation/irrigation-api/internal/crypto"
	"github.com/smartirrigation/irrigation-api/internal/middleware"
	"github.com/smartirrigation/irrigation-api/internal/service"
)

// RouterDeps are the collaborators the HTTP API is assembled from.
type RouterDeps struct {
	Auth        *service.AuthService
	Activity    *service.ActivityService
	Tokens      *crypto.TokenIssuer
	Store       Pinger
	AuthLimiter middleware.Limiter
	CORSOrigins []string
	// TrustedProxies may set the client IP from forwarding headers. Empty
	// means RemoteAddr is always the client.
	TrustedProxies []netip.Prefix
	Logger         *slog.Logger
}

// NewRouter builds the API routes.
func NewRouter(d RouterDeps) http.Handler {
	authHandler := NewAuthHandler(d.Auth, d.Logger)
	activityHandler := NewActivityHandler(d.Activity, d.Logger)
	healthHandler := NewHealthHandler(d.Store, d.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if len(d.TrustedProxies) > 0 {
		r.Use(middleware.TrustedRealIP(d.TrustedProxies))
	}
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/ready", healthHandler.HandleReady)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.AuthLimiter != nil {
				r.Use(middleware.RateLimit(d.AuthLimiter, d.Logger))
			}
			r.Post("/auth/register", authHandler.HandleRegister)
			r.Post("/auth/login", authHandler.HandleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(d.Tokens))
			r.Get("/auth/me", authHandler.HandleMe)
			r.Post("/activity", activityHandler.HandleCreate)
			r.Get("/activity", activityHandler.HandleList)
		})
	})

	return r
}
