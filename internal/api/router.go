package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/handlers"
	"github.com/eldtechnologies/deskchat/internal/hub"
	"github.com/eldtechnologies/deskchat/internal/store"
)

// Deps are the services the router wires into handlers. Redis is optional.
type Deps struct {
	Store          store.DataStore
	Redis          *store.RedisStore
	Tokens         *crypto.TokenIssuer
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router. It also returns the
// event hub, which the caller starts once the router is built.
func NewRouter(logger zerolog.Logger, deps Deps) (*chi.Mux, *hub.Hub) {
	r := chi.NewRouter()

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	hubOpts := hub.Options{
		OnPresence:  handlers.RecordPresence(deps.Store, deps.Redis),
		CheckOrigin: originChecker(origins),
	}
	// a nil *RedisStore must not become a non-nil Relay
	if deps.Redis != nil {
		hubOpts.Relay = deps.Redis
	}
	events := hub.New(logger, hubOpts)
	h := handlers.NewHandler(deps.Store, deps.Redis, events, deps.Tokens, logger)
	auth := middleware.NewAuthMiddleware(deps.Tokens, deps.Store, deps.Redis)

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis
	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, deps.RateLimit)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		// Authenticated routes (require session token)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Post("/auth/logout", h.Logout)

			r.Get("/users/me", h.Me)
			r.Get("/users", h.ListUsers)
			r.Get("/users/{id}", h.GetUser)
			r.Put("/users/status", h.UpdateStatus)
			r.Get("/available-agents", h.AvailableAgents)
			r.Get("/available-customers", h.AvailableCustomers)

			r.Get("/chats", h.ListChats)
			r.Post("/chats", h.CreateChat)
			r.Get("/archived-chats", h.ListArchivedChats)
			r.Get("/chats/{id}", h.GetChat)
			r.Put("/chats/{id}/status", h.UpdateChatStatus)
			r.Put("/chats/{id}/archive", h.ArchiveChat)
			r.Put("/chats/{id}/unarchive", h.UnarchiveChat)
			r.Get("/chats/{id}/messages", h.ListMessages)
			r.Post("/chats/{id}/messages", h.SendMessage)

			r.Get("/stats", h.Stats)
			r.Get("/ws", h.ServeWS)
		})
	})

	return r, events
}

// originChecker validates websocket Origin headers against the CORS list.
func originChecker(origins []string) func(r *http.Request) bool {
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no Origin
		return origin == "" || slices.Contains(origins, origin)
	}
}
