// Package router assembles the chi route tree: public health and
// credential endpoints, the authenticated API surface, and the
// websocket board.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kvasirlabs/waitline/internal/http/handlers"
	httpmiddleware "github.com/kvasirlabs/waitline/internal/http/middleware"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/observability/metrics"
	"github.com/kvasirlabs/waitline/internal/ws"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// Config holds everything the route tree mounts.
type Config struct {
	Logger *logging.Logger

	TokenIssuer *identity.TokenIssuer
	Sessions    *identity.SessionStore

	Auth      *handlers.AuthHandler
	Queue     *handlers.QueueHandler
	Breaks    *handlers.BreaksHandler
	Catalog   *handlers.CatalogHandler
	Manual    *handlers.ManualHandler
	Reporting *handlers.ReportingHandler
	Stats     *handlers.StatsHandler
	Health    *handlers.HealthHandler
	Board     *ws.Board

	RateLimiter    *httpmiddleware.RateLimiter
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler

	CORSAllowedOrigins []string
}

// New builds the router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPMetrics))

	authed := httpmiddleware.Auth(cfg.TokenIssuer, cfg.Sessions, cfg.Logger)

	// Public surface: probes, metrics, credentials, and the reads a
	// lobby display needs before anyone logs in.
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/healthz", cfg.Health.Live)
			public.Get("/readyz", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		public.Route("/api/v1/auth", func(auth chi.Router) {
			if cfg.RateLimiter != nil {
				auth.Use(cfg.RateLimiter.Limit("auth"))
			}
			auth.Post("/register", cfg.Auth.Register)
			auth.Post("/login", cfg.Auth.Login)
		})
		public.Get("/api/v1/queue/wait-times/{businessId}", cfg.Queue.WaitTimes)
		if cfg.Board != nil {
			public.Get("/ws/board/{businessId}", cfg.Board.Handler)
		}
	})

	r.Group(func(private chi.Router) {
		private.Use(authed)

		private.Post("/api/v1/auth/logout", cfg.Auth.Logout)
		private.Patch("/api/v1/users/me/push-token", cfg.Auth.PushToken)

		private.Route("/api/v1/queue", func(q chi.Router) {
			q.Post("/enqueue", cfg.Queue.Enqueue)
			q.Post("/restructure", cfg.Queue.Restructure)
			q.Post("/{queueId}/action", cfg.Queue.Action)
			q.Post("/{queueId}/rating", cfg.Queue.Rating)
			q.Get("/history/user", cfg.Queue.UserHistory)
			q.Get("/history/business/{businessId}", cfg.Queue.BusinessHistory)
			q.With(httpmiddleware.RequireVendor).Get("/helper/{helperId}", cfg.Queue.HelperQueue)
			q.With(httpmiddleware.RequireVendor).Get("/helper/{helperId}/recent-actions", cfg.Queue.RecentActions)
		})

		private.Route("/api/v1/breaks", func(b chi.Router) {
			b.Use(httpmiddleware.RequireVendor)
			b.Post("/set", cfg.Breaks.Set)
			b.Post("/resume", cfg.Breaks.Resume)
		})

		private.Route("/api/v1/customers/manual", func(m chi.Router) {
			m.Use(httpmiddleware.RequireVendor)
			m.Post("/", cfg.Manual.Add)
			m.Get("/search", cfg.Manual.Search)
		})

		private.Route("/api/v1/businesses", func(b chi.Router) {
			b.Use(httpmiddleware.RequireVendor)
			b.Post("/", cfg.Catalog.CreateBusiness)
			b.Post("/{businessId}/services", cfg.Catalog.CreateService)
			b.Get("/{businessId}/services", cfg.Catalog.ListServices)
			b.Post("/{businessId}/helpers", cfg.Catalog.InviteHelper)
		})
		private.With(httpmiddleware.RequireVendor).Post("/api/v1/helpers/respond", cfg.Catalog.RespondInvite)

		if cfg.Reporting != nil {
			private.With(httpmiddleware.RequireVendor).Get("/api/v1/reporting/daily", cfg.Reporting.Daily)
		}
		if cfg.Stats != nil {
			private.Get("/api/v1/stats", cfg.Stats.Stats)
		}
	})

	return r
}
