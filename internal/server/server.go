package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ICJIA/icjia-accessibility-status/internal/activity"
	"github.com/ICJIA/icjia-accessibility-status/internal/apikey"
	"github.com/ICJIA/icjia-accessibility-status/internal/config"
	"github.com/ICJIA/icjia-accessibility-status/internal/handler"
	"github.com/ICJIA/icjia-accessibility-status/internal/retry"
	"github.com/ICJIA/icjia-accessibility-status/internal/server/middleware"
	"github.com/ICJIA/icjia-accessibility-status/internal/service"
	"github.com/ICJIA/icjia-accessibility-status/internal/tasks"
)

// Config holds the HTTP server configuration and the tuning of the
// services it hosts.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	BaseURL         string
	Version         string

	// GeneralRateLimit is the per-IP request budget per hour for every
	// route. Zero disables it.
	GeneralRateLimit int
	LoginRateLimit   int
	LoginRateWindow  time.Duration

	APIKeyHourlyLimit    int
	HashCost             int
	SessionTTL           time.Duration
	SessionPurgeInterval time.Duration
	CookieSecure         bool

	GracePeriodDays int
	SweepInterval   time.Duration

	Retry retry.Options

	Workers   int
	QueueSize int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return ConfigFromSettings(config.DefaultSettings())
}

// ConfigFromSettings maps loaded settings onto a Config.
func ConfigFromSettings(s *config.Settings) Config {
	return Config{
		Host:             s.Server.Host,
		Port:             s.Server.Port,
		ShutdownTimeout:  config.Duration(s.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:      s.Server.CORSOrigins,
		MaxBodySize:      1 << 20, // 1MB
		GeneralRateLimit: s.Server.GeneralRateLimit,
		LoginRateLimit:   s.Auth.LoginRateLimit,
		LoginRateWindow:  config.Duration(s.Auth.LoginRateWindow, 10*time.Minute),

		APIKeyHourlyLimit:    s.Auth.APIKeyHourlyLimit,
		HashCost:             s.Auth.HashCost,
		SessionTTL:           config.Duration(s.Auth.SessionTTL, service.DefaultSessionTTL),
		SessionPurgeInterval: config.Duration(s.Auth.SessionPurgeInterval, time.Hour),
		CookieSecure:         s.Auth.CookieSecure,

		GracePeriodDays: s.Rotation.GracePeriodDays,
		SweepInterval:   config.Duration(s.Rotation.SweepInterval, time.Hour),

		Retry: retry.Options{
			MaxRetries:   s.Retry.MaxRetries,
			InitialDelay: config.Duration(s.Retry.InitialDelay, 100*time.Millisecond),
			MaxDelay:     config.Duration(s.Retry.MaxDelay, 5*time.Second),
			Multiplier:   s.Retry.Multiplier,
		},

		Workers:   s.Tasks.Workers,
		QueueSize: s.Tasks.QueueSize,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the
// authentication services, and the background queue and scheduler that
// record usage and retire rotated keys.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	httpServer *http.Server
	logger     *slog.Logger

	queue     *tasks.Queue
	scheduler *tasks.Scheduler
	activity  *activity.Logger

	keyAuth  *service.KeyAuthenticator
	sessions *service.SessionService
	rotation *service.RotationManager
	keys     *service.KeyManager
	accounts *service.AccountService
}

// New creates a new Server, wires up all services, routes and middleware,
// and returns it ready to listen. Call ListenAndServe to start accepting
// connections, or Start and Close to run the background jobs without a
// listener.
func New(cfg Config, store *config.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	sink := tasks.LogSink(logger)
	queue := tasks.NewQueue(cfg.Workers, cfg.QueueSize, logger, sink)
	act := activity.New(store, queue, logger)
	gen := apikey.NewGenerator(cfg.HashCost)

	s := &Server{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		queue:     queue,
		scheduler: tasks.NewScheduler(logger, sink),
		activity:  act,
		keyAuth: service.NewKeyAuthenticator(store, act, queue, logger, service.KeyAuthConfig{
			HourlyLimit: cfg.APIKeyHourlyLimit,
			Retry:       cfg.Retry,
		}),
		sessions: service.NewSessionService(store, act, logger, service.SessionConfig{
			TTL:   cfg.SessionTTL,
			Retry: cfg.Retry,
		}),
		rotation: service.NewRotationManager(store, gen, act, logger, cfg.GracePeriodDays),
		keys:     service.NewKeyManager(store, gen, act, logger),
		accounts: service.NewAccountService(store, act, cfg.HashCost),
	}

	s.scheduler.Every("rotation_sweep", cfg.SweepInterval, s.rotation.Sweep)
	s.scheduler.Every("session_purge", cfg.SessionPurgeInterval, s.sessions.Purge)

	s.setupRouter()
	return s
}

// limitHook records a limiter rejection in the activity log.
func (s *Server) limitHook(limitType string) middleware.LimitHook {
	return func(r *http.Request) {
		s.activity.RateLimitViolation(r.Context(), activity.RequestInfoFrom(r), limitType, "", "")
	}
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics())
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Health checks and metrics (no auth, no rate limit) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	// --- OpenAPI document (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.BaseURL, s.cfg.Version, s.logger).ServeSpec)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitPerHour(s.cfg.GeneralRateLimit, s.limitHook(activity.LimitGeneral)))

		sysHandler := handler.NewSystemHandler(handler.SystemDeps{
			Keys:         s.keys,
			Rotation:     s.rotation,
			Accounts:     s.accounts,
			Sessions:     s.sessions,
			Activity:     s.store,
			Logger:       s.logger,
			CookieSecure: s.cfg.CookieSecure,
		})

		r.Route("/auth", func(r chi.Router) {
			// Login is unauthenticated but throttled per IP.
			r.With(middleware.RateLimit(s.cfg.LoginRateLimit, s.cfg.LoginRateWindow, s.limitHook(activity.LimitLogin))).
				Post("/session", sysHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession(s.sessions))
				r.Delete("/session", sysHandler.Logout)
				r.Get("/me", sysHandler.Me)
			})
		})

		// Admin APIs
		r.Route("/system", func(r chi.Router) {
			r.Use(middleware.RequireSession(s.sessions))

			r.Get("/api-key", sysHandler.ListAPIKeys)
			r.Post("/api-key", sysHandler.CreateAPIKey)
			r.Get("/api-key/stats/rotation", sysHandler.RotationStats)
			r.Put("/api-key/{keyId}", sysHandler.UpdateAPIKey)
			r.Delete("/api-key/{keyId}", sysHandler.DeleteAPIKey)
			r.Post("/api-key/{keyId}/revoke", sysHandler.RevokeAPIKey)
			r.Post("/api-key/{keyId}/rotate", sysHandler.RotateAPIKey)

			r.Get("/admin", sysHandler.ListAdmins)
			r.Post("/admin", sysHandler.CreateAdmin)

			r.Get("/activity-log", sysHandler.ListActivity)
		})

		// External APIs authenticated by API key
		r.Route("/external", func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.keyAuth))
			r.With(middleware.RequireScope(apikey.ScopeSitesRead)).Get("/whoami", handler.Whoami)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store answers a
// ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		checks["store"] = "unreachable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Start launches the background jobs: the grace period sweep and the
// expired session purge.
func (s *Server) Start() {
	s.scheduler.Start()
}

// Close stops the scheduler and drains the background queue. It does not
// close the store.
func (s *Server) Close(ctx context.Context) error {
	s.scheduler.Shutdown()
	if err := s.queue.Close(ctx); err != nil {
		return fmt.Errorf("drain background tasks: %w", err)
	}
	return nil
}

// ListenAndServe starts the background jobs and the HTTP server, and blocks
// until a SIGINT or SIGTERM is received. It then drains in-flight requests
// before stopping the background jobs.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.Start()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	var listenErr error
	select {
	case err := <-errCh:
		listenErr = fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if listenErr == nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	}
	if err := s.Close(shutdownCtx); err != nil {
		s.logger.Warn("background tasks did not drain", "error", err)
	}
	if listenErr != nil {
		return listenErr
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
