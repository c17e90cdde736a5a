package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/app"
	"github.com/mowesport/mowe/internal/delegation"
	"github.com/mowesport/mowe/internal/guard"
	"github.com/mowesport/mowe/internal/identity"
	"github.com/mowesport/mowe/internal/navigation"
	"github.com/mowesport/mowe/internal/observability"
	"github.com/mowesport/mowe/internal/platform/cache"
	"github.com/mowesport/mowe/internal/platform/db"
	"github.com/mowesport/mowe/internal/registration"
	"github.com/mowesport/mowe/internal/session"
	"github.com/mowesport/mowe/internal/token"
	"github.com/mowesport/mowe/internal/view"
	"github.com/mowesport/mowe/jobs"
)

const sessionCookieName = "mowe_session"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	tables, err := access.Load(cfg.AccessTablePath)
	if err != nil {
		logger.Error("load access tables", slog.Any("error", err))
		os.Exit(1)
	}
	for _, w := range tables.Warnings {
		logger.Warn("access table", slog.String("warning", w))
	}
	registry, err := tables.Registry()
	if err != nil {
		logger.Error("build role registry", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Warn("redis unavailable, sessions kept in memory only", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var (
		provider identity.Provider
		tokens   session.TokenValidator
	)
	if cfg.IdentityURL != "" {
		provider = identity.NewRemoteProvider(cfg.IdentityURL, cfg.IdentityTimeout)
		tokens = token.NewExpiryValidator()
		logger.Info("using remote identity backend", slog.String("url", cfg.IdentityURL))
	} else {
		codec := token.NewCodec(cfg.TokenSecret, cfg.TokenTTL, "mowe")
		provider = identity.NewService(identity.NewRepository(dbpool), codec, logger)
		tokens = codec
	}

	var sessions *session.Registry
	metrics := observability.NewMetrics(func() float64 {
		if sessions == nil {
			return 0
		}
		return float64(sessions.Len())
	})
	sessions, err = session.NewRegistry(cfg.SessionCacheSize, newStateFactory(redisClient, cfg.SessionTTL, provider, tokens, logger, metrics))
	if err != nil {
		logger.Error("build session registry", slog.Any("error", err))
		os.Exit(1)
	}

	cookies := session.NewCookieManager(sessionCookieName, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrf := session.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}
	routeGuard := guard.New(tables, guard.Options{
		SignInPath:  cfg.SignInPath,
		DefaultPath: cfg.DefaultPath,
		Observe: func(route string, d guard.Decision) {
			metrics.ObserveDecision(route, string(d))
		},
	})
	pages := view.NewPages(templates, tables, routeGuard, registry, csrf, logger)

	jobClient := jobs.NewClient(redisOpts.AsynqOpt())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts.AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	registrationService := registration.NewService(registration.Config{
		Repo:      registration.NewRepository(dbpool),
		Gate:      delegation.NewGate(registry),
		Queue:     jobClient,
		Registry:  registry,
		Logger:    logger,
		TTL:       cfg.TempPasswordTTL,
		SignInURL: cfg.SignInURL(),
		Observe:   metrics.ObserveRegistration,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:   logger,
		Config:   cfg,
		Tables:   tables,
		Pages:    pages,
		Guard:    routeGuard,
		Cookies:  cookies,
		Sessions: sessions,
		CSRF:     csrf,
		IdentityHandler: identity.NewHandler(identity.HandlerConfig{
			Logger:      logger,
			Provider:    provider,
			Pages:       pages,
			CSRF:        csrf,
			Registry:    registry,
			DefaultPath: cfg.DefaultPath,
			SignInLimit: cfg.SignInLimit,
		}),
		NavigationHandler:   navigation.NewHandler(tables, routeGuard),
		RegistrationHandler: registration.NewHandler(registrationService, logger),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// newStateFactory builds one session State per browser. Without Redis the
// pair lives in memory and is lost when the State is evicted.
func newStateFactory(client *redis.Client, ttl time.Duration, provider session.ProfileProvider, tokens session.TokenValidator, logger *slog.Logger, metrics *observability.Metrics) session.Factory {
	return func(browserID string) *session.State {
		var store session.Persistence = session.NewMemoryPersistence()
		if client != nil {
			store = session.NewRedisPersistence(client, browserID, ttl)
		}
		st := session.NewState(session.Config{
			Store:    store,
			Provider: provider,
			Tokens:   tokens,
			Logger:   logger.With(slog.String("browser", shortID(browserID))),
		})
		st.Subscribe(func(ev session.Event, snap session.Snapshot) {
			metrics.ObserveSessionEvent(string(ev))
			logger.Info("session event",
				slog.String("event", string(ev)),
				slog.String("user_id", snap.UserID()),
				slog.String("role", string(snap.Role())))
		})
		return st
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
