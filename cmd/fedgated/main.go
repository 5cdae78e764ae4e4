package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/pkg/audit"
	"github.com/fedgate/fedgate/pkg/auth"
	"github.com/fedgate/fedgate/pkg/cache"
	"github.com/fedgate/fedgate/pkg/config"
	"github.com/fedgate/fedgate/pkg/middleware"
	"github.com/fedgate/fedgate/pkg/observability"
	"github.com/fedgate/fedgate/pkg/sso"
)

// tokenIssuer adapts the auth token service to the orchestrator's
// issuance contract.
type tokenIssuer struct {
	svc *auth.TokenService
}

func (t *tokenIssuer) IssueTokens(claims sso.TokenClaims) (*sso.TokenPair, error) {
	access, refresh, expiresIn, err := t.svc.IssuePair(auth.TokenSubject{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		Email:          claims.Email,
		Role:           claims.Role,
		SSOSessionID:   claims.SSOSessionID,
	})
	if err != nil {
		return nil, err
	}
	return &sso.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func main() {
	bootLog := logrus.New()
	bootLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		bootLog.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	if err := db.Ping(); err != nil {
		bootLog.WithError(err).Fatal("failed to ping database")
	}

	redisCache, err := cache.NewRedisCache(cache.Config{
		URL:        cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
	})
	if err != nil {
		bootLog.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisCache.Close()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	var auditLogger audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		fileLogger, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			bootLog.WithError(err).Fatal("failed to open audit log")
		}
		auditLogger = fileLogger
	}
	defer auditLogger.Close()

	mapper := sso.NewAttributeMapper()
	samlProtocol := sso.NewSAMLProtocol(redisCache, mapper)
	oidcProtocol := sso.NewOIDCProtocol(redisCache, mapper, nil)
	registry := sso.NewRegistry(samlProtocol, oidcProtocol)

	configStore := sso.NewConfigStore(db)
	sessionStore := sso.NewSessionStore(db)
	userStore := auth.NewUserStore(db)
	certManager := sso.NewCertificateManager(cfg.Auth.CertificateDir)

	tokenService := auth.NewTokenService(
		[]byte(cfg.Auth.TokenSigningKey), cfg.Auth.TokenIssuer,
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	provisioner := sso.NewProvisioner(userStore, auditLogger)
	orchestrator := sso.NewOrchestrator(registry, configStore, sessionStore,
		provisioner, &tokenIssuer{svc: tokenService}, auditLogger, metrics, logger)

	handlers := sso.NewHandlers(orchestrator, configStore, registry,
		samlProtocol, oidcProtocol, certManager, logger)

	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger), middleware.Recovery(logger))

	api := router.PathPrefix("/api/v1").Subrouter()
	if metrics != nil {
		api.Use(metrics.HTTPMiddleware)
	}

	// Browser-facing federation endpoints are throttled per client IP;
	// configuration management requires a platform access token.
	rateLimiter := middleware.NewRateLimiter(redisCache.Client(), middleware.DefaultRateLimitConfig(), "fedgate:ratelimit")
	public := api.NewRoute().Subrouter()
	public.Use(rateLimiter.Handler)
	handlers.RegisterPublicRoutes(public)

	admin := api.NewRoute().Subrouter()
	admin.Use(middleware.BearerAuth(tokenService))
	handlers.RegisterAdminRoutes(admin)

	// Health and metrics on a separate port for probes and scraping.
	healthChecker := observability.NewHealthChecker(db, redisCache.Client())
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	// Expired sessions are swept every ten minutes.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("*/10 * * * *", func() {
		swept, err := sessionStore.SweepExpired(context.Background())
		if err != nil {
			logger.WithError(err).Error("session sweep failed")
			return
		}
		if swept > 0 {
			logger.WithField("count", swept).Info("swept expired sso sessions")
			if metrics != nil {
				metrics.SSOSessionsSweptTotal.Add(float64(swept))
			}
		}
	}); err != nil {
		bootLog.WithError(err).Fatal("failed to schedule session sweep")
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		scheduler.Stop()
		return healthServer.Shutdown(ctx)
	})

	go func() {
		logger.WithField("addr", server.Addr).Info("fedgate listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bootLog.WithError(err).Fatal("http server failed")
		}
	}()

	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
