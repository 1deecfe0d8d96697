package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"virtualcare-platform/internal/audit"
	"virtualcare-platform/internal/auth"
	"virtualcare-platform/internal/calls"
	"virtualcare-platform/internal/config"
	"virtualcare-platform/internal/meeting"
	"virtualcare-platform/internal/notify"
	"virtualcare-platform/internal/observability"
	"virtualcare-platform/internal/presence"
	"virtualcare-platform/internal/recording"
	"virtualcare-platform/internal/scheduler"
	"virtualcare-platform/internal/session"
	"virtualcare-platform/pkg/logger"
	"virtualcare-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics("virtualcare", prometheus.DefaultRegisterer)

	// Relational storage: audit events and recording metadata.
	var (
		db           *sql.DB
		auditRepo    audit.Repository     = audit.NewMemoryRepo()
		metadataRepo recording.Repository = recording.NewMemoryRepo()
	)
	if cfg.DB.Enabled() {
		db, err = utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()

		ar, err := audit.NewPostgresRepo(db)
		if err == nil {
			err = ar.EnsureSchema(rootCtx)
		}
		if err != nil {
			log.Error("audit schema init failed", "err", err)
			os.Exit(1)
		}
		rr, err := recording.NewPostgresRepo(db)
		if err == nil {
			err = rr.EnsureSchema(rootCtx)
		}
		if err != nil {
			log.Error("recording schema init failed", "err", err)
			os.Exit(1)
		}
		auditRepo, metadataRepo = ar, rr
	} else {
		log.Warn("DB_HOST not set, audit events and recording metadata are kept in memory")
	}

	// Session records and device liveness.
	var (
		rdb    *redis.Client
		store  calls.SessionStore
		mirror presence.Mirror
	)
	if cfg.Redis.Enabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, cfg.Calls.StrictUpdates)
		mirror = presence.NewRedisMirror(rdb)
	} else {
		log.Warn("REDIS_HOST not set, sessions and presence are process-local")
		store = session.NewMemoryStore()
		mirror = presence.NewMemoryMirror()
	}

	auditSvc := audit.NewService(auditRepo)

	registry := presence.NewRegistry(mirror, presence.Options{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		OfflineThreshold:  cfg.Presence.OfflineThreshold,
		Logger:            log,
		Metrics:           metrics,
		Audit:             auditSvc,
	})

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.Enabled() {
		hn, err := notify.NewHTTPNotifier(notify.HTTPConfig{
			BaseURL:      cfg.Notify.BaseURL,
			TokenURL:     cfg.Notify.TokenURL,
			ClientID:     cfg.Notify.ClientID,
			ClientSecret: cfg.Notify.ClientSecret,
			SystemName:   cfg.Notify.SystemName,
		})
		if err != nil {
			log.Error("notifier init failed", "err", err)
			os.Exit(1)
		}
		notifier = hn
	}

	ringTimer := scheduler.New(cfg.Calls.RingTimeout)
	defer ringTimer.Stop()

	callSvc, err := calls.NewService(calls.Deps{
		Store:    store,
		Presence: registry,
		Timer:    ringTimer,
		Meetings: meeting.NewLocalProvider(cfg.Calls.MediaBaseURL, cfg.Calls.RecordingEnabled),
		Notifier: notifier,
		Metadata: metadataRepo,
		Audit:    auditSvc,
	}, calls.Options{
		RequireOnline:    cfg.Calls.RequireDeviceOnline,
		StrictNotify:     cfg.StrictNotify(),
		RecordingEnabled: cfg.Calls.RecordingEnabled,
		DefaultRegion:    cfg.Calls.MediaRegion,
		Logger:           log,
		Metrics:          metrics,
	})
	if err != nil {
		log.Error("call service init failed", "err", err)
		os.Exit(1)
	}

	go registry.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		AuthMW:        auth.RequireAccessToken(authManager),
		Calls:         callSvc,
		WebhookSecret: cfg.HTTP.WebhookSecret,
		WS:            presence.NewHandler(registry, cfg.HTTP.AllowedOrigins, log, metrics),
		Gatherer:      prometheus.DefaultGatherer,
		DB:            db,
		Redis:         rdb,
	})

	// No WriteTimeout: /ws connections are long-lived and manage their own deadlines.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env,
			"redis", cfg.Redis.Enabled(), "postgres", cfg.DB.Enabled(), "notify", notifier.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	ringTimer.Stop()
	callSvc.Wait()
	log.Info("shutdown complete")
}
