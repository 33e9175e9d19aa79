package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicegate/internal/audit"
	"voicegate/internal/auth"
	"voicegate/internal/calls"
	"voicegate/internal/config"
	"voicegate/internal/lifecycle"
	"voicegate/internal/policy"
	"voicegate/internal/telephony"
	"voicegate/pkg/logger"
	"voicegate/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	auditSvc := audit.NewService(audit.NewMemoryRepo())

	var limiter lifecycle.Limiter
	if cfg.Limits.MaxActiveCalls > 0 {
		limiter = lifecycle.NewRedisLimiter(rdb, cfg.Limits.MaxActiveCalls, 0)
	}

	store := calls.NewPostgresStore(db)
	manager := lifecycle.NewManager(store, lifecycle.Options{
		Policy: policy.InboundPolicy{
			Mode:    policy.Mode(cfg.Inbound.PolicyMode),
			Numbers: cfg.Inbound.Numbers,
		},
		FromNumber: cfg.Telephony.FromNumber,
		Dedup:      lifecycle.NewRedisDeduper(rdb, 0),
		Limiter:    limiter,
		Audit:      lifecycle.AuditAdapter{Audit: auditSvc, AccountID: "default"},
		Logger:     log,
	})
	if err := manager.Initialize(provider, cfg.Telephony.WebhookBaseURL); err != nil {
		log.Error("lifecycle init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:      authManager,
		Provider:  provider,
		Lifecycle: manager,
		Store:     store,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", provider.Name())
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

	// Drain dispatched provider actions (hangups, TTS) before exiting.
	manager.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func buildProvider(cfg config.Config) (telephony.Provider, error) {
	switch cfg.Telephony.Provider {
	case "twilio":
		return telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID:     cfg.Telephony.AccountSID,
			AuthToken:      cfg.Telephony.AuthToken,
			WebhookBaseURL: cfg.Telephony.WebhookBaseURL,
		})
	case "sip":
		return telephony.NewSIPProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Telephony.Provider)
	}
}
