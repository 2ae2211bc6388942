package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"voicedesk/internal/audit"
	"voicedesk/internal/auth"
	"voicedesk/internal/bookings"
	"voicedesk/internal/calls"
	"voicedesk/internal/config"
	"voicedesk/internal/digest"
	"voicedesk/internal/email"
	"voicedesk/internal/httpapi"
	"voicedesk/internal/identity"
	"voicedesk/internal/observability"
	"voicedesk/internal/reporting"
	"voicedesk/internal/scheduling"
	"voicedesk/internal/tenants"
	"voicedesk/internal/transcripts"
	"voicedesk/internal/webhook"
	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	version        = "0.1.0"
	tenantCacheTTL = time.Minute
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		slog.Error("dotenv load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, logger.Options{File: cfg.Log.File})
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownOTel, err := observability.SetupOTel(rootCtx, cfg.OTEL, version)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	sqlDB, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	db, err := utils.OpenGorm(sqlDB, utils.GormOptions{Tracing: cfg.OTEL.Enabled})
	if err != nil {
		log.Error("gorm init failed", "err", err)
		os.Exit(1)
	}
	if err := migrate(db); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	} else {
		log.Info("redis disabled; transcript and digest locks are off")
	}

	deps := wire(cfg, db, rdb, authManager)

	var cronStop func() context.Context
	if cfg.Digest.CronEnabled {
		c, err := digest.StartCron(rootCtx, deps.scheduler, log)
		if err != nil {
			log.Error("digest cron init failed", "err", err)
			os.Exit(1)
		}
		cronStop = c.Stop
		log.Info("digest cron started")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, cfg, deps, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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
	if cronStop != nil {
		select {
		case <-cronStop().Done():
		case <-shutdownCtx.Done():
			log.Warn("digest tick still running at shutdown")
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error("otel shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func migrate(db *gorm.DB) error {
	models := append(tenants.Models(),
		&calls.Call{},
		&transcripts.Turn{},
		&bookings.Booking{},
		&audit.Event{},
	)
	return db.AutoMigrate(models...)
}

type components struct {
	webhooks  *webhook.Router
	admin     httpapi.Handlers
	tokens    httpapi.AuthHandlers
	scheduler *digest.Scheduler
}

func wire(cfg config.Config, db *gorm.DB, rdb *redis.Client, tokens *auth.Manager) components {
	dir := tenants.NewDirectory(tenants.NewGormRepo(db), tenantCacheTTL)
	ledger := calls.NewLedger(db)
	auditSvc := audit.NewService(audit.NewGormRepo(db))

	var serializer transcripts.Serializer
	if rdb != nil {
		serializer = transcripts.NewRedisSerializer(rdb)
	}
	turns := transcripts.NewSequencer(db, serializer)

	provider := scheduling.NewClient(scheduling.Config{
		BaseURL:      cfg.Scheduling.BaseURL,
		ClientID:     cfg.Scheduling.ClientID,
		ClientSecret: cfg.Scheduling.ClientSecret,
		Timeout:      cfg.HTTPClient.Timeout,
	})
	bridge := bookings.NewBridge(db, dir, ledger, provider, auditSvc)

	router := webhook.NewRouter(dir, ledger, turns, bridge, webhook.AssistantDefaults{
		ModelProvider: cfg.Vapi.ModelProvider,
		Model:         cfg.Vapi.Model,
		VoiceProvider: cfg.Vapi.VoiceProvider,
		VoiceID:       cfg.Vapi.VoiceID,
		ServerURL:     webhookURL(cfg.App.PublicURL),
	}, observability.Recorder{})

	mailer := email.NewClient(email.Config{
		BaseURL: cfg.Email.BaseURL,
		APIKey:  cfg.Email.APIKey,
		From:    cfg.Email.From,
		Timeout: cfg.HTTPClient.Timeout,
	})
	// both stay nil interfaces without an identity provider
	var users digest.UserDirectory
	var sessions httpapi.SessionVerifier
	if cfg.Identity.BaseURL != "" && cfg.Identity.ServiceRoleKey != "" {
		idc := identity.NewClient(identity.Config{
			BaseURL:        cfg.Identity.BaseURL,
			ServiceRoleKey: cfg.Identity.ServiceRoleKey,
			Timeout:        cfg.HTTPClient.Timeout,
		})
		users, sessions = idc, idc
	}
	reports := reporting.NewService(ledger, reporting.NewGormRepo(db))
	sched := digest.NewScheduler(dir, reports, mailer, users).
		WithAudit(auditSvc).
		WithMetrics(observability.Recorder{})
	if rdb != nil {
		sched.WithLocker(digest.NewRedisLocker(rdb, 0))
	}

	return components{
		webhooks: router,
		admin: httpapi.Handlers{
			Bookings:    bridge,
			Calls:       ledger,
			Transcripts: turns,
		},
		tokens:    httpapi.AuthHandlers{Tokens: tokens, Sessions: sessions, Members: dir},
		scheduler: sched,
	}
}

func webhookURL(publicURL string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + "/webhooks/vapi"
}
