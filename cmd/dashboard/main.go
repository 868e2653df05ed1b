package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"haper/internal/backend"
	"haper/internal/config"
	"haper/internal/debounce"
	"haper/internal/events"
	"haper/internal/handler"
	"haper/internal/httpserver"
	"haper/internal/oauth"
	"haper/internal/poller"
	"haper/internal/reply"
	"haper/internal/report"
	"haper/internal/session"
	"haper/pkg/db"
	"haper/pkg/db/migrations"
	"haper/pkg/logger"
	"haper/pkg/mq"
	"haper/pkg/otel"
	"haper/pkg/outbox"
	"haper/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger 还没初始化
		panic(err)
	}

	log := logger.NewLogger(cfg.LogDev)
	defer log.Sync()

	log.Info("Starting haper dashboard...",
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.Host),
		zap.String("site", cfg.Site.HostURL),
	)

	shutdownOTel, err := otel.Init(otel.Config{
		ServiceName: cfg.OTel.ServiceName,
		Endpoint:    cfg.OTel.Endpoint,
		Enabled:     cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOTel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	if _, err := db.Migrate(ctx, dbConn, migrations.FS, log); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Redis (OAuth state)
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	readiness := map[string]httpserver.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return dbConn.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// MQ 可选：未配置时事件只打日志
	var (
		broker events.Broker
		ob     events.Outbox
	)
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()

		outboxRepo := outbox.NewRepository(dbConn)
		broker, ob = publisher, outboxRepo

		dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
			WithInterval(cfg.Outbox.Interval).
			WithMaxRetries(cfg.Outbox.MaxRetries)
		go dispatcher.Start(ctx)

		readiness["rabbitmq"] = func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher connection closed")
			}
			return nil
		}
	} else {
		log.Info("MQ not configured, domain events will only be logged")
	}
	eventPublisher := events.NewPublisher(broker, ob, log)

	// OAuth providers
	var providers []oauth.Provider
	if p := cfg.OAuth.Google; p.Enabled() {
		providers = append(providers, oauth.NewGoogle(oauth.Options{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  func(a oauth.Action) string { return cfg.CallbackURL("google", string(a)) },
		}))
	}
	if p := cfg.OAuth.Microsoft; p.Enabled() {
		providers = append(providers, oauth.NewMicrosoft(oauth.Options{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  func(a oauth.Action) string { return cfg.CallbackURL("microsoft", string(a)) },
		}))
	}
	if len(providers) == 0 {
		log.Warn("No OAuth provider configured, sign in is disabled")
	}
	registry := oauth.NewRegistry(providers...)
	states := oauth.NewStateStore(rdb, cfg.OAuth.StateTTL, cfg.OAuth.CodeVerifier)

	// Sessions
	sessions := session.NewManager(session.NewRepository(dbConn), session.Options{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.JWT.Secret,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.SecureCookies(),
	}, log)
	go sessions.RunJanitor(ctx, time.Hour)

	// Backend
	client := backend.NewClient(backend.Options{
		BaseURL:       cfg.Backend.Host,
		Timeout:       cfg.Backend.Timeout,
		StreamTimeout: cfg.Backend.StreamTimeout,
	}, log)

	reports := report.NewService(client, eventPublisher, report.Options{
		Stream: poller.StreamOptions{
			MaxRetries:      cfg.Poll.StreamRetries,
			InitialInterval: cfg.Poll.InitialBackoff,
			MaxInterval:     cfg.Poll.MaxBackoff,
		},
		Poll: poller.IntervalOptions{
			Interval:    cfg.Poll.Interval,
			MaxAttempts: cfg.Poll.MaxAttempts,
		},
	}, log)
	replies := reply.NewGenerator(client, log)
	drafts := debounce.New[report.ReplyEdit](ctx, cfg.Reply.DebounceWindow, reports.SaveReply, log)

	// Handlers
	authHandler := handler.NewAuthHandler(registry, states, sessions, client, eventPublisher, log)
	reportHandler := handler.NewReportHandler(reports, replies, drafts, sessions, log)
	userHandler := handler.NewUserHandler(client, sessions, log)

	router := httpserver.NewRouter(httpserver.Deps{
		Auth:     authHandler,
		Reports:  reportHandler,
		Users:    userHandler,
		Sessions: sessions,
		PublicConfig: handler.PublicConfig{
			SiteHostURL:          cfg.Site.HostURL,
			StripePublishableKey: cfg.Site.StripePublishableKey,
			Providers:            registry.Names(),
		},
		Readiness:   readiness,
		AuthLimiter: httpserver.NewRateLimiter(5, 20),
		Logger:      log,
	})

	// 关停开始 5 秒后断开还在推送的 SSE 流
	srv := httpserver.NewServer(cfg.Server.Port, router.Handler(), 5*time.Second)

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down haper dashboard gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// 把还没落盘的回复草稿写完, 用新的 ctx: shutdownCtx 可能已经耗尽
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	drafts.Flush(flushCtx)
	flushCancel()
	stop()

	log.Info("haper dashboard shutdown complete")
}
