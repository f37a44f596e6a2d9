package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohamedahmed66972007/students2026-v6/internal/config"
	"github.com/mohamedahmed66972007/students2026-v6/internal/httpapi"
	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
	"github.com/mohamedahmed66972007/students2026-v6/internal/scheduler"
	"github.com/mohamedahmed66972007/students2026-v6/internal/social"
	"github.com/mohamedahmed66972007/students2026-v6/internal/store"
	"github.com/mohamedahmed66972007/students2026-v6/internal/study"
	"github.com/mohamedahmed66972007/students2026-v6/internal/telegram"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var docs store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connection failed", zap.Error(err))
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("db schema failed", zap.Error(err))
		}
		docs = pg
	} else {
		logger.Warn("DATABASE_URL not set, documents are kept in memory")
		docs = store.NewMemory()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	directory := identity.NewDirectory(cfg.MainAdminUsername)
	graph := social.NewGraph(directory)
	sessions := study.NewStore(directory, graph)

	bot := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.NotifyTimeout)
	reminders := scheduler.New(scheduler.Config{
		StudyTickInterval: cfg.StudyTickInterval,
		ExamTickInterval:  cfg.ExamTickInterval,
		ReminderLead:      cfg.ReminderLead,
		NotifyTimeout:     cfg.NotifyTimeout,
		Location:          cfg.Location(),
	}, logger, directory, sessions, docs, bot, redisClient)
	reminders.Start(ctx)

	server := httpapi.NewServer(cfg, logger, directory, graph, sessions, docs, reminders)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
