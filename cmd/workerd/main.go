// workerd runs the background dispatch loops: webhook deliveries and the
// email queue.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/config"
	"github.com/saasforge/backend/internal/database"
	"github.com/saasforge/backend/internal/mailer"
	"github.com/saasforge/backend/internal/server"
	"github.com/saasforge/backend/internal/webhook"
)

const webhookTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "workerd")
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	overrides, err := config.LoadOverrides(cfg.OverridesPath)
	if err != nil {
		log.Fatalf("overrides: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.DBPoolSize)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	c, err := cache.New(ctx, cfg.CacheURL)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	dispatcher := webhook.NewDispatcher(
		webhook.NewStore(pool), overrides, cfg.WorkerBatchSize, cfg.WorkerInterval, webhookTimeout)
	mailWorker := mailer.NewWorker(
		mailer.NewStore(pool), mailTransport(cfg, logger), overrides,
		cfg.WorkerBatchSize, cfg.WorkerInterval)

	go func() {
		if err := server.ServeAdmin(ctx, server.NewAdmin(pool, c), cfg.AdminPort); err != nil {
			logger.Error("admin server stopped", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		mailWorker.Run(ctx)
	}()

	logger.Info("workers running",
		"batch_size", cfg.WorkerBatchSize, "interval", cfg.WorkerInterval.String())
	wg.Wait()
	logger.Info("workerd stopped")
}

// mailTransport selects the provider bridge; without one configured all
// sends go to the log.
func mailTransport(cfg *config.Config, logger *slog.Logger) mailer.Transport {
	if cfg.MailProviderURL == "" {
		logger.Warn("no mail provider configured, emails go to the log")
		return mailer.NewLogTransport()
	}
	return mailer.NewHTTPTransport(cfg.MailProviderURL, cfg.MailProviderKey)
}
