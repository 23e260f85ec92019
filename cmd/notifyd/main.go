// notifyd is the notification RPC server: email enqueueing, webhook
// registration and triggering, subscriptions and preferences.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/config"
	"github.com/saasforge/backend/internal/database"
	"github.com/saasforge/backend/internal/mailer"
	"github.com/saasforge/backend/internal/notify"
	"github.com/saasforge/backend/internal/server"
	"github.com/saasforge/backend/internal/token"
	"github.com/saasforge/backend/internal/webhook"
	"github.com/saasforge/backend/pb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "notifyd")
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
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

	validator, err := buildValidator(cfg, c, logger)
	if err != nil {
		log.Fatalf("JWT public key: %v", err)
	}

	webhookStore := webhook.NewStore(pool)
	registry := webhook.NewRegistry(webhookStore, c, cfg.WebhookSecretMode == "mock")
	svc := notify.NewService(mailer.NewStore(pool), webhookStore, registry, notify.NewStore(pool), c)

	// Every notification method requires an authenticated caller.
	grpcServer, err := server.NewGRPC(cfg, validator, logger, nil)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	pb.RegisterNotificationServiceServer(grpcServer, svc)

	go func() {
		if err := server.ServeAdmin(ctx, server.NewAdmin(pool, c), cfg.AdminPort); err != nil {
			logger.Error("admin server stopped", "error", err)
		}
	}()

	if err := server.Serve(ctx, grpcServer, cfg.NotifyPort, logger); err != nil {
		log.Fatalf("serve: %v", err)
	}
	logger.Info("notifyd stopped")
}

// buildValidator verifies tokens against the shared public key. Development
// falls back to an ephemeral key; tokens issued by authd will not verify
// against it, so set JWT_PUBLIC_KEY_PATH for any cross-process testing.
func buildValidator(cfg *config.Config, c *cache.Client, logger *slog.Logger) (*token.Validator, error) {
	if cfg.JWTPublicKeyPath != "" {
		pub, err := token.LoadPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, err
		}
		return token.NewValidator(pub, cfg.JWTIssuer, c), nil
	}
	if cfg.Production() {
		return nil, errors.New("JWT_PUBLIC_KEY_PATH is required in production")
	}
	logger.Warn("no JWT public key configured, using an ephemeral key")
	key, err := token.EphemeralKey()
	if err != nil {
		return nil, err
	}
	return token.NewValidator(&key.PublicKey, cfg.JWTIssuer, c), nil
}
