// authd is the authentication RPC server: sessions, API keys, TOTP, email
// OTP, and OAuth.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/saasforge/backend/internal/auth"
	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/config"
	"github.com/saasforge/backend/internal/database"
	"github.com/saasforge/backend/internal/mailer"
	"github.com/saasforge/backend/internal/server"
	"github.com/saasforge/backend/internal/token"
	"github.com/saasforge/backend/pb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "authd")
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

	key, err := signingKey(cfg, logger)
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}
	issuer := token.NewIssuer(key, cfg.JWTIssuer)
	validator := token.NewValidator(&key.PublicKey, cfg.JWTIssuer, c)

	store := auth.NewStore(pool)
	sessions := auth.NewService(store, c, issuer, validator)
	keys := auth.NewAPIKeyService(store)
	otp := auth.NewOTPService(c, mailer.NewOTPMailer(mailer.NewStore(pool)))
	oauth := auth.NewOAuthService(store, c, sessions, exchanger(cfg), oauthClientIDs())

	grpcServer, err := server.NewGRPC(cfg, validator, logger, server.AuthPublicMethods)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	pb.RegisterAuthServiceServer(grpcServer, server.NewAuthServer(sessions, keys, otp, oauth))

	go func() {
		if err := server.ServeAdmin(ctx, server.NewAdmin(pool, c), cfg.AdminPort); err != nil {
			logger.Error("admin server stopped", "error", err)
		}
	}()

	if err := server.Serve(ctx, grpcServer, cfg.AuthPort, logger); err != nil {
		log.Fatalf("serve: %v", err)
	}
	logger.Info("authd stopped")
}

// signingKey loads the configured RSA keypair, or mints an ephemeral one for
// local development (sessions do not survive restarts with it).
func signingKey(cfg *config.Config, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if cfg.JWTPrivateKeyPath != "" {
		return token.LoadPrivateKey(cfg.JWTPrivateKeyPath)
	}
	if cfg.Production() {
		return nil, errors.New("JWT_PRIVATE_KEY_PATH is required in production")
	}
	logger.Warn("no JWT key configured, using an ephemeral key")
	return token.EphemeralKey()
}

// exchanger selects the OAuth code-exchange collaborator. Only the
// deterministic mock ships in-process; production deployments must configure
// a real provider bridge.
func exchanger(cfg *config.Config) auth.Exchanger {
	if cfg.Production() {
		return unconfiguredExchanger{}
	}
	return auth.MockExchanger{}
}

type unconfiguredExchanger struct{}

func (unconfiguredExchanger) Exchange(context.Context, string, string, string) (*auth.ProviderIdentity, error) {
	return nil, errors.New("oauth exchanger is not configured")
}

func oauthClientIDs() map[string]string {
	return map[string]string{
		"google":    os.Getenv("OAUTH_GOOGLE_CLIENT_ID"),
		"github":    os.Getenv("OAUTH_GITHUB_CLIENT_ID"),
		"microsoft": os.Getenv("OAUTH_MICROSOFT_CLIENT_ID"),
	}
}
