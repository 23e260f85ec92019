// Package server hosts the gRPC surfaces (auth, notification) and the admin
// HTTP endpoint.
package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/saasforge/backend/internal/config"
)

// TransportCredentials builds mutual-TLS credentials from the configured
// material. With no certificate configured outside production the server
// comes up in plaintext; that fallback is loud on purpose.
func TransportCredentials(cfg *config.Config, logger *slog.Logger) (credentials.TransportCredentials, error) {
	if cfg.TLSCertPath == "" || cfg.TLSKeyPath == "" {
		if cfg.Production() {
			return nil, fmt.Errorf("server: TLS certificate material is required in production")
		}
		logger.Warn("INSECURE TRANSPORT: no TLS certificate configured, serving plaintext gRPC",
			"env", cfg.Env)
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("server: load keypair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.TLSRootCA != "" {
		caPEM, err := os.ReadFile(cfg.TLSRootCA)
		if err != nil {
			return nil, fmt.Errorf("server: read root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("server: root CA %s holds no certificates", cfg.TLSRootCA)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(tlsCfg), nil
}
