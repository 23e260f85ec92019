package server

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"github.com/saasforge/backend/internal/config"
	"github.com/saasforge/backend/internal/tenant"
	"github.com/saasforge/backend/internal/token"
)

// NewGRPC builds a gRPC server with transport credentials and the tenant
// interceptor installed. Services register on the returned server before
// Serve.
func NewGRPC(cfg *config.Config, validator *token.Validator, logger *slog.Logger, publicMethods map[string]bool) (*grpc.Server, error) {
	creds, err := TransportCredentials(cfg, logger)
	if err != nil {
		return nil, err
	}
	return grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			tenant.UnaryInterceptor(validator, logger, publicMethods),
		),
	), nil
}

// Serve listens on the port and blocks until ctx cancels, then drains
// in-flight RPCs.
func Serve(ctx context.Context, srv *grpc.Server, port string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		logger.Info("draining gRPC server", "port", port)
		srv.GracefulStop()
	}()
	logger.Info("gRPC server listening", "port", port)
	return srv.Serve(lis)
}
