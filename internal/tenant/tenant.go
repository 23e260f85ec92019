// Package tenant establishes the per-request tenant identity. The unary
// interceptor authenticates the caller once, pins the tenant from the token
// claims, and rejects any attempt to address another tenant's data before a
// handler ever runs.
package tenant

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/saasforge/backend/internal/token"
)

// Legacy identity headers. Clients may still send them; each one present
// must agree with the authenticated claims.
const (
	MetadataKey  = "x-tenant-id"
	UserIDKey    = "x-user-id"
	UserEmailKey = "x-user-email"
	UserRolesKey = "x-user-roles" // comma-separated
)

// Context is the caller identity attached to every authenticated request.
type Context struct {
	TenantID  string
	UserID    string
	Email     string
	Roles     []string
	Validated bool
}

type ctxKey struct{}

// NewContext attaches a tenant context.
func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the tenant context established by the interceptor.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	return tc, ok
}

// UnsafeFromMetadata reads the legacy identity headers without any
// validation. Only pre-authentication paths (rate-limit scoping on public
// methods) may use it; the returned context is explicitly unvalidated.
func UnsafeFromMetadata(ctx context.Context) *Context {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	tc := &Context{
		TenantID: first(MetadataKey),
		UserID:   first(UserIDKey),
		Email:    first(UserEmailKey),
	}
	if raw := first(UserRolesKey); raw != "" {
		tc.Roles = strings.Split(raw, ",")
	}
	return tc
}

// UnaryInterceptor authenticates every method not listed in publicMethods
// (full gRPC method names, e.g. "/saasforge.AuthService/Login").
func UnaryInterceptor(validator *token.Validator, logger *slog.Logger, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		raw, ok := bearerToken(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}

		claims, err := validator.Validate(ctx, raw)
		if err != nil {
			if err == token.ErrInvalidToken {
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
			return nil, status.Error(codes.Unavailable, "authentication backend unavailable")
		}

		md, _ := metadata.FromIncomingContext(ctx)
		if vals := md.Get(MetadataKey); len(vals) > 0 && vals[0] != claims.TenantID {
			logger.Warn("tenant header does not match token claims",
				"security_alert", "tenant_mismatch",
				"method", info.FullMethod,
				"claimed_tenant", vals[0],
				"token_tenant", claims.TenantID,
				"user_id", claims.Subject)
			return nil, status.Error(codes.PermissionDenied, "tenant mismatch")
		}
		if vals := md.Get(UserIDKey); len(vals) > 0 && vals[0] != claims.Subject {
			logger.Warn("user header does not match token claims",
				"security_alert", "tenant_mismatch",
				"method", info.FullMethod,
				"claimed_user", vals[0],
				"token_user", claims.Subject)
			return nil, status.Error(codes.PermissionDenied, "identity mismatch")
		}

		tc := &Context{
			TenantID:  claims.TenantID,
			UserID:    claims.Subject,
			Email:     claims.Email,
			Roles:     claims.Roles,
			Validated: true,
		}
		return handler(NewContext(ctx, tc), req)
	}
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", false
	}
	const prefix = "bearer "
	if len(vals[0]) <= len(prefix) || !strings.EqualFold(vals[0][:len(prefix)], prefix) {
		return "", false
	}
	return vals[0][len(prefix):], true
}
