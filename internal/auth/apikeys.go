package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saasforge/backend/internal/security"
	"github.com/saasforge/backend/internal/tenant"
)

// apiKeyStore is the slice of Store the key operations need.
type apiKeyStore interface {
	CreateAPIKey(ctx context.Context, k *APIKey) error
	ListActiveAPIKeys(ctx context.Context) ([]APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string) error
	RevokeAPIKey(ctx context.Context, tenantID, userID, keyID string) error
}

// APIKeyService manages key issuance and validation.
type APIKeyService struct {
	store  apiKeyStore
	logger *slog.Logger
}

// NewAPIKeyService wires the service to its store.
func NewAPIKeyService(store apiKeyStore) *APIKeyService {
	return &APIKeyService{store: store, logger: slog.With("component", "apikeys")}
}

// Create mints a key for the authenticated caller. The plaintext is returned
// exactly once; only its argon2id hash persists.
func (s *APIKeyService) Create(ctx context.Context, tc *tenant.Context, name string, scopes []string) (string, *APIKey, error) {
	if tc == nil || !tc.Validated {
		return "", nil, status.Error(codes.Unauthenticated, "validated context required")
	}
	if name == "" {
		return "", nil, status.Error(codes.InvalidArgument, "key name is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, status.Error(codes.Internal, "could not generate key")
	}
	plaintext := "sk_" + hex.EncodeToString(raw)

	hash, err := security.HashPassword(plaintext)
	if err != nil {
		return "", nil, status.Error(codes.Internal, "could not hash key")
	}

	k := &APIKey{
		ID:        uuid.NewString(),
		UserID:    tc.UserID,
		TenantID:  tc.TenantID,
		Name:      name,
		KeyHash:   hash,
		Scopes:    scopes,
		ExpiresAt: time.Now().AddDate(1, 0, 0),
	}
	if err := s.store.CreateAPIKey(ctx, k); err != nil {
		return "", nil, status.Error(codes.Internal, "could not store key")
	}
	return plaintext, k, nil
}

// Validate resolves a plaintext key and checks it grants the requested
// scope. Deny by default: unknown keys and missing scopes both fail.
func (s *APIKeyService) Validate(ctx context.Context, plaintext, requestedScope string) (*APIKey, error) {
	keys, err := s.store.ListActiveAPIKeys(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not load keys")
	}

	var match *APIKey
	for i := range keys {
		if security.VerifyPassword(plaintext, keys[i].KeyHash) {
			match = &keys[i]
			break
		}
	}
	if match == nil {
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}

	if !ScopeMatch(match.Scopes, requestedScope) {
		return nil, status.Error(codes.PermissionDenied,
			fmt.Sprintf("api key lacks scope %q", requestedScope))
	}

	if err := s.store.TouchAPIKey(ctx, match.ID); err != nil {
		s.logger.Error("failed to stamp api key use", "key_id", match.ID, "error", err)
	}
	return match, nil
}

// Revoke disables one of the caller's keys.
func (s *APIKeyService) Revoke(ctx context.Context, tc *tenant.Context, keyID string) error {
	if tc == nil || !tc.Validated {
		return status.Error(codes.Unauthenticated, "validated context required")
	}
	err := s.store.RevokeAPIKey(ctx, tc.TenantID, tc.UserID, keyID)
	if errors.Is(err, ErrKeyNotFound) {
		return status.Error(codes.NotFound, "api key not found")
	}
	if err != nil {
		return status.Error(codes.Internal, "could not revoke key")
	}
	return nil
}

// ScopeMatch decides whether any granted scope satisfies the requested one.
// Matching is case-sensitive and untrimmed. A trailing `*` is a textual
// prefix wildcard; `*` alone grants everything; internal `*` characters are
// literal.
func ScopeMatch(granted []string, requested string) bool {
	if requested == "" {
		return false
	}
	for _, g := range granted {
		if g == requested {
			return true
		}
		if strings.HasSuffix(g, "*") && strings.HasPrefix(requested, g[:len(g)-1]) {
			return true
		}
	}
	return false
}
