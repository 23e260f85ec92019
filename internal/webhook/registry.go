package webhook

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/saasforge/backend/internal/cache"
)

// ErrDuplicateRegistration signals an idempotency-key replay within the 24 h
// window.
var ErrDuplicateRegistration = errors.New("webhook: duplicate registration")

// registryStore is the slice of Store registration needs.
type registryStore interface {
	CreateWebhook(ctx context.Context, w *Webhook) error
}

// Registry handles webhook registration: target vetting, secret minting, and
// idempotency.
type Registry struct {
	store       registryStore
	cache       *cache.Client
	mockSecrets bool
	logger      *slog.Logger
}

// NewRegistry builds a registry. mockSecrets derives deterministic secrets
// from the registration itself; config rejects that mode in production.
func NewRegistry(store registryStore, c *cache.Client, mockSecrets bool) *Registry {
	return &Registry{
		store:       store,
		cache:       c,
		mockSecrets: mockSecrets,
		logger:      slog.With("component", "webhook_registry"),
	}
}

// Register vets the URL, claims the idempotency key when one is supplied, and
// persists the webhook with a fresh signing secret. Nothing is stored when
// the URL fails the guard.
func (r *Registry) Register(ctx context.Context, tenantID, rawURL string, eventTypes []string, idempotencyKey string) (*Webhook, error) {
	if err := SafeURL(rawURL); err != nil {
		r.logger.Warn("webhook registration rejected",
			"security_alert", "ssrf_attempt", "tenant_id", tenantID, "url", rawURL, "error", err)
		return nil, err
	}

	if idempotencyKey != "" && r.cache != nil {
		first, err := r.cache.RememberIdempotency(ctx, tenantID, idempotencyKey)
		if err != nil {
			// Availability choice: an unreadable cache does not block
			// registration, it only loses replay protection.
			r.logger.Error("idempotency check unavailable", "error", err)
		} else if !first {
			return nil, ErrDuplicateRegistration
		}
	}

	secret, err := r.mintSecret(tenantID, rawURL)
	if err != nil {
		return nil, err
	}

	w := &Webhook{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		URL:        rawURL,
		Secret:     secret,
		EventTypes: eventTypes,
		Status:     WebhookActive,
	}
	if err := r.store.CreateWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Registry) mintSecret(tenantID, rawURL string) (string, error) {
	if r.mockSecrets {
		sum := sha256.Sum256([]byte(tenantID + "|" + rawURL))
		return "whsec_" + hex.EncodeToString(sum[:16]), nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("webhook: mint secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(raw), nil
}

func newID() string {
	return uuid.NewString()
}
