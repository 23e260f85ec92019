package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/saasforge/backend/internal/database"
)

// Webhook statuses. Only active webhooks accept new deliveries.
const (
	WebhookActive   = "active"
	WebhookDisabled = "disabled"
)

// Delivery statuses.
const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusDelivered = "delivered"
	StatusRetry     = "retry"
	StatusExhausted = "exhausted"
)

var (
	// ErrWebhookNotFound covers both absent rows and rows owned by another
	// tenant; callers cannot tell the two apart.
	ErrWebhookNotFound = errors.New("webhook: not found")
	// ErrWebhookDisabled rejects queueing against a tripped webhook.
	ErrWebhookDisabled = errors.New("webhook: disabled")
	// ErrDeliveryNotFound reports an unknown delivery id.
	ErrDeliveryNotFound = errors.New("webhook: delivery not found")
)

// Webhook is a tenant's registered endpoint.
type Webhook struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	URL             string         `db:"url"`
	Secret          string         `db:"secret"`
	EventTypes      pq.StringArray `db:"event_types"`
	Status          string         `db:"status"`
	FailureCount    int            `db:"failure_count"`
	DisabledReason  string         `db:"disabled_reason"`
	LastTriggeredAt *time.Time     `db:"last_triggered_at"`
	CreatedAt       time.Time      `db:"created_at"`
}

// Delivery is one queued outbound POST.
type Delivery struct {
	ID          string     `db:"id"`
	WebhookID   string     `db:"webhook_id"`
	TenantID    string     `db:"tenant_id"`
	EventType   string     `db:"event_type"`
	Payload     string     `db:"payload"`
	URL         string     `db:"url"`
	Signature   string     `db:"signature"`
	Status      string     `db:"status"`
	RetryCount  int        `db:"retry_count"`
	LastStatus  int        `db:"last_status"`
	LastError   string     `db:"last_error"`
	ScheduledAt time.Time  `db:"scheduled_at"`
	CreatedAt   time.Time  `db:"created_at"`
	DeliveredAt *time.Time `db:"delivered_at"`
}

// Attempt is the computed next state of a delivery after a failed POST.
type Attempt struct {
	Status      string
	RetryCount  int
	ScheduledAt time.Time
}

// NextAttempt applies the retry policy to a failed delivery.
func NextAttempt(retryCount, httpStatus int, now time.Time) Attempt {
	if !ShouldRetry(retryCount, httpStatus) {
		return Attempt{Status: StatusExhausted, RetryCount: retryCount, ScheduledAt: now}
	}
	next := retryCount + 1
	return Attempt{
		Status:      StatusRetry,
		RetryCount:  next,
		ScheduledAt: now.Add(RetryDelay(next)),
	}
}

// Store runs the engine's SQL against the shared pool.
type Store struct {
	pool *database.Pool
	now  func() time.Time
}

// NewStore wires the store to the pool.
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// CreateWebhook persists a registration.
func (s *Store) CreateWebhook(ctx context.Context, w *Webhook) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhooks (id, tenant_id, url, secret, event_types, status)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID, w.TenantID, w.URL, w.Secret, w.EventTypes, WebhookActive)
		if err != nil {
			return fmt.Errorf("webhook: create: %w", err)
		}
		return nil
	})
}

// GetWebhook loads a webhook scoped to its tenant.
func (s *Store) GetWebhook(ctx context.Context, tenantID, id string) (*Webhook, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var w Webhook
	err = lease.Conn.GetContext(ctx, &w,
		`SELECT * FROM webhooks WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: get: %w", err)
	}
	return &w, nil
}

// Queue validates the target and persists a pending delivery carrying the
// payload's signature. Returns the delivery id.
func (s *Store) Queue(ctx context.Context, tenantID, webhookID, eventType, payload string) (string, error) {
	id := newID()
	err := s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		var w Webhook
		err := tx.GetContext(ctx, &w,
			`SELECT * FROM webhooks WHERE id = $1 AND tenant_id = $2`, webhookID, tenantID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWebhookNotFound
		}
		if err != nil {
			return fmt.Errorf("webhook: load for queue: %w", err)
		}
		if w.Status != WebhookActive {
			return ErrWebhookDisabled
		}
		if err := SafeURL(w.URL); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO webhook_deliveries
			   (id, webhook_id, tenant_id, event_type, payload, url, signature, status, scheduled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, w.ID, tenantID, eventType, payload, w.URL,
			Sign([]byte(payload), w.Secret), StatusPending, s.now())
		if err != nil {
			return fmt.Errorf("webhook: queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimBatch atomically moves up to n due deliveries into SENDING and returns
// them. SKIP LOCKED keeps two workers from claiming the same row.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]Delivery, error) {
	var claimed []Delivery
	err := s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &claimed,
			`UPDATE webhook_deliveries SET status = $1
			 WHERE id IN (
			   SELECT id FROM webhook_deliveries
			   WHERE status IN ($2, $3) AND scheduled_at <= NOW()
			   ORDER BY scheduled_at ASC
			   LIMIT $4
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING *`,
			StatusSending, StatusPending, StatusRetry, n)
	})
	if err != nil {
		return nil, fmt.Errorf("webhook: claim batch: %w", err)
	}
	return claimed, nil
}

// MarkDelivered finalizes a successful POST and resets the webhook's
// consecutive-failure counter.
func (s *Store) MarkDelivered(ctx context.Context, d Delivery, httpStatus int) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE webhook_deliveries
			 SET status = $1, last_status = $2, delivered_at = NOW(), last_error = ''
			 WHERE id = $3`,
			StatusDelivered, httpStatus, d.ID); err != nil {
			return fmt.Errorf("webhook: mark delivered: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE webhooks SET failure_count = 0, last_triggered_at = NOW() WHERE id = $1`,
			d.WebhookID); err != nil {
			return fmt.Errorf("webhook: reset failures: %w", err)
		}
		return nil
	})
}

// MarkFailed applies the retry policy to the delivery, bumps the webhook's
// consecutive-failure counter, and trips the breaker at the threshold. All in
// one transaction.
func (s *Store) MarkFailed(ctx context.Context, d Delivery, httpStatus int, reason string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		var failures int
		err := tx.GetContext(ctx, &failures,
			`UPDATE webhooks SET failure_count = failure_count + 1
			 WHERE id = $1 RETURNING failure_count`, d.WebhookID)
		if err != nil {
			return fmt.Errorf("webhook: bump failures: %w", err)
		}

		next := NextAttempt(d.RetryCount, httpStatus, s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE webhook_deliveries
			 SET status = $1, retry_count = $2, scheduled_at = $3, last_status = $4, last_error = $5
			 WHERE id = $6`,
			next.Status, next.RetryCount, next.ScheduledAt, httpStatus, reason, d.ID); err != nil {
			return fmt.Errorf("webhook: mark failed: %w", err)
		}

		if failures >= DisableThreshold {
			if _, err := tx.ExecContext(ctx,
				`UPDATE webhooks SET status = $1, disabled_reason = $2
				 WHERE id = $3 AND status <> $1`,
				WebhookDisabled,
				fmt.Sprintf("%d consecutive delivery failures", failures), d.WebhookID); err != nil {
				return fmt.Errorf("webhook: disable: %w", err)
			}
		}
		return nil
	})
}

// GetDelivery loads a delivery scoped to its tenant.
func (s *Store) GetDelivery(ctx context.Context, tenantID, id string) (*Delivery, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var d Delivery
	err = lease.Conn.GetContext(ctx, &d,
		`SELECT * FROM webhook_deliveries WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: get delivery: %w", err)
	}
	return &d, nil
}
