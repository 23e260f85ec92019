// Package mailer implements the email queue: priority dispatch, bounded
// retry, soft/hard bounce handling, and durable address suppression.
package mailer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/saasforge/backend/internal/database"
)

// Email statuses. sent, exhausted, and bounced are terminal.
const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusRetry     = "retry"
	StatusExhausted = "exhausted"
	StatusBounced   = "bounced"
)

// Bounce classifications.
const (
	BounceNone = "none"
	BounceSoft = "soft"
	BounceHard = "hard"
)

// MaxRetries bounds soft-failure redelivery.
const MaxRetries = 3

var emailRetryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// RetryDelay returns the wait before attempt n+1, clamped to the last entry.
func RetryDelay(n int) time.Duration {
	if n < 0 {
		return 0
	}
	if n >= len(emailRetryDelays) {
		return emailRetryDelays[len(emailRetryDelays)-1]
	}
	return emailRetryDelays[n]
}

var (
	// ErrSuppressed refuses contact with an address on the suppression list.
	ErrSuppressed = errors.New("mailer: address is suppressed")
	// ErrEmailNotFound reports an unknown queue row.
	ErrEmailNotFound = errors.New("mailer: email not found")
	// ErrBadPriority rejects priorities outside 0-10.
	ErrBadPriority = errors.New("mailer: priority must be between 0 and 10")
)

// Email is one queued message.
type Email struct {
	ID          string     `db:"id"`
	TenantID    string     `db:"tenant_id"`
	UserID      *string    `db:"user_id"`
	To          string     `db:"to_address"`
	Subject     string     `db:"subject"`
	HTMLBody    string     `db:"html_body"`
	TextBody    string     `db:"text_body"`
	TemplateID  string     `db:"template_id"`
	Priority    int        `db:"priority"`
	Status      string     `db:"status"`
	RetryCount  int        `db:"retry_count"`
	BounceType  string     `db:"bounce_type"`
	LastError   string     `db:"last_error"`
	ScheduledAt time.Time  `db:"scheduled_at"`
	CreatedAt   time.Time  `db:"created_at"`
	SentAt      *time.Time `db:"sent_at"`
}

// Attempt is the computed next state after a failed send.
type Attempt struct {
	Status      string
	RetryCount  int
	BounceType  string
	ScheduledAt time.Time
}

// NextAttempt applies the retry policy. A hard bounce is terminal and
// triggers suppression at the store layer; soft failures retry up to
// MaxRetries. An empty BounceType means the attempt carries no new
// classification and the stored one stands, so a soft bounce recorded before
// the retry mark survives it.
func NextAttempt(retryCount int, hardBounce bool, now time.Time) Attempt {
	if hardBounce {
		return Attempt{Status: StatusBounced, RetryCount: retryCount, BounceType: BounceHard, ScheduledAt: now}
	}
	if retryCount >= MaxRetries {
		return Attempt{Status: StatusExhausted, RetryCount: retryCount, ScheduledAt: now}
	}
	next := retryCount + 1
	return Attempt{
		Status:      StatusRetry,
		RetryCount:  next,
		ScheduledAt: now.Add(RetryDelay(next)),
	}
}

// Store runs the queue's SQL against the shared pool.
type Store struct {
	pool *database.Pool
	now  func() time.Time
}

// NewStore wires the store to the pool.
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Enqueue inserts a pending message unless the recipient is on the
// suppression list. The list is global: a bounce reported through any tenant
// blocks the address for all of them.
func (s *Store) Enqueue(ctx context.Context, e *Email) (string, error) {
	if e.Priority < 0 || e.Priority > 10 {
		return "", ErrBadPriority
	}
	id := uuid.NewString()
	err := s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		var suppressed bool
		err := tx.GetContext(ctx, &suppressed,
			`SELECT EXISTS (SELECT 1 FROM email_suppression WHERE address = $1)`, e.To)
		if err != nil {
			return fmt.Errorf("mailer: suppression check: %w", err)
		}
		if suppressed {
			return ErrSuppressed
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO email_queue
			   (id, tenant_id, user_id, to_address, subject, html_body, text_body,
			    template_id, priority, status, scheduled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			id, e.TenantID, e.UserID, e.To, e.Subject, e.HTMLBody, e.TextBody,
			e.TemplateID, e.Priority, StatusPending, s.now())
		if err != nil {
			return fmt.Errorf("mailer: enqueue: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimBatch atomically moves up to n due messages into SENDING, highest
// priority first.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]Email, error) {
	var claimed []Email
	err := s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &claimed,
			`UPDATE email_queue SET status = $1
			 WHERE id IN (
			   SELECT id FROM email_queue
			   WHERE status IN ($2, $3) AND scheduled_at <= NOW()
			   ORDER BY priority DESC, scheduled_at ASC
			   LIMIT $4
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING *`,
			StatusSending, StatusPending, StatusRetry, n)
	})
	if err != nil {
		return nil, fmt.Errorf("mailer: claim batch: %w", err)
	}
	return claimed, nil
}

// MarkSent finalizes a successful send.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE email_queue SET status = $1, sent_at = NOW(), last_error = '' WHERE id = $2`,
			StatusSent, id)
		if err != nil {
			return fmt.Errorf("mailer: mark sent: %w", err)
		}
		return nil
	})
}

// MarkFailed applies the retry policy. A hard bounce suppresses the recipient
// in the same transaction.
func (s *Store) MarkFailed(ctx context.Context, e Email, reason string, hardBounce bool) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		next := NextAttempt(e.RetryCount, hardBounce, s.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE email_queue
			 SET status = $1, retry_count = $2,
			     bounce_type = COALESCE(NULLIF($3, ''), bounce_type),
			     scheduled_at = $4, last_error = $5
			 WHERE id = $6`,
			next.Status, next.RetryCount, next.BounceType, next.ScheduledAt, reason, e.ID); err != nil {
			return fmt.Errorf("mailer: mark failed: %w", err)
		}
		if hardBounce {
			if err := suppressTx(ctx, tx, e.TenantID, e.To, reason); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkBounced records a provider bounce. Hard bounces terminate and suppress;
// soft bounces note the classification and fall back to the retry policy.
func (s *Store) MarkBounced(ctx context.Context, e Email, bounceType, reason string) error {
	if bounceType == BounceHard {
		return s.MarkFailed(ctx, e, reason, true)
	}
	err := s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE email_queue SET bounce_type = $1 WHERE id = $2`, BounceSoft, e.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("mailer: record soft bounce: %w", err)
	}
	return s.MarkFailed(ctx, e, reason, false)
}

// Suppress upserts a durable do-not-contact record. Suppression is keyed by
// address alone: a hard bounce poisons the mailbox for every tenant, not just
// the one whose message bounced. tenant_id records where the bounce came from.
func (s *Store) Suppress(ctx context.Context, tenantID, address, reason string) error {
	return s.pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		return suppressTx(ctx, tx, tenantID, address, reason)
	})
}

func suppressTx(ctx context.Context, tx *sqlx.Tx, tenantID, address, reason string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO email_suppression (address, tenant_id, reason)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason`,
		address, tenantID, reason)
	if err != nil {
		return fmt.Errorf("mailer: suppress: %w", err)
	}
	return nil
}

// IsSuppressed reports whether an address is on the list, for any tenant.
func (s *Store) IsSuppressed(ctx context.Context, address string) (bool, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer lease.Release()

	var suppressed bool
	err = lease.Conn.GetContext(ctx, &suppressed,
		`SELECT EXISTS (SELECT 1 FROM email_suppression WHERE address = $1)`, address)
	if err != nil {
		return false, fmt.Errorf("mailer: suppression check: %w", err)
	}
	return suppressed, nil
}

// GetEmail loads a queue row scoped to its tenant.
func (s *Store) GetEmail(ctx context.Context, tenantID, id string) (*Email, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var e Email
	err = lease.Conn.GetContext(ctx, &e,
		`SELECT * FROM email_queue WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mailer: get email: %w", err)
	}
	return &e, nil
}

// GetBounceRate returns bounced-to-total percent over the trailing window.
// An empty tenantID spans all tenants. A window with no traffic reports 0.
func (s *Store) GetBounceRate(ctx context.Context, tenantID string, hours int) (float64, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	var counts struct {
		Total   int `db:"total"`
		Bounced int `db:"bounced"`
	}
	err = lease.Conn.GetContext(ctx, &counts,
		`SELECT COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE status = $1) AS bounced
		 FROM email_queue
		 WHERE created_at >= NOW() - ($2 * INTERVAL '1 hour')
		   AND ($3 = '' OR tenant_id = $3)`,
		StatusBounced, hours, tenantID)
	if err != nil {
		return 0, fmt.Errorf("mailer: bounce rate: %w", err)
	}
	if counts.Total == 0 {
		return 0, nil
	}
	return 100 * float64(counts.Bounced) / float64(counts.Total), nil
}
