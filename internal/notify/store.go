package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saasforge/backend/internal/database"
)

var ErrDuplicateSubscription = errors.New("notify: subscription already exists")

// Notification is a row in the notifications audit table. One is recorded
// for every email the façade accepts.
type Notification struct {
	ID        string     `db:"id"`
	TenantID  string     `db:"tenant_id"`
	UserID    string     `db:"user_id"`
	Channel   string     `db:"channel"`
	Subject   string     `db:"subject"`
	Body      string     `db:"body"`
	CreatedAt time.Time  `db:"created_at"`
	ReadAt    *time.Time `db:"read_at"`
}

// Subscription binds a user to an event type on a delivery channel.
type Subscription struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	UserID    string    `db:"user_id"`
	EventType string    `db:"event_type"`
	Channel   string    `db:"channel"`
	CreatedAt time.Time `db:"created_at"`
}

// Store persists notification preferences, subscriptions and the audit
// trail.
type Store struct {
	pool *database.Pool
}

func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

// ChannelEnabled reports whether the user accepts notifications on the given
// channel. Absent rows mean enabled; preferences are opt-out.
func (s *Store) ChannelEnabled(ctx context.Context, userID, channel string) (bool, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer lease.Release()

	var enabled bool
	err = lease.Conn.QueryRowxContext(ctx,
		`SELECT enabled FROM notification_preferences WHERE user_id = $1 AND channel = $2`,
		userID, channel).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify: load preference: %w", err)
	}
	return enabled, nil
}

// SetPreference upserts the user's opt-in state for a channel.
func (s *Store) SetPreference(ctx context.Context, tenantID, userID, channel string, enabled bool) error {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	_, err = lease.Conn.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, tenant_id, channel, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, channel) DO UPDATE SET enabled = EXCLUDED.enabled`,
		userID, tenantID, channel, enabled)
	if err != nil {
		return fmt.Errorf("notify: set preference: %w", err)
	}
	return nil
}

// CreateSubscription inserts the binding; the natural key is
// (tenant, user, event type, channel).
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	_, err = lease.Conn.ExecContext(ctx,
		`INSERT INTO subscriptions (id, tenant_id, user_id, event_type, channel)
		 VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.TenantID, sub.UserID, sub.EventType, sub.Channel)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateSubscription
	}
	if err != nil {
		return fmt.Errorf("notify: create subscription: %w", err)
	}
	return nil
}

// RecordNotification appends to the audit trail.
func (s *Store) RecordNotification(ctx context.Context, n *Notification) error {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	_, err = lease.Conn.ExecContext(ctx,
		`INSERT INTO notifications (id, tenant_id, user_id, channel, subject, body)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.TenantID, n.UserID, n.Channel, n.Subject, n.Body)
	if err != nil {
		return fmt.Errorf("notify: record notification: %w", err)
	}
	return nil
}
