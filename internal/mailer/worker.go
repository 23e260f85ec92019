package mailer

import (
	"context"
	"log/slog"
	"time"

	"github.com/saasforge/backend/internal/config"
	"github.com/saasforge/backend/internal/metrics"
)

// DefaultFrom is used when neither the process nor the tenant override sets a
// sender address.
const DefaultFrom = "no-reply@saasforge.dev"

// queueStore is the slice of Store the worker needs; tests substitute an
// in-memory fake.
type queueStore interface {
	ClaimBatch(ctx context.Context, n int) ([]Email, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, e Email, reason string, hardBounce bool) error
	MarkBounced(ctx context.Context, e Email, bounceType, reason string) error
}

// Worker drains the email queue through the transport.
type Worker struct {
	store     queueStore
	transport Transport
	overrides *config.Overrides
	from      string
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

// NewWorker builds a queue worker. overrides may be nil.
func NewWorker(store queueStore, transport Transport, overrides *config.Overrides, batchSize int, interval time.Duration) *Worker {
	return &Worker{
		store:     store,
		transport: transport,
		overrides: overrides,
		from:      DefaultFrom,
		logger:    slog.With("component", "mail_worker"),
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run drains the queue on a ticker until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("mail worker started", "batch_size", w.batchSize, "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("mail worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("send pass failed", "error", err)
			}
		}
	}
}

// RunOnce claims one batch and sends it, returning how many messages it
// processed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	batch, err := w.store.ClaimBatch(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range batch {
		w.send(ctx, batch[i])
	}
	return len(batch), nil
}

func (w *Worker) send(ctx context.Context, e Email) {
	from := w.from
	if w.overrides != nil {
		if o := w.overrides.ForTenant(e.TenantID).EmailFromAddress; o != "" {
			from = o
		}
	}

	err := w.transport.Send(ctx, from, &e)
	if err == nil {
		metrics.EmailSends.WithLabelValues("sent").Inc()
		if err := w.store.MarkSent(ctx, e.ID); err != nil {
			w.logger.Error("failed to record sent email", "email_id", e.ID, "error", err)
		}
		return
	}

	bounceType, reason := ClassifyBounce(err)
	w.logger.Warn("email send failed",
		"email_id", e.ID, "tenant_id", e.TenantID,
		"bounce_type", bounceType, "retry_count", e.RetryCount, "reason", reason)

	var recordErr error
	switch bounceType {
	case BounceHard, BounceSoft:
		metrics.EmailSends.WithLabelValues("bounced").Inc()
		recordErr = w.store.MarkBounced(ctx, e, bounceType, reason)
	default:
		metrics.EmailSends.WithLabelValues("failed").Inc()
		recordErr = w.store.MarkFailed(ctx, e, reason, false)
	}
	if recordErr != nil {
		w.logger.Error("failed to record send failure", "email_id", e.ID, "error", recordErr)
	}
}
