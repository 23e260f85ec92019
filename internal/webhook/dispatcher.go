package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/saasforge/backend/internal/config"
	"github.com/saasforge/backend/internal/metrics"
)

// SignatureHeader carries the payload HMAC on every outbound POST.
const SignatureHeader = "X-Webhook-Signature"

const maxRedirects = 2

// deliveryStore is the slice of Store the dispatcher needs; tests substitute
// an in-memory fake.
type deliveryStore interface {
	ClaimBatch(ctx context.Context, n int) ([]Delivery, error)
	MarkDelivered(ctx context.Context, d Delivery, httpStatus int) error
	MarkFailed(ctx context.Context, d Delivery, httpStatus int, reason string) error
}

// Dispatcher drains the delivery queue and performs the outbound POSTs.
type Dispatcher struct {
	store     deliveryStore
	client    *http.Client
	overrides *config.Overrides
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	timeout   time.Duration
}

// NewDispatcher builds a worker. The HTTP client follows at most two
// redirects and re-vets every redirect target before following it. timeout is
// the per-delivery default; overrides may raise or lower it per tenant and
// may be nil.
func NewDispatcher(store deliveryStore, overrides *config.Overrides, batchSize int, interval, timeout time.Duration) *Dispatcher {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("webhook: more than %d redirects", maxRedirects)
			}
			return SafeURL(req.URL.String())
		},
	}
	return &Dispatcher{
		store:     store,
		client:    client,
		overrides: overrides,
		logger:    slog.With("component", "webhook_dispatcher"),
		batchSize: batchSize,
		interval:  interval,
		timeout:   timeout,
	}
}

// Run drains the queue on a ticker until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("webhook dispatcher started", "batch_size", d.batchSize, "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("webhook dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.Error("dispatch pass failed", "error", err)
			}
		}
	}
}

// RunOnce claims one batch and delivers it, returning how many deliveries it
// processed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	batch, err := d.store.ClaimBatch(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	for _, del := range batch {
		d.dispatch(ctx, del)
	}
	return len(batch), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, del Delivery) {
	start := time.Now()
	status, err := d.post(ctx, del)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())

	if err == nil && status >= 200 && status < 300 {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		if err := d.store.MarkDelivered(ctx, del, status); err != nil {
			d.logger.Error("failed to record delivery", "delivery_id", del.ID, "error", err)
		}
		return
	}

	reason := fmt.Sprintf("http status %d", status)
	if err != nil {
		reason = err.Error()
	}
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	d.logger.Warn("webhook delivery failed",
		"delivery_id", del.ID, "webhook_id", del.WebhookID,
		"http_status", status, "retry_count", del.RetryCount, "reason", reason)
	if err := d.store.MarkFailed(ctx, del, status, reason); err != nil {
		d.logger.Error("failed to record delivery failure", "delivery_id", del.ID, "error", err)
	}
}

// post performs the signed POST under the tenant's delivery timeout. A zero
// status means the request never completed.
func (d *Dispatcher) post(ctx context.Context, del Delivery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.overrides.WebhookTimeout(del.TenantID, d.timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.URL, strings.NewReader(del.Payload))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+del.Signature)
	req.Header.Set("User-Agent", "saasforge-webhooks/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
