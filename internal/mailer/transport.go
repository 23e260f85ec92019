package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Transport hands a message to the external mail provider.
type Transport interface {
	Send(ctx context.Context, from string, e *Email) error
}

// BounceError is returned by transports when the provider rejects the
// recipient. Type is BounceSoft or BounceHard.
type BounceError struct {
	Type   string
	Reason string
}

func (b *BounceError) Error() string {
	return fmt.Sprintf("mailer: %s bounce: %s", b.Type, b.Reason)
}

// ClassifyBounce extracts the bounce classification from a transport error.
// Non-bounce errors classify as soft failures: they retry.
func ClassifyBounce(err error) (string, string) {
	var be *BounceError
	if errors.As(err, &be) {
		return be.Type, be.Reason
	}
	return BounceNone, err.Error()
}

// LogTransport writes messages to the log instead of a provider. The default
// outside production.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport builds the development transport.
func NewLogTransport() *LogTransport {
	return &LogTransport{logger: slog.With("component", "mail_transport")}
}

func (t *LogTransport) Send(_ context.Context, from string, e *Email) error {
	t.logger.Info("email send (log transport)",
		"from", from, "to", e.To, "subject", e.Subject, "template_id", e.TemplateID)
	return nil
}

// HTTPTransport posts messages to an HTTP mail provider authenticated by a
// bearer key.
type HTTPTransport struct {
	endpoint string
	key      string
	client   *http.Client
}

// NewHTTPTransport builds the production transport.
func NewHTTPTransport(endpoint, key string) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, from string, e *Email) error {
	body, err := json.Marshal(map[string]any{
		"from":        from,
		"to":          e.To,
		"subject":     e.Subject,
		"html":        e.HTMLBody,
		"text":        e.TextBody,
		"template_id": e.TemplateID,
	})
	if err != nil {
		return fmt.Errorf("mailer: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.key)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	// Provider conventions: 4xx on the recipient is permanent, everything
	// else is worth retrying.
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusGone:
		return &BounceError{Type: BounceHard, Reason: fmt.Sprintf("provider status %d", resp.StatusCode)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return &BounceError{Type: BounceHard, Reason: fmt.Sprintf("provider status %d", resp.StatusCode)}
	default:
		return &BounceError{Type: BounceSoft, Reason: fmt.Sprintf("provider status %d", resp.StatusCode)}
	}
}
