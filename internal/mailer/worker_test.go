package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saasforge/backend/internal/config"
)

type fakeQueue struct {
	mu      sync.Mutex
	queue   []Email
	sent    []string
	failed  []Email
	bounced []Email
	bounces []string
}

func (f *fakeQueue) ClaimBatch(_ context.Context, n int) ([]Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	return batch, nil
}

func (f *fakeQueue) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeQueue) MarkFailed(_ context.Context, e Email, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, e)
	return nil
}

func (f *fakeQueue) MarkBounced(_ context.Context, e Email, bounceType, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bounced = append(f.bounced, e)
	f.bounces = append(f.bounces, bounceType)
	return nil
}

// scriptedTransport returns one queued response per send, recording the from
// address it saw.
type scriptedTransport struct {
	errs  []error
	froms []string
}

func (s *scriptedTransport) Send(_ context.Context, from string, _ *Email) error {
	s.froms = append(s.froms, from)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func TestWorkerSendsAndRecords(t *testing.T) {
	q := &fakeQueue{queue: []Email{{ID: "e-1", TenantID: "acme", To: "a@x.io"}}}
	tr := &scriptedTransport{}
	w := NewWorker(q, tr, nil, 10, time.Second)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e-1"}, q.sent)
	assert.Equal(t, []string{DefaultFrom}, tr.froms)
}

func TestWorkerHardBounce(t *testing.T) {
	q := &fakeQueue{queue: []Email{{ID: "e-1", TenantID: "acme", To: "gone@x.io"}}}
	tr := &scriptedTransport{errs: []error{&BounceError{Type: BounceHard, Reason: "no such user"}}}
	w := NewWorker(q, tr, nil, 10, time.Second)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, q.bounced, 1)
	assert.Equal(t, []string{BounceHard}, q.bounces)
	assert.Empty(t, q.sent)
	assert.Empty(t, q.failed)
}

func TestWorkerSoftBounce(t *testing.T) {
	q := &fakeQueue{queue: []Email{{ID: "e-1", TenantID: "acme", To: "full@x.io"}}}
	tr := &scriptedTransport{errs: []error{&BounceError{Type: BounceSoft, Reason: "mailbox full"}}}
	w := NewWorker(q, tr, nil, 10, time.Second)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, q.bounced, 1)
	assert.Equal(t, []string{BounceSoft}, q.bounces)
}

func TestWorkerTransportErrorRetries(t *testing.T) {
	q := &fakeQueue{queue: []Email{{ID: "e-1", TenantID: "acme", To: "a@x.io"}}}
	tr := &scriptedTransport{errs: []error{errors.New("dial tcp: timeout")}}
	w := NewWorker(q, tr, nil, 10, time.Second)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, q.failed, 1)
	assert.Empty(t, q.bounced)
}

func TestWorkerTenantFromOverride(t *testing.T) {
	q := &fakeQueue{queue: []Email{
		{ID: "e-1", TenantID: "acme", To: "a@x.io"},
		{ID: "e-2", TenantID: "other", To: "b@x.io"},
	}}
	tr := &scriptedTransport{}
	overrides := &config.Overrides{Tenants: map[string]config.Tuning{
		"acme": {EmailFromAddress: "ops@acme.example"},
	}}
	w := NewWorker(q, tr, overrides, 10, time.Second)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@acme.example", DefaultFrom}, tr.froms)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	w := NewWorker(&fakeQueue{}, &scriptedTransport{}, nil, 10, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
