package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingSender struct {
	codes []string
	to    []string
	err   error
}

func (r *recordingSender) SendCode(_ context.Context, email, code, _ string) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, email)
	r.codes = append(r.codes, code)
	return nil
}

func TestOTPSendAndVerify(t *testing.T) {
	c, _ := testCache(t)
	sender := &recordingSender{}
	svc := NewOTPService(c, sender)
	ctx := context.Background()

	sent, expires, err := svc.Send(ctx, "u@x.io", "login")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.WithinDuration(t, time.Now().Add(600*time.Second), expires, 2*time.Second)
	require.Len(t, sender.codes, 1)
	assert.Len(t, sender.codes[0], 6)

	// Wrong code does not consume.
	ok, err := svc.Verify(ctx, "u@x.io", "000000", "login")
	require.NoError(t, err)
	if sender.codes[0] == "000000" {
		t.Skip("generated code collided with the guess")
	}
	assert.False(t, ok)

	// Right code consumes exactly once.
	ok, err = svc.Verify(ctx, "u@x.io", sender.codes[0], "login")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.Verify(ctx, "u@x.io", sender.codes[0], "login")
	require.NoError(t, err)
	assert.False(t, ok, "codes are single use")
}

func TestOTPVerifyIsPurposeScoped(t *testing.T) {
	c, _ := testCache(t)
	sender := &recordingSender{}
	svc := NewOTPService(c, sender)
	ctx := context.Background()

	_, _, err := svc.Send(ctx, "u@x.io", "login")
	require.NoError(t, err)

	ok, err := svc.Verify(ctx, "u@x.io", sender.codes[0], "password-reset")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOTPRateLimit(t *testing.T) {
	c, _ := testCache(t)
	sender := &recordingSender{}
	svc := NewOTPService(c, sender)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sent, _, err := svc.Send(ctx, "u@x.io", "login")
		require.NoError(t, err)
		assert.True(t, sent, "send %d is under the cap", i+1)
	}

	sent, _, err := svc.Send(ctx, "u@x.io", "login")
	require.NoError(t, err, "the cap is not an error, just a silent refusal")
	assert.False(t, sent)
	assert.Len(t, sender.codes, 3)

	// Another address has its own budget.
	sent, _, err = svc.Send(ctx, "other@x.io", "login")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestOTPRateLimitWindowResets(t *testing.T) {
	c, mr := testCache(t)
	sender := &recordingSender{}
	svc := NewOTPService(c, sender)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := svc.Send(ctx, "u@x.io", "login")
		require.NoError(t, err)
	}
	mr.FastForward(61 * time.Second)

	sent, _, err := svc.Send(ctx, "u@x.io", "login")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestOTPRateLimitFailsOpen(t *testing.T) {
	c, mr := testCache(t)
	svc := NewOTPService(c, &recordingSender{})

	// With the cache down the limiter cannot be read; the code store cannot
	// be written either, so the send still fails, but as an internal error
	// rather than a rate refusal.
	mr.Close()
	_, _, err := svc.Send(context.Background(), "u@x.io", "login")
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestOTPSenderFailureSurfaces(t *testing.T) {
	c, _ := testCache(t)
	svc := NewOTPService(c, &recordingSender{err: errors.New("queue full")})

	_, _, err := svc.Send(context.Background(), "u@x.io", "login")
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestOTPSendValidatesInput(t *testing.T) {
	c, _ := testCache(t)
	svc := NewOTPService(c, &recordingSender{})

	_, _, err := svc.Send(context.Background(), "", "login")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, _, err = svc.Send(context.Background(), "u@x.io", "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
