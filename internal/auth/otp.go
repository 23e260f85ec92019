package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saasforge/backend/internal/cache"
)

const (
	otpTTL        = 600 * time.Second
	otpRateWindow = 60 * time.Second
	otpRateCap    = 3
)

// OTPSender hands a generated code to the mail path.
type OTPSender interface {
	SendCode(ctx context.Context, email, code, purpose string) error
}

// OTPService implements the email-mediated one-time code flow.
type OTPService struct {
	cache  *cache.Client
	sender OTPSender
	logger *slog.Logger
	now    func() time.Time
}

// NewOTPService wires the flow together.
func NewOTPService(c *cache.Client, sender OTPSender) *OTPService {
	return &OTPService{
		cache:  c,
		sender: sender,
		logger: slog.With("component", "otp"),
		now:    time.Now,
	}
}

// Send generates and mails a code unless the address is over its rate cap.
// The response never distinguishes "rate limited" from other silent refusals,
// and a cache outage fails open: availability beats the limiter.
func (s *OTPService) Send(ctx context.Context, email, purpose string) (bool, time.Time, error) {
	if email == "" || purpose == "" {
		return false, time.Time{}, status.Error(codes.InvalidArgument, "email and purpose are required")
	}

	n, err := s.cache.IncrementWithTTL(ctx, "otp:rate:"+email, otpRateWindow)
	if err != nil {
		s.logger.Error("otp rate limiter unavailable, allowing request", "error", err)
	} else if n > otpRateCap {
		return false, time.Time{}, nil
	}

	code, err := sixDigitCode()
	if err != nil {
		return false, time.Time{}, status.Error(codes.Internal, "could not generate code")
	}
	if err := s.cache.SetWithTTL(ctx, "otp:"+email+":"+purpose, code, otpTTL); err != nil {
		return false, time.Time{}, status.Error(codes.Internal, "could not store code")
	}
	if err := s.sender.SendCode(ctx, email, code, purpose); err != nil {
		return false, time.Time{}, status.Error(codes.Internal, "could not send code")
	}
	return true, s.now().Add(otpTTL), nil
}

// Verify consumes a code: an exact match deletes the key and reports valid.
func (s *OTPService) Verify(ctx context.Context, email, code, purpose string) (bool, error) {
	stored, found, err := s.cache.Get(ctx, "otp:"+email+":"+purpose)
	if err != nil {
		return false, status.Error(codes.Internal, "code store unavailable")
	}
	if !found || stored != code {
		return false, nil
	}
	if err := s.cache.Delete(ctx, "otp:"+email+":"+purpose); err != nil {
		return false, status.Error(codes.Internal, "could not consume code")
	}
	return true, nil
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
