package mailer

import (
	"context"
	"fmt"
)

// SystemTenant owns messages the platform itself originates (OTP codes,
// operational notices).
const SystemTenant = "system"

// OTPMailer adapts the queue to the auth engine's code-delivery collaborator.
type OTPMailer struct {
	store *Store
}

// NewOTPMailer wires the adapter to the queue.
func NewOTPMailer(store *Store) *OTPMailer {
	return &OTPMailer{store: store}
}

// SendCode enqueues the one-time code at top priority. Suppressed addresses
// refuse here too; a recipient we must not contact gets no codes either.
func (m *OTPMailer) SendCode(ctx context.Context, email, code, purpose string) error {
	_, err := m.store.Enqueue(ctx, &Email{
		TenantID:   SystemTenant,
		To:         email,
		Subject:    "Your verification code",
		TextBody:   fmt.Sprintf("Your one-time code is %s. It expires in 10 minutes.", code),
		TemplateID: "otp-" + purpose,
		Priority:   10,
	})
	return err
}
