package auth

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saasforge/backend/internal/security"
	"github.com/saasforge/backend/internal/tenant"
)

const backupCodeCount = 10

// Enrollment carries everything returned to the user exactly once.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// EnrollTOTP activates the second factor for the caller and returns the
// secret, the otpauth URI, and the plaintext backup codes. Only code hashes
// persist.
func (s *Service) EnrollTOTP(ctx context.Context, tc *tenant.Context) (*Enrollment, error) {
	u, err := s.requireUser(ctx, tc)
	if err != nil {
		return nil, err
	}
	if u.TOTPEnrolled() {
		return nil, status.Error(codes.AlreadyExists, "TOTP is already enrolled")
	}

	secret, err := security.GenerateTOTPSecret()
	if err != nil {
		return nil, status.Error(codes.Internal, "could not generate secret")
	}
	plain, err := security.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not generate backup codes")
	}
	hashes := make([]string, len(plain))
	for i, c := range plain {
		hashes[i] = security.HashToken(c)
	}

	if err := s.store.EnrollTOTP(ctx, u.ID, secret, hashes); err != nil {
		return nil, status.Error(codes.Internal, "could not enroll TOTP")
	}

	return &Enrollment{
		Secret:          secret,
		ProvisioningURI: security.ProvisioningURI(secret, u.Email, s.issuer.Name()),
		BackupCodes:     plain,
	}, nil
}

// VerifyTOTP checks a code for the caller's enrolled secret.
func (s *Service) VerifyTOTP(ctx context.Context, tc *tenant.Context, code string) (bool, error) {
	u, err := s.requireUser(ctx, tc)
	if err != nil {
		return false, err
	}
	if !u.TOTPEnrolled() {
		return false, status.Error(codes.FailedPrecondition, "TOTP is not enrolled")
	}
	return security.ValidateTOTP(u.TOTPSecret, code, s.now()), nil
}

// DisableTOTP turns the second factor off after re-verifying the caller's
// password.
func (s *Service) DisableTOTP(ctx context.Context, tc *tenant.Context, password string) error {
	u, err := s.requireUser(ctx, tc)
	if err != nil {
		return err
	}
	if !u.TOTPEnrolled() {
		return status.Error(codes.FailedPrecondition, "TOTP is not enrolled")
	}
	if u.PasswordHash == nil || !security.VerifyPassword(password, *u.PasswordHash) {
		return status.Error(codes.Unauthenticated, invalidCredentials)
	}
	if err := s.store.DisableTOTP(ctx, u.ID); err != nil {
		return status.Error(codes.Internal, "could not disable TOTP")
	}
	return nil
}

// RegenerateBackupCodes replaces every backup code and returns the new
// plaintexts exactly once. Like DisableTOTP it re-verifies the caller's
// password: a hijacked session must not be able to mint fresh recovery codes.
func (s *Service) RegenerateBackupCodes(ctx context.Context, tc *tenant.Context, password string) ([]string, error) {
	u, err := s.requireUser(ctx, tc)
	if err != nil {
		return nil, err
	}
	if !u.TOTPEnrolled() {
		return nil, status.Error(codes.FailedPrecondition, "TOTP is not enrolled")
	}
	if u.PasswordHash == nil || !security.VerifyPassword(password, *u.PasswordHash) {
		return nil, status.Error(codes.Unauthenticated, invalidCredentials)
	}

	plain, err := security.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not generate backup codes")
	}
	hashes := make([]string, len(plain))
	for i, c := range plain {
		hashes[i] = security.HashToken(c)
	}
	if err := s.store.ReplaceBackupCodes(ctx, u.ID, hashes); err != nil {
		return nil, status.Error(codes.Internal, "could not store backup codes")
	}
	return plain, nil
}

func (s *Service) requireUser(ctx context.Context, tc *tenant.Context) (*User, error) {
	if tc == nil || !tc.Validated {
		return nil, status.Error(codes.Unauthenticated, "validated context required")
	}
	u, err := s.store.GetUserByID(ctx, tc.UserID)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unknown user")
	}
	return u, nil
}
