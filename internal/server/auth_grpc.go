package server

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/saasforge/backend/internal/auth"
	"github.com/saasforge/backend/internal/tenant"
	"github.com/saasforge/backend/pb"
)

// AuthPublicMethods are reachable without a bearer token.
var AuthPublicMethods = map[string]bool{
	pb.AuthService_Login_FullMethodName:               true,
	pb.AuthService_Logout_FullMethodName:              true,
	pb.AuthService_RefreshToken_FullMethodName:        true,
	pb.AuthService_ValidateToken_FullMethodName:       true,
	pb.AuthService_ValidateApiKey_FullMethodName:      true,
	pb.AuthService_SendOtp_FullMethodName:             true,
	pb.AuthService_VerifyOtp_FullMethodName:           true,
	pb.AuthService_InitiateOauth_FullMethodName:       true,
	pb.AuthService_HandleOauthCallback_FullMethodName: true,
}

// AuthServer bridges the wire surface to the auth engine.
type AuthServer struct {
	sessions *auth.Service
	keys     *auth.APIKeyService
	otp      *auth.OTPService
	oauth    *auth.OAuthService
}

var _ pb.AuthServiceServer = (*AuthServer)(nil)

func NewAuthServer(sessions *auth.Service, keys *auth.APIKeyService, otp *auth.OTPService, oauth *auth.OAuthService) *AuthServer {
	return &AuthServer{sessions: sessions, keys: keys, otp: otp, oauth: oauth}
}

func sessionResponse(sess *auth.Session) *pb.SessionResponse {
	resp := &pb.SessionResponse{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    int32(sess.ExpiresIn),
	}
	if sess.User != nil {
		resp.UserId = sess.User.ID
		resp.TenantId = sess.User.TenantID
		resp.Email = sess.User.Email
		resp.Roles = sess.User.Roles
	}
	return resp
}

// bearerFromMetadata pulls the raw access token off the authorization header,
// if any. Logout uses it to revoke the live access token alongside the
// refresh token.
func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	const prefix = "bearer "
	if len(vals[0]) > len(prefix) && strings.EqualFold(vals[0][:len(prefix)], prefix) {
		return vals[0][len(prefix):]
	}
	return ""
}

func caller(ctx context.Context) (*tenant.Context, error) {
	tc, ok := tenant.FromContext(ctx)
	if !ok || !tc.Validated {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return tc, nil
}

func (s *AuthServer) Login(ctx context.Context, req *pb.LoginRequest) (*pb.SessionResponse, error) {
	sess, err := s.sessions.Login(ctx, req.Email, req.Password, req.TotpCode, false)
	if err != nil {
		return nil, err
	}
	return sessionResponse(sess), nil
}

func (s *AuthServer) Logout(ctx context.Context, req *pb.LogoutRequest) (*pb.LogoutResponse, error) {
	if err := s.sessions.Logout(ctx, req.RefreshToken, bearerFromMetadata(ctx)); err != nil {
		return nil, err
	}
	return &pb.LogoutResponse{}, nil
}

func (s *AuthServer) RefreshToken(ctx context.Context, req *pb.RefreshRequest) (*pb.SessionResponse, error) {
	sess, err := s.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return sessionResponse(sess), nil
}

func (s *AuthServer) ValidateToken(ctx context.Context, req *pb.ValidateTokenRequest) (*pb.ValidateTokenResponse, error) {
	claims, err := s.sessions.ValidateToken(ctx, req.AccessToken)
	if err != nil {
		return nil, err
	}
	resp := &pb.ValidateTokenResponse{
		UserId:   claims.Subject,
		TenantId: claims.TenantID,
		Email:    claims.Email,
		Roles:    claims.Roles,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = timestamppb.New(claims.ExpiresAt.Time)
	}
	return resp, nil
}

func (s *AuthServer) CreateApiKey(ctx context.Context, req *pb.CreateApiKeyRequest) (*pb.CreateApiKeyResponse, error) {
	tc, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	plaintext, key, err := s.keys.Create(ctx, tc, req.Name, req.Scopes)
	if err != nil {
		return nil, err
	}
	return &pb.CreateApiKeyResponse{
		ApiKey:    plaintext,
		KeyId:     key.ID,
		ExpiresAt: timestamppb.New(key.ExpiresAt),
	}, nil
}

func (s *AuthServer) ValidateApiKey(ctx context.Context, req *pb.ValidateApiKeyRequest) (*pb.ValidateApiKeyResponse, error) {
	key, err := s.keys.Validate(ctx, req.ApiKey, req.RequestedScope)
	if err != nil {
		return nil, err
	}
	return &pb.ValidateApiKeyResponse{
		KeyId:    key.ID,
		TenantId: key.TenantID,
		UserId:   key.UserID,
		Scopes:   key.Scopes,
	}, nil
}

func (s *AuthServer) RevokeApiKey(ctx context.Context, req *pb.RevokeApiKeyRequest) (*pb.RevokeApiKeyResponse, error) {
	tc, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Revoke(ctx, tc, req.KeyId); err != nil {
		return nil, err
	}
	return &pb.RevokeApiKeyResponse{}, nil
}

func (s *AuthServer) EnrollTotp(ctx context.Context, _ *pb.EnrollTotpRequest) (*pb.EnrollTotpResponse, error) {
	tc, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	enr, err := s.sessions.EnrollTOTP(ctx, tc)
	if err != nil {
		return nil, err
	}
	return &pb.EnrollTotpResponse{
		Secret:          enr.Secret,
		ProvisioningUri: enr.ProvisioningURI,
		BackupCodes:     enr.BackupCodes,
	}, nil
}

func (s *AuthServer) VerifyTotp(ctx context.Context, req *pb.VerifyTotpRequest) (*pb.VerifyTotpResponse, error) {
	tc, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	valid, err := s.sessions.VerifyTOTP(ctx, tc, req.Code)
	if err != nil {
		return nil, err
	}
	return &pb.VerifyTotpResponse{Valid: valid}, nil
}

func (s *AuthServer) DisableTotp(ctx context.Context, req *pb.DisableTotpRequest) (*pb.DisableTotpResponse, error) {
	tc, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.DisableTOTP(ctx, tc, req.Password); err != nil {
		return nil, err
	}
	return &pb.DisableTotpResponse{}, nil
}

func (s *AuthServer) GenerateBackupCodes(ctx context.Context, req *pb.GenerateBackupCodesRequest) (*pb.GenerateBackupCodesResponse, error) {
	tc, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	backup, err := s.sessions.RegenerateBackupCodes(ctx, tc, req.Password)
	if err != nil {
		return nil, err
	}
	return &pb.GenerateBackupCodesResponse{BackupCodes: backup}, nil
}

func (s *AuthServer) SendOtp(ctx context.Context, req *pb.SendOtpRequest) (*pb.SendOtpResponse, error) {
	sent, expires, err := s.otp.Send(ctx, req.Email, req.Purpose)
	if err != nil {
		return nil, err
	}
	resp := &pb.SendOtpResponse{Sent: sent}
	if sent {
		resp.ExpiresAt = timestamppb.New(expires)
	}
	return resp, nil
}

func (s *AuthServer) VerifyOtp(ctx context.Context, req *pb.VerifyOtpRequest) (*pb.VerifyOtpResponse, error) {
	valid, err := s.otp.Verify(ctx, req.Email, req.Code, req.Purpose)
	if err != nil {
		return nil, err
	}
	return &pb.VerifyOtpResponse{Valid: valid}, nil
}

func (s *AuthServer) InitiateOauth(ctx context.Context, req *pb.InitiateOauthRequest) (*pb.InitiateOauthResponse, error) {
	authURL, state, err := s.oauth.Initiate(ctx, req.Provider, req.RedirectUri)
	if err != nil {
		return nil, err
	}
	return &pb.InitiateOauthResponse{AuthorizationUrl: authURL, State: state}, nil
}

func (s *AuthServer) HandleOauthCallback(ctx context.Context, req *pb.OauthCallbackRequest) (*pb.OauthCallbackResponse, error) {
	sess, isNew, err := s.oauth.HandleCallback(ctx, req.Provider, req.State, req.Code, req.RedirectUri)
	if err != nil {
		return nil, err
	}
	return &pb.OauthCallbackResponse{Session: sessionResponse(sess), NewAccount: isNew}, nil
}
