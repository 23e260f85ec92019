package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Auth messages

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TotpCode string `json:"totp_code,omitempty"`
}

type SessionResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int32    `json:"expires_in"`
	UserId       string   `json:"user_id"`
	TenantId     string   `json:"tenant_id"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutResponse struct{}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ValidateTokenRequest struct {
	AccessToken string `json:"access_token"`
}

type ValidateTokenResponse struct {
	UserId    string                 `json:"user_id"`
	TenantId  string                 `json:"tenant_id"`
	Email     string                 `json:"email"`
	Roles     []string               `json:"roles"`
	ExpiresAt *timestamppb.Timestamp `json:"expires_at"`
}

type CreateApiKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type CreateApiKeyResponse struct {
	// ApiKey is the plaintext key. It is returned exactly once; only its
	// hash is stored.
	ApiKey    string                 `json:"api_key"`
	KeyId     string                 `json:"key_id"`
	ExpiresAt *timestamppb.Timestamp `json:"expires_at"`
}

type ValidateApiKeyRequest struct {
	ApiKey         string `json:"api_key"`
	RequestedScope string `json:"requested_scope"`
}

type ValidateApiKeyResponse struct {
	KeyId    string   `json:"key_id"`
	TenantId string   `json:"tenant_id"`
	UserId   string   `json:"user_id"`
	Scopes   []string `json:"scopes"`
}

type RevokeApiKeyRequest struct {
	KeyId string `json:"key_id"`
}

type RevokeApiKeyResponse struct{}

type EnrollTotpRequest struct{}

type EnrollTotpResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningUri string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

type VerifyTotpRequest struct {
	Code string `json:"code"`
}

type VerifyTotpResponse struct {
	Valid bool `json:"valid"`
}

type DisableTotpRequest struct {
	Password string `json:"password"`
}

type DisableTotpResponse struct{}

type GenerateBackupCodesRequest struct {
	Password string `json:"password"`
}

type GenerateBackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type SendOtpRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type SendOtpResponse struct {
	Sent      bool                   `json:"sent"`
	ExpiresAt *timestamppb.Timestamp `json:"expires_at"`
}

type VerifyOtpRequest struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type VerifyOtpResponse struct {
	Valid bool `json:"valid"`
}

type InitiateOauthRequest struct {
	Provider    string `json:"provider"`
	RedirectUri string `json:"redirect_uri"`
}

type InitiateOauthResponse struct {
	AuthorizationUrl string `json:"authorization_url"`
	State            string `json:"state"`
}

type OauthCallbackRequest struct {
	Provider    string `json:"provider"`
	State       string `json:"state"`
	Code        string `json:"code"`
	RedirectUri string `json:"redirect_uri"`
}

type OauthCallbackResponse struct {
	Session    *SessionResponse `json:"session"`
	NewAccount bool             `json:"new_account"`
}

// AuthServiceServer is the server API for the auth service.
type AuthServiceServer interface {
	Login(context.Context, *LoginRequest) (*SessionResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	RefreshToken(context.Context, *RefreshRequest) (*SessionResponse, error)
	ValidateToken(context.Context, *ValidateTokenRequest) (*ValidateTokenResponse, error)
	CreateApiKey(context.Context, *CreateApiKeyRequest) (*CreateApiKeyResponse, error)
	ValidateApiKey(context.Context, *ValidateApiKeyRequest) (*ValidateApiKeyResponse, error)
	RevokeApiKey(context.Context, *RevokeApiKeyRequest) (*RevokeApiKeyResponse, error)
	EnrollTotp(context.Context, *EnrollTotpRequest) (*EnrollTotpResponse, error)
	VerifyTotp(context.Context, *VerifyTotpRequest) (*VerifyTotpResponse, error)
	DisableTotp(context.Context, *DisableTotpRequest) (*DisableTotpResponse, error)
	GenerateBackupCodes(context.Context, *GenerateBackupCodesRequest) (*GenerateBackupCodesResponse, error)
	SendOtp(context.Context, *SendOtpRequest) (*SendOtpResponse, error)
	VerifyOtp(context.Context, *VerifyOtpRequest) (*VerifyOtpResponse, error)
	InitiateOauth(context.Context, *InitiateOauthRequest) (*InitiateOauthResponse, error)
	HandleOauthCallback(context.Context, *OauthCallbackRequest) (*OauthCallbackResponse, error)
}

const (
	AuthService_Login_FullMethodName               = "/saasforge.AuthService/Login"
	AuthService_Logout_FullMethodName              = "/saasforge.AuthService/Logout"
	AuthService_RefreshToken_FullMethodName        = "/saasforge.AuthService/RefreshToken"
	AuthService_ValidateToken_FullMethodName       = "/saasforge.AuthService/ValidateToken"
	AuthService_CreateApiKey_FullMethodName        = "/saasforge.AuthService/CreateApiKey"
	AuthService_ValidateApiKey_FullMethodName      = "/saasforge.AuthService/ValidateApiKey"
	AuthService_RevokeApiKey_FullMethodName        = "/saasforge.AuthService/RevokeApiKey"
	AuthService_EnrollTotp_FullMethodName          = "/saasforge.AuthService/EnrollTotp"
	AuthService_VerifyTotp_FullMethodName          = "/saasforge.AuthService/VerifyTotp"
	AuthService_DisableTotp_FullMethodName         = "/saasforge.AuthService/DisableTotp"
	AuthService_GenerateBackupCodes_FullMethodName = "/saasforge.AuthService/GenerateBackupCodes"
	AuthService_SendOtp_FullMethodName             = "/saasforge.AuthService/SendOtp"
	AuthService_VerifyOtp_FullMethodName           = "/saasforge.AuthService/VerifyOtp"
	AuthService_InitiateOauth_FullMethodName       = "/saasforge.AuthService/InitiateOauth"
	AuthService_HandleOauthCallback_FullMethodName = "/saasforge.AuthService/HandleOauthCallback"
)

func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthService_ServiceDesc, srv)
}

func authUnary[Req any, Resp any](
	method string,
	call func(AuthServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthService_ServiceDesc is the grpc.ServiceDesc for the auth service.
var AuthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "saasforge.AuthService",
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: authUnary(AuthService_Login_FullMethodName, AuthServiceServer.Login)},
		{MethodName: "Logout", Handler: authUnary(AuthService_Logout_FullMethodName, AuthServiceServer.Logout)},
		{MethodName: "RefreshToken", Handler: authUnary(AuthService_RefreshToken_FullMethodName, AuthServiceServer.RefreshToken)},
		{MethodName: "ValidateToken", Handler: authUnary(AuthService_ValidateToken_FullMethodName, AuthServiceServer.ValidateToken)},
		{MethodName: "CreateApiKey", Handler: authUnary(AuthService_CreateApiKey_FullMethodName, AuthServiceServer.CreateApiKey)},
		{MethodName: "ValidateApiKey", Handler: authUnary(AuthService_ValidateApiKey_FullMethodName, AuthServiceServer.ValidateApiKey)},
		{MethodName: "RevokeApiKey", Handler: authUnary(AuthService_RevokeApiKey_FullMethodName, AuthServiceServer.RevokeApiKey)},
		{MethodName: "EnrollTotp", Handler: authUnary(AuthService_EnrollTotp_FullMethodName, AuthServiceServer.EnrollTotp)},
		{MethodName: "VerifyTotp", Handler: authUnary(AuthService_VerifyTotp_FullMethodName, AuthServiceServer.VerifyTotp)},
		{MethodName: "DisableTotp", Handler: authUnary(AuthService_DisableTotp_FullMethodName, AuthServiceServer.DisableTotp)},
		{MethodName: "GenerateBackupCodes", Handler: authUnary(AuthService_GenerateBackupCodes_FullMethodName, AuthServiceServer.GenerateBackupCodes)},
		{MethodName: "SendOtp", Handler: authUnary(AuthService_SendOtp_FullMethodName, AuthServiceServer.SendOtp)},
		{MethodName: "VerifyOtp", Handler: authUnary(AuthService_VerifyOtp_FullMethodName, AuthServiceServer.VerifyOtp)},
		{MethodName: "InitiateOauth", Handler: authUnary(AuthService_InitiateOauth_FullMethodName, AuthServiceServer.InitiateOauth)},
		{MethodName: "HandleOauthCallback", Handler: authUnary(AuthService_HandleOauthCallback_FullMethodName, AuthServiceServer.HandleOauthCallback)},
	},
	Metadata: "saasforge/v1/auth.proto",
}
