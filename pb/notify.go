package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Notification messages

type SendEmailRequest struct {
	UserId     string `json:"user_id"`
	ToAddress  string `json:"to_address"`
	Subject    string `json:"subject"`
	HtmlBody   string `json:"html_body,omitempty"`
	TextBody   string `json:"text_body,omitempty"`
	TemplateId string `json:"template_id,omitempty"`
	Priority   int32  `json:"priority"`
}

type SendEmailResponse struct {
	EmailId string `json:"email_id"`
	Status  string `json:"status"`
}

type GetEmailStatusRequest struct {
	EmailId string `json:"email_id"`
}

type GetEmailStatusResponse struct {
	EmailId    string                 `json:"email_id"`
	Status     string                 `json:"status"`
	RetryCount int32                  `json:"retry_count"`
	BounceType string                 `json:"bounce_type,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	SentAt     *timestamppb.Timestamp `json:"sent_at,omitempty"`
}

type GetBounceRateRequest struct {
	// TenantId empty means across all tenants.
	TenantId string `json:"tenant_id,omitempty"`
	Hours    int32  `json:"hours"`
}

type GetBounceRateResponse struct {
	BounceRatePercent float64 `json:"bounce_rate_percent"`
}

type RegisterWebhookRequest struct {
	Url            string   `json:"url"`
	EventTypes     []string `json:"event_types"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

type RegisterWebhookResponse struct {
	WebhookId string `json:"webhook_id"`
	// Secret is the signing secret, returned exactly once.
	Secret string `json:"secret"`
}

type TriggerWebhookRequest struct {
	WebhookId string `json:"webhook_id"`
	EventType string `json:"event_type"`
	Payload   []byte `json:"payload"`
}

type TriggerWebhookResponse struct {
	DeliveryId string `json:"delivery_id"`
	Status     string `json:"status"`
}

type GetDeliveryStatusRequest struct {
	DeliveryId string `json:"delivery_id"`
}

type GetDeliveryStatusResponse struct {
	DeliveryId     string                 `json:"delivery_id"`
	Status         string                 `json:"status"`
	RetryCount     int32                  `json:"retry_count"`
	LastStatusCode int32                  `json:"last_status_code,omitempty"`
	NextAttemptAt  *timestamppb.Timestamp `json:"next_attempt_at,omitempty"`
}

type CreateSubscriptionRequest struct {
	UserId         string `json:"user_id"`
	EventType      string `json:"event_type"`
	Channel        string `json:"channel"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type CreateSubscriptionResponse struct {
	SubscriptionId string `json:"subscription_id"`
}

type SetNotificationPreferenceRequest struct {
	UserId  string `json:"user_id"`
	Channel string `json:"channel"`
	Enabled bool   `json:"enabled"`
}

type SetNotificationPreferenceResponse struct{}

// NotificationServiceServer is the server API for the notification service.
type NotificationServiceServer interface {
	SendEmail(context.Context, *SendEmailRequest) (*SendEmailResponse, error)
	GetEmailStatus(context.Context, *GetEmailStatusRequest) (*GetEmailStatusResponse, error)
	GetBounceRate(context.Context, *GetBounceRateRequest) (*GetBounceRateResponse, error)
	RegisterWebhook(context.Context, *RegisterWebhookRequest) (*RegisterWebhookResponse, error)
	TriggerWebhook(context.Context, *TriggerWebhookRequest) (*TriggerWebhookResponse, error)
	GetDeliveryStatus(context.Context, *GetDeliveryStatusRequest) (*GetDeliveryStatusResponse, error)
	CreateSubscription(context.Context, *CreateSubscriptionRequest) (*CreateSubscriptionResponse, error)
	SetNotificationPreference(context.Context, *SetNotificationPreferenceRequest) (*SetNotificationPreferenceResponse, error)
}

const (
	NotificationService_SendEmail_FullMethodName                 = "/saasforge.NotificationService/SendEmail"
	NotificationService_GetEmailStatus_FullMethodName            = "/saasforge.NotificationService/GetEmailStatus"
	NotificationService_GetBounceRate_FullMethodName             = "/saasforge.NotificationService/GetBounceRate"
	NotificationService_RegisterWebhook_FullMethodName           = "/saasforge.NotificationService/RegisterWebhook"
	NotificationService_TriggerWebhook_FullMethodName            = "/saasforge.NotificationService/TriggerWebhook"
	NotificationService_GetDeliveryStatus_FullMethodName         = "/saasforge.NotificationService/GetDeliveryStatus"
	NotificationService_CreateSubscription_FullMethodName        = "/saasforge.NotificationService/CreateSubscription"
	NotificationService_SetNotificationPreference_FullMethodName = "/saasforge.NotificationService/SetNotificationPreference"
)

func RegisterNotificationServiceServer(s grpc.ServiceRegistrar, srv NotificationServiceServer) {
	s.RegisterService(&NotificationService_ServiceDesc, srv)
}

func notifyUnary[Req any, Resp any](
	method string,
	call func(NotificationServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(NotificationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(NotificationServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// NotificationService_ServiceDesc is the grpc.ServiceDesc for the
// notification service.
var NotificationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "saasforge.NotificationService",
	HandlerType: (*NotificationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendEmail", Handler: notifyUnary(NotificationService_SendEmail_FullMethodName, NotificationServiceServer.SendEmail)},
		{MethodName: "GetEmailStatus", Handler: notifyUnary(NotificationService_GetEmailStatus_FullMethodName, NotificationServiceServer.GetEmailStatus)},
		{MethodName: "GetBounceRate", Handler: notifyUnary(NotificationService_GetBounceRate_FullMethodName, NotificationServiceServer.GetBounceRate)},
		{MethodName: "RegisterWebhook", Handler: notifyUnary(NotificationService_RegisterWebhook_FullMethodName, NotificationServiceServer.RegisterWebhook)},
		{MethodName: "TriggerWebhook", Handler: notifyUnary(NotificationService_TriggerWebhook_FullMethodName, NotificationServiceServer.TriggerWebhook)},
		{MethodName: "GetDeliveryStatus", Handler: notifyUnary(NotificationService_GetDeliveryStatus_FullMethodName, NotificationServiceServer.GetDeliveryStatus)},
		{MethodName: "CreateSubscription", Handler: notifyUnary(NotificationService_CreateSubscription_FullMethodName, NotificationServiceServer.CreateSubscription)},
		{MethodName: "SetNotificationPreference", Handler: notifyUnary(NotificationService_SetNotificationPreference_FullMethodName, NotificationServiceServer.SetNotificationPreference)},
	},
	Metadata: "saasforge/v1/notify.proto",
}
