package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/mailer"
	"github.com/saasforge/backend/internal/tenant"
	"github.com/saasforge/backend/internal/webhook"
	"github.com/saasforge/backend/pb"
)

// emailQueue is the slice of mailer.Store the façade needs.
type emailQueue interface {
	Enqueue(ctx context.Context, e *mailer.Email) (string, error)
	GetEmail(ctx context.Context, tenantID, id string) (*mailer.Email, error)
	GetBounceRate(ctx context.Context, tenantID string, hours int) (float64, error)
}

// deliveryQueue is the slice of webhook.Store the façade needs.
type deliveryQueue interface {
	Queue(ctx context.Context, tenantID, webhookID, eventType, payload string) (string, error)
	GetDelivery(ctx context.Context, tenantID, id string) (*webhook.Delivery, error)
}

// registrar vets and persists webhook registrations.
type registrar interface {
	Register(ctx context.Context, tenantID, rawURL string, eventTypes []string, idempotencyKey string) (*webhook.Webhook, error)
}

// prefStore is the slice of Store the façade needs.
type prefStore interface {
	ChannelEnabled(ctx context.Context, userID, channel string) (bool, error)
	SetPreference(ctx context.Context, tenantID, userID, channel string, enabled bool) error
	CreateSubscription(ctx context.Context, sub *Subscription) error
	RecordNotification(ctx context.Context, n *Notification) error
}

// Service is the notification façade: it fronts the email queue and the
// webhook delivery engine behind one tenant-scoped RPC surface.
type Service struct {
	emails   emailQueue
	webhooks deliveryQueue
	registry registrar
	prefs    prefStore
	cache    *cache.Client
	logger   *slog.Logger
}

func NewService(emails emailQueue, webhooks deliveryQueue, registry registrar, prefs prefStore, c *cache.Client) *Service {
	return &Service{
		emails:   emails,
		webhooks: webhooks,
		registry: registry,
		prefs:    prefs,
		cache:    c,
		logger:   slog.With("component", "notify"),
	}
}

var _ pb.NotificationServiceServer = (*Service)(nil)

func callerTenant(ctx context.Context) (*tenant.Context, error) {
	tc, ok := tenant.FromContext(ctx)
	if !ok || !tc.Validated {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return tc, nil
}

// SendEmail enqueues an email for the calling tenant after checking the
// recipient's channel preference.
func (s *Service) SendEmail(ctx context.Context, req *pb.SendEmailRequest) (*pb.SendEmailResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	if req.ToAddress == "" || req.Subject == "" {
		return nil, status.Error(codes.InvalidArgument, "to_address and subject are required")
	}

	if req.UserId != "" {
		enabled, err := s.prefs.ChannelEnabled(ctx, req.UserId, "email")
		if err != nil {
			return nil, status.Error(codes.Internal, "could not load preferences")
		}
		if !enabled {
			return nil, status.Error(codes.PermissionDenied, "recipient has disabled email notifications")
		}
	}

	e := &mailer.Email{
		TenantID:   tc.TenantID,
		To:         req.ToAddress,
		Subject:    req.Subject,
		HTMLBody:   req.HtmlBody,
		TextBody:   req.TextBody,
		TemplateID: req.TemplateId,
		Priority:   int(req.Priority),
	}
	if req.UserId != "" {
		e.UserID = &req.UserId
	}
	id, err := s.emails.Enqueue(ctx, e)
	switch {
	case errors.Is(err, mailer.ErrBadPriority):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, mailer.ErrSuppressed):
		return nil, status.Error(codes.FailedPrecondition, "recipient address is suppressed")
	case err != nil:
		return nil, status.Error(codes.Internal, "could not enqueue email")
	}

	if req.UserId != "" {
		n := &Notification{
			ID:       uuid.NewString(),
			TenantID: tc.TenantID,
			UserID:   req.UserId,
			Channel:  "email",
			Subject:  req.Subject,
			Body:     req.TextBody,
		}
		if err := s.prefs.RecordNotification(ctx, n); err != nil {
			// The email is already queued; the audit row is best effort.
			s.logger.Error("notification audit failed", "email_id", id, "error", err)
		}
	}
	return &pb.SendEmailResponse{EmailId: id, Status: mailer.StatusPending}, nil
}

func (s *Service) GetEmailStatus(ctx context.Context, req *pb.GetEmailStatusRequest) (*pb.GetEmailStatusResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.emails.GetEmail(ctx, tc.TenantID, req.EmailId)
	if errors.Is(err, mailer.ErrEmailNotFound) {
		return nil, status.Error(codes.NotFound, "email not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, "could not load email")
	}
	resp := &pb.GetEmailStatusResponse{
		EmailId:    e.ID,
		Status:     e.Status,
		RetryCount: int32(e.RetryCount),
		BounceType: e.BounceType,
		LastError:  e.LastError,
	}
	if e.SentAt != nil {
		resp.SentAt = timestamppb.New(*e.SentAt)
	}
	return resp, nil
}

// GetBounceRate reports the percentage of bounced sends in the window. An
// empty tenant_id widens the query across tenants and requires the admin
// role.
func (s *Service) GetBounceRate(ctx context.Context, req *pb.GetBounceRateRequest) (*pb.GetBounceRateResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	hours := int(req.Hours)
	if hours <= 0 {
		hours = 24
	}
	tenantID := tc.TenantID
	switch {
	case req.TenantId == "" && hasRole(tc, "admin"):
		tenantID = "" // platform-wide
	case req.TenantId != "" && req.TenantId != tc.TenantID:
		if !hasRole(tc, "admin") {
			return nil, status.Error(codes.PermissionDenied, "cannot query another tenant")
		}
		tenantID = req.TenantId
	}
	rate, err := s.emails.GetBounceRate(ctx, tenantID, hours)
	if err != nil {
		return nil, status.Error(codes.Internal, "could not compute bounce rate")
	}
	return &pb.GetBounceRateResponse{BounceRatePercent: rate}, nil
}

func (s *Service) RegisterWebhook(ctx context.Context, req *pb.RegisterWebhookRequest) (*pb.RegisterWebhookResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.EventTypes) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one event type is required")
	}
	w, err := s.registry.Register(ctx, tc.TenantID, req.Url, req.EventTypes, req.IdempotencyKey)
	switch {
	case errors.Is(err, webhook.ErrDuplicateRegistration):
		return nil, status.Error(codes.AlreadyExists, "registration already processed")
	case err != nil:
		// SafeURL rejections land here: the target is the caller's input.
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &pb.RegisterWebhookResponse{WebhookId: w.ID, Secret: w.Secret}, nil
}

func (s *Service) TriggerWebhook(ctx context.Context, req *pb.TriggerWebhookRequest) (*pb.TriggerWebhookResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	id, err := s.webhooks.Queue(ctx, tc.TenantID, req.WebhookId, req.EventType, string(req.Payload))
	switch {
	case errors.Is(err, webhook.ErrWebhookNotFound):
		return nil, status.Error(codes.NotFound, "webhook not found")
	case errors.Is(err, webhook.ErrWebhookDisabled):
		return nil, status.Error(codes.FailedPrecondition, "webhook is disabled")
	case errors.Is(err, webhook.ErrUnsafeURL):
		// The stored target no longer passes vetting. The registration is the
		// caller's input, so this is their error, same as at register time.
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, "could not queue delivery")
	}
	return &pb.TriggerWebhookResponse{DeliveryId: id, Status: webhook.StatusPending}, nil
}

func (s *Service) GetDeliveryStatus(ctx context.Context, req *pb.GetDeliveryStatusRequest) (*pb.GetDeliveryStatusResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.webhooks.GetDelivery(ctx, tc.TenantID, req.DeliveryId)
	if errors.Is(err, webhook.ErrDeliveryNotFound) {
		return nil, status.Error(codes.NotFound, "delivery not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, "could not load delivery")
	}
	resp := &pb.GetDeliveryStatusResponse{
		DeliveryId:     d.ID,
		Status:         d.Status,
		RetryCount:     int32(d.RetryCount),
		LastStatusCode: int32(d.LastStatus),
	}
	if d.Status == webhook.StatusRetry {
		resp.NextAttemptAt = timestamppb.New(d.ScheduledAt)
	}
	return resp, nil
}

// CreateSubscription binds the caller's user to an event type. The optional
// idempotency key makes retried creates return ALREADY_EXISTS instead of a
// second row.
func (s *Service) CreateSubscription(ctx context.Context, req *pb.CreateSubscriptionRequest) (*pb.CreateSubscriptionResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	if req.EventType == "" || req.Channel == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type and channel are required")
	}
	userID := req.UserId
	if userID == "" {
		userID = tc.UserID
	}

	if req.IdempotencyKey != "" && s.cache != nil {
		first, err := s.cache.RememberIdempotency(ctx, tc.TenantID, req.IdempotencyKey)
		if err != nil {
			s.logger.Error("idempotency check unavailable", "error", err)
		} else if !first {
			return nil, status.Error(codes.AlreadyExists, "subscription already processed")
		}
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		TenantID:  tc.TenantID,
		UserID:    userID,
		EventType: req.EventType,
		Channel:   req.Channel,
	}
	if err := s.prefs.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, ErrDuplicateSubscription) {
			return nil, status.Error(codes.AlreadyExists, "subscription already exists")
		}
		return nil, status.Error(codes.Internal, "could not create subscription")
	}
	return &pb.CreateSubscriptionResponse{SubscriptionId: sub.ID}, nil
}

func (s *Service) SetNotificationPreference(ctx context.Context, req *pb.SetNotificationPreferenceRequest) (*pb.SetNotificationPreferenceResponse, error) {
	tc, err := callerTenant(ctx)
	if err != nil {
		return nil, err
	}
	if req.Channel == "" {
		return nil, status.Error(codes.InvalidArgument, "channel is required")
	}
	userID := req.UserId
	if userID == "" {
		userID = tc.UserID
	}
	if err := s.prefs.SetPreference(ctx, tc.TenantID, userID, req.Channel, req.Enabled); err != nil {
		return nil, status.Error(codes.Internal, "could not store preference")
	}
	return &pb.SetNotificationPreferenceResponse{}, nil
}

func hasRole(tc *tenant.Context, role string) bool {
	for _, r := range tc.Roles {
		if r == role {
			return true
		}
	}
	return false
}
