package notify

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/mailer"
	"github.com/saasforge/backend/internal/tenant"
	"github.com/saasforge/backend/internal/webhook"
	"github.com/saasforge/backend/pb"
)

type fakeEmails struct {
	queued     []*mailer.Email
	byID       map[string]*mailer.Email
	bounceRate float64
	lastTenant string
	lastHours  int
}

func (f *fakeEmails) Enqueue(_ context.Context, e *mailer.Email) (string, error) {
	if e.Priority < 0 || e.Priority > 10 {
		return "", mailer.ErrBadPriority
	}
	if e.To == "blocked@x.io" {
		return "", mailer.ErrSuppressed
	}
	e.ID = "em-1"
	e.Status = mailer.StatusPending
	f.queued = append(f.queued, e)
	return e.ID, nil
}

func (f *fakeEmails) GetEmail(_ context.Context, tenantID, id string) (*mailer.Email, error) {
	e, ok := f.byID[tenantID+"|"+id]
	if !ok {
		return nil, mailer.ErrEmailNotFound
	}
	return e, nil
}

func (f *fakeEmails) GetBounceRate(_ context.Context, tenantID string, hours int) (float64, error) {
	f.lastTenant = tenantID
	f.lastHours = hours
	return f.bounceRate, nil
}

type fakeDeliveries struct {
	queued []string
	byID   map[string]*webhook.Delivery
}

func (f *fakeDeliveries) Queue(_ context.Context, tenantID, webhookID, eventType, payload string) (string, error) {
	if webhookID == "missing" {
		return "", webhook.ErrWebhookNotFound
	}
	if webhookID == "tripped" {
		return "", webhook.ErrWebhookDisabled
	}
	if webhookID == "vetoed" {
		return "", fmt.Errorf("%w: host %q is loopback", webhook.ErrUnsafeURL, "localhost")
	}
	f.queued = append(f.queued, webhookID+"|"+eventType)
	return "d-1", nil
}

func (f *fakeDeliveries) GetDelivery(_ context.Context, tenantID, id string) (*webhook.Delivery, error) {
	d, ok := f.byID[tenantID+"|"+id]
	if !ok {
		return nil, webhook.ErrDeliveryNotFound
	}
	return d, nil
}

type fakeRegistry struct{}

func (fakeRegistry) Register(_ context.Context, tenantID, rawURL string, eventTypes []string, idempotencyKey string) (*webhook.Webhook, error) {
	if err := webhook.SafeURL(rawURL); err != nil {
		return nil, err
	}
	if idempotencyKey == "seen" {
		return nil, webhook.ErrDuplicateRegistration
	}
	return &webhook.Webhook{ID: "wh-1", TenantID: tenantID, URL: rawURL, Secret: "whsec_test"}, nil
}

type fakePrefs struct {
	disabled      map[string]bool // userID|channel
	subscriptions []*Subscription
	notifications []*Notification
}

func (f *fakePrefs) ChannelEnabled(_ context.Context, userID, channel string) (bool, error) {
	return !f.disabled[userID+"|"+channel], nil
}

func (f *fakePrefs) SetPreference(_ context.Context, _, userID, channel string, enabled bool) error {
	if f.disabled == nil {
		f.disabled = map[string]bool{}
	}
	f.disabled[userID+"|"+channel] = !enabled
	return nil
}

func (f *fakePrefs) CreateSubscription(_ context.Context, sub *Subscription) error {
	for _, s := range f.subscriptions {
		if s.TenantID == sub.TenantID && s.UserID == sub.UserID &&
			s.EventType == sub.EventType && s.Channel == sub.Channel {
			return ErrDuplicateSubscription
		}
	}
	f.subscriptions = append(f.subscriptions, sub)
	return nil
}

func (f *fakePrefs) RecordNotification(_ context.Context, n *Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

func testCache(t *testing.T) *cache.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewFromRedis(rdb)
}

func callerCtx(roles ...string) context.Context {
	return tenant.NewContext(context.Background(), &tenant.Context{
		TenantID: "acme", UserID: "u-1", Roles: roles, Validated: true,
	})
}

func newTestService(t *testing.T) (*Service, *fakeEmails, *fakeDeliveries, *fakePrefs) {
	t.Helper()
	emails := &fakeEmails{byID: map[string]*mailer.Email{}}
	deliveries := &fakeDeliveries{byID: map[string]*webhook.Delivery{}}
	prefs := &fakePrefs{}
	svc := NewService(emails, deliveries, fakeRegistry{}, prefs, testCache(t))
	return svc, emails, deliveries, prefs
}

func TestSendEmailQueuesAndAudits(t *testing.T) {
	svc, emails, _, prefs := newTestService(t)

	resp, err := svc.SendEmail(callerCtx(), &pb.SendEmailRequest{
		UserId: "u-2", ToAddress: "to@x.io", Subject: "hi", TextBody: "body", Priority: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "em-1", resp.EmailId)
	assert.Equal(t, mailer.StatusPending, resp.Status)
	require.Len(t, emails.queued, 1)
	assert.Equal(t, "acme", emails.queued[0].TenantID, "tenant comes from the caller, not the request")
	require.Len(t, prefs.notifications, 1)
	assert.Equal(t, "email", prefs.notifications[0].Channel)
}

func TestSendEmailHonorsPreferences(t *testing.T) {
	svc, emails, _, prefs := newTestService(t)
	prefs.disabled = map[string]bool{"u-2|email": true}

	_, err := svc.SendEmail(callerCtx(), &pb.SendEmailRequest{
		UserId: "u-2", ToAddress: "to@x.io", Subject: "hi",
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Empty(t, emails.queued)
}

func TestSendEmailErrorMapping(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.SendEmail(callerCtx(), &pb.SendEmailRequest{ToAddress: "to@x.io", Subject: "s", Priority: 99})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.SendEmail(callerCtx(), &pb.SendEmailRequest{ToAddress: "blocked@x.io", Subject: "s"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = svc.SendEmail(callerCtx(), &pb.SendEmailRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.SendEmail(context.Background(), &pb.SendEmailRequest{ToAddress: "to@x.io", Subject: "s"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "no tenant context")
}

func TestGetEmailStatus(t *testing.T) {
	svc, emails, _, _ := newTestService(t)
	emails.byID["acme|em-9"] = &mailer.Email{ID: "em-9", Status: mailer.StatusRetry, RetryCount: 2, LastError: "451"}

	resp, err := svc.GetEmailStatus(callerCtx(), &pb.GetEmailStatusRequest{EmailId: "em-9"})
	require.NoError(t, err)
	assert.Equal(t, mailer.StatusRetry, resp.Status)
	assert.Equal(t, int32(2), resp.RetryCount)

	_, err = svc.GetEmailStatus(callerCtx(), &pb.GetEmailStatusRequest{EmailId: "foreign"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGetBounceRateScoping(t *testing.T) {
	svc, emails, _, _ := newTestService(t)
	emails.bounceRate = 3.5

	resp, err := svc.GetBounceRate(callerCtx(), &pb.GetBounceRateRequest{Hours: 48})
	require.NoError(t, err)
	assert.Equal(t, 3.5, resp.BounceRatePercent)
	assert.Equal(t, "acme", emails.lastTenant)
	assert.Equal(t, 48, emails.lastHours)

	// A non-admin asking for the global view still gets their own tenant.
	_, err = svc.GetBounceRate(callerCtx(), &pb.GetBounceRateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "acme", emails.lastTenant)
	assert.Equal(t, 24, emails.lastHours, "hours defaults to 24")

	_, err = svc.GetBounceRate(callerCtx("admin"), &pb.GetBounceRateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "", emails.lastTenant, "admins can query across tenants")

	// Naming a foreign tenant needs the admin role.
	_, err = svc.GetBounceRate(callerCtx(), &pb.GetBounceRateRequest{TenantId: "rival"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	_, err = svc.GetBounceRate(callerCtx("admin"), &pb.GetBounceRateRequest{TenantId: "rival"})
	require.NoError(t, err)
	assert.Equal(t, "rival", emails.lastTenant)
}

func TestRegisterWebhook(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	resp, err := svc.RegisterWebhook(callerCtx(), &pb.RegisterWebhookRequest{
		Url: "https://hooks.example.com/in", EventTypes: []string{"user.created"},
	})
	require.NoError(t, err)
	assert.Equal(t, "wh-1", resp.WebhookId)
	assert.Equal(t, "whsec_test", resp.Secret)

	_, err = svc.RegisterWebhook(callerCtx(), &pb.RegisterWebhookRequest{
		Url: "http://169.254.169.254/latest/meta-data", EventTypes: []string{"user.created"},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.RegisterWebhook(callerCtx(), &pb.RegisterWebhookRequest{
		Url: "https://hooks.example.com/in", EventTypes: []string{"user.created"}, IdempotencyKey: "seen",
	})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = svc.RegisterWebhook(callerCtx(), &pb.RegisterWebhookRequest{Url: "https://hooks.example.com/in"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "event types are required")
}

func TestTriggerWebhook(t *testing.T) {
	svc, _, deliveries, _ := newTestService(t)

	resp, err := svc.TriggerWebhook(callerCtx(), &pb.TriggerWebhookRequest{
		WebhookId: "wh-1", EventType: "user.created", Payload: []byte(`{"id":"u-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "d-1", resp.DeliveryId)
	assert.Equal(t, webhook.StatusPending, resp.Status)
	assert.Len(t, deliveries.queued, 1)

	_, err = svc.TriggerWebhook(callerCtx(), &pb.TriggerWebhookRequest{WebhookId: "missing", EventType: "x"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = svc.TriggerWebhook(callerCtx(), &pb.TriggerWebhookRequest{WebhookId: "tripped", EventType: "x"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	// A target that no longer passes vetting is the caller's bad input, the
	// same status the registration path hands back.
	_, err = svc.TriggerWebhook(callerCtx(), &pb.TriggerWebhookRequest{WebhookId: "vetoed", EventType: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetDeliveryStatus(t *testing.T) {
	svc, _, deliveries, _ := newTestService(t)
	deliveries.byID["acme|d-9"] = &webhook.Delivery{ID: "d-9", Status: webhook.StatusRetry, RetryCount: 3, LastStatus: 503}

	resp, err := svc.GetDeliveryStatus(callerCtx(), &pb.GetDeliveryStatusRequest{DeliveryId: "d-9"})
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusRetry, resp.Status)
	assert.Equal(t, int32(503), resp.LastStatusCode)
	assert.NotNil(t, resp.NextAttemptAt, "retrying deliveries expose the next attempt")

	_, err = svc.GetDeliveryStatus(callerCtx(), &pb.GetDeliveryStatusRequest{DeliveryId: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestCreateSubscriptionIdempotency(t *testing.T) {
	svc, _, _, prefs := newTestService(t)

	resp, err := svc.CreateSubscription(callerCtx(), &pb.CreateSubscriptionRequest{
		EventType: "invoice.paid", Channel: "email", IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SubscriptionId)
	assert.Len(t, prefs.subscriptions, 1)
	assert.Equal(t, "u-1", prefs.subscriptions[0].UserID, "defaults to the caller")

	// Replay within the window.
	_, err = svc.CreateSubscription(callerCtx(), &pb.CreateSubscriptionRequest{
		EventType: "invoice.paid", Channel: "email", IdempotencyKey: "k-1",
	})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	assert.Len(t, prefs.subscriptions, 1)

	// Same binding without a key hits the unique constraint instead.
	_, err = svc.CreateSubscription(callerCtx(), &pb.CreateSubscriptionRequest{
		EventType: "invoice.paid", Channel: "email",
	})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestSetNotificationPreferenceRoundTrip(t *testing.T) {
	svc, emails, _, _ := newTestService(t)
	ctx := callerCtx()

	_, err := svc.SetNotificationPreference(ctx, &pb.SetNotificationPreferenceRequest{
		UserId: "u-2", Channel: "email", Enabled: false,
	})
	require.NoError(t, err)

	_, err = svc.SendEmail(ctx, &pb.SendEmailRequest{UserId: "u-2", ToAddress: "to@x.io", Subject: "hi"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Empty(t, emails.queued)

	_, err = svc.SetNotificationPreference(ctx, &pb.SetNotificationPreferenceRequest{
		UserId: "u-2", Channel: "email", Enabled: true,
	})
	require.NoError(t, err)
	_, err = svc.SendEmail(ctx, &pb.SendEmailRequest{UserId: "u-2", ToAddress: "to@x.io", Subject: "hi"})
	require.NoError(t, err)
}
