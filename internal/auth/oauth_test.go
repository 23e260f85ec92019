package auth

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeOAuthUsers struct {
	*fakeUsers
	links map[string]*User // provider|puid -> user
}

func newFakeOAuthUsers(users *fakeUsers) *fakeOAuthUsers {
	return &fakeOAuthUsers{fakeUsers: users, links: map[string]*User{}}
}

func (f *fakeOAuthUsers) GetOAuthUser(_ context.Context, provider, providerUserID string) (*User, error) {
	u, ok := f.links[provider+"|"+providerUserID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeOAuthUsers) CreateOAuthUser(_ context.Context, u *User, provider, providerUserID string) error {
	f.add(u)
	f.links[provider+"|"+providerUserID] = u
	return nil
}

func newTestOAuth(t *testing.T) (*OAuthService, *fakeOAuthUsers) {
	t.Helper()
	sessions, users, c := newTestService(t)
	store := newFakeOAuthUsers(users)
	svc := NewOAuthService(store, c, sessions, MockExchanger{}, map[string]string{
		"google": "client-123",
	})
	return svc, store
}

func TestInitiateBuildsAuthorizationURL(t *testing.T) {
	svc, _ := newTestOAuth(t)

	authURL, state, err := svc.Initiate(context.Background(), "google", "https://app.example.com/cb")
	require.NoError(t, err)
	assert.Len(t, state, 64)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "https://accounts.google.com/o/oauth2/v2/auth?"))
	assert.Equal(t, "client-123", u.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/cb", u.Query().Get("redirect_uri"))
	assert.Equal(t, state, u.Query().Get("state"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
}

func TestInitiateUnknownProvider(t *testing.T) {
	svc, _ := newTestOAuth(t)
	_, _, err := svc.Initiate(context.Background(), "myspace", "https://app.example.com/cb")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCallbackCreatesAndReusesAccount(t *testing.T) {
	svc, store := newTestOAuth(t)
	ctx := context.Background()

	_, state, err := svc.Initiate(ctx, "google", "https://app.example.com/cb")
	require.NoError(t, err)

	sess, isNew, err := svc.HandleCallback(ctx, "google", state, "code-abc", "https://app.example.com/cb")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Nil(t, sess.User.PasswordHash, "OAuth accounts have no password")
	assert.Len(t, store.links, 1)

	// The same provider identity logs into the same account.
	_, state2, err := svc.Initiate(ctx, "google", "https://app.example.com/cb")
	require.NoError(t, err)
	sess2, isNew, err := svc.HandleCallback(ctx, "google", state2, "code-abc", "https://app.example.com/cb")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, sess.User.ID, sess2.User.ID)
	assert.Len(t, store.links, 1)
}

func TestCallbackStateChecks(t *testing.T) {
	svc, _ := newTestOAuth(t)
	ctx := context.Background()

	// Unknown state.
	_, _, err := svc.HandleCallback(ctx, "google", strings.Repeat("a", 64), "code", "https://app.example.com/cb")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// State bound to a different provider.
	_, state, err := svc.Initiate(ctx, "google", "https://app.example.com/cb")
	require.NoError(t, err)
	_, _, err = svc.HandleCallback(ctx, "github", state, "code", "https://app.example.com/cb")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// The state was consumed by the failed attempt; replay is rejected too.
	_, _, err = svc.HandleCallback(ctx, "google", state, "code", "https://app.example.com/cb")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	svc, _ := newTestOAuth(t)
	ctx := context.Background()

	_, state, err := svc.Initiate(ctx, "google", "https://app.example.com/cb")
	require.NoError(t, err)

	_, _, err = svc.HandleCallback(ctx, "google", state, "code", "https://app.example.com/cb")
	require.NoError(t, err)

	_, _, err = svc.HandleCallback(ctx, "google", state, "code", "https://app.example.com/cb")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
