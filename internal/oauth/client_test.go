package oauth

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"taskgate/internal/testing/mock"
	"taskgate/internal/upstream"
)

// instantTimer fires immediately so retry waits cost nothing.
type instantTimer struct {
	ch chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{ch: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(time.Duration) { t.ch <- time.Now() }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.ch }

func testUpstreamClient(httpClient *http.Client) *upstream.Client {
	opts := upstream.DefaultOptions()
	opts.Timer = newInstantTimer()
	return upstream.NewClient(httpClient, opts)
}

func testUpstreamConfig(idp *mock.OAuthServer) UpstreamConfig {
	return UpstreamConfig{
		Issuer:       idp.IssuerURL(),
		AuthorizeURL: idp.AuthorizeURL(),
		TokenURL:     idp.TokenURL(),
		ClientID:     "gw",
		Scopes:       []string{"openid", "tasks"},
		RedirectURL:  "http://gateway.test/oauth/callback",
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	cfg := UpstreamConfig{
		AuthorizeURL: "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
		ClientID:     "gw-client",
		Scopes:       []string{"openid", "profile"},
		RedirectURL:  "https://gw.example.com/oauth/callback",
	}
	verifier := "fixed-verifier-for-testing-0123456789-abcdefghijklmnop"

	raw := BuildAuthorizeURL(cfg, "state-123", AuthorizeOptions{Verifier: verifier})
	again := BuildAuthorizeURL(cfg, "state-123", AuthorizeOptions{Verifier: verifier})
	assert.Equal(t, raw, again, "authorize URL must be deterministic")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "gw-client", q.Get("client_id"))
	assert.Equal(t, "https://gw.example.com/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
}

func TestBuildAuthorizeURL_ScopeOverrideWithoutPKCE(t *testing.T) {
	cfg := UpstreamConfig{
		AuthorizeURL: "https://idp.example.com/authorize",
		ClientID:     "gw-client",
		Scopes:       []string{"openid"},
	}

	u, err := url.Parse(BuildAuthorizeURL(cfg, "s", AuthorizeOptions{Scopes: []string{"tasks:read"}}))
	require.NoError(t, err)
	assert.Equal(t, "tasks:read", u.Query().Get("scope"))
	assert.Empty(t, u.Query().Get("code_challenge"))
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"six minutes out", at(6 * time.Minute), false},
		{"three minutes out", at(3 * time.Minute), true},
		{"in the past", at(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isExpiredAt(tt.expiresAt, now); got != tt.want {
				t.Errorf("isExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}

	if IsExpired(nil) {
		t.Error("Expected nil expiry to never expire")
	}
	future := time.Now().Add(time.Hour)
	if (&Token{ExpiresAt: &future}).IsExpired() {
		t.Error("Expected token expiring in an hour to be valid")
	}
}

func TestExchange(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	cfg := testUpstreamConfig(idp)

	verifier := oauth2.GenerateVerifier()
	code := idp.GenerateAuthCode(cfg.RedirectURL, "openid", oauth2.S256ChallengeFromVerifier(verifier), "S256")

	token, err := Exchange(context.Background(), testUpstreamClient(idp.HTTPClient()), cfg, code, verifier)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken)
	require.NotNil(t, token.ExpiresAt)
	assert.False(t, token.IsExpired())
}

func TestExchange_RetriesRateLimit(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	cfg := testUpstreamConfig(idp)

	idp.QueueTokenResponse(http.StatusTooManyRequests, nil, `{"error":"slow_down"}`)
	code := idp.GenerateAuthCode(cfg.RedirectURL, "openid", "", "")

	token, err := Exchange(context.Background(), testUpstreamClient(idp.HTTPClient()), cfg, code, "")
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.Len(t, idp.TokenRequests(), 2)
}

func TestExchange_InvalidCode(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()

	_, err := Exchange(context.Background(), testUpstreamClient(idp.HTTPClient()), testUpstreamConfig(idp), "bogus", "")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeExchangeFailed))
	assert.True(t, upstream.IsKind(err, upstream.KindUnknown))
}

func TestRefresh(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	cfg := testUpstreamConfig(idp)
	client := testUpstreamClient(idp.HTTPClient())

	code := idp.GenerateAuthCode(cfg.RedirectURL, "openid", "", "")
	first, err := Exchange(context.Background(), client, cfg, code, "")
	require.NoError(t, err)

	refreshed, err := Refresh(context.Background(), client, cfg, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, refreshed.AccessToken)
}

func TestRefresh_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode ErrorCode
	}{
		{"non-2xx", http.StatusBadRequest, `{"error":"invalid_grant"}`, ErrCodeRefreshFailed},
		{"server error is not retried", http.StatusServiceUnavailable, `{}`, ErrCodeRefreshFailed},
		{"not json", http.StatusOK, `<html>`, ErrCodeInvalidResponse},
		{"missing access token", http.StatusOK, `{"token_type":"Bearer"}`, ErrCodeInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
			defer idp.Close()
			idp.QueueTokenResponse(tt.status, nil, tt.body)

			_, err := Refresh(context.Background(), testUpstreamClient(idp.HTTPClient()), testUpstreamConfig(idp), "rt")
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode), "got %v", err)
			assert.Len(t, idp.TokenRequests(), 1)
		})
	}
}

func TestRefresh_RequiresToken(t *testing.T) {
	_, err := Refresh(context.Background(), upstream.NewClient(nil, upstream.DefaultOptions()), UpstreamConfig{}, "")
	assert.True(t, IsCode(err, ErrCodeInvalidRequest))
}

func TestResolveEndpoints(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{})
	defer idp.Close()

	cfg, err := ResolveEndpoints(context.Background(), UpstreamConfig{Issuer: idp.IssuerURL()})
	require.NoError(t, err)
	assert.Equal(t, idp.AuthorizeURL(), cfg.AuthorizeURL)
	assert.Equal(t, idp.TokenURL(), cfg.TokenURL)
}

func TestResolveEndpoints_ExplicitURLsSkipDiscovery(t *testing.T) {
	in := UpstreamConfig{AuthorizeURL: "https://a/authorize", TokenURL: "https://a/token"}
	out, err := ResolveEndpoints(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ResolveEndpoints(context.Background(), UpstreamConfig{TokenURL: "https://a/token"})
	assert.Error(t, err)
}

func TestVerifyPKCE(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	assert.True(t, verifyPKCE(challenge, "S256", verifier))
	assert.False(t, verifyPKCE(challenge, "S256", "wrong"))
	assert.True(t, verifyPKCE("plain-value", "plain", "plain-value"))
	assert.True(t, verifyPKCE("plain-value", "", "plain-value"))
	assert.False(t, verifyPKCE(challenge, "S256", ""))
	assert.False(t, verifyPKCE(challenge, "S512", verifier))
}
