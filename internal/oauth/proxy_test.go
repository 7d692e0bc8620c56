package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"taskgate/internal/testing/mock"
)

const testClientRedirect = "http://client.test/cb"

// newTestProxy returns a Proxy with "client-1" registered for
// testClientRedirect.
func newTestProxy(t *testing.T, idp *mock.OAuthServer) *Proxy {
	t.Helper()
	clients, err := NewMemoryClientStore(10)
	require.NoError(t, err)
	require.NoError(t, clients.Save(context.Background(), ClientMetadata{
		ClientID:     "client-1",
		RedirectURIs: []string{testClientRedirect},
	}))

	p, err := NewProxy(ProxyConfig{
		Upstream: testUpstreamConfig(idp),
		Pending:  NewStateStore[PendingAuthorization]("pending", DefaultStateTTL, WithSweepInterval(0)),
		Grants:   NewStateStore[IssuedGrant]("grant", DefaultGrantTTL, WithSweepInterval(0)),
		Clients:  clients,
		Client:   testUpstreamClient(idp.HTTPClient()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// approve follows an upstream authorize URL against the mock provider and
// returns the code and state it redirects back with.
func approve(t *testing.T, authorizeURL string) (code, state string) {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(authorizeURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func clientAuthorizeRequest(verifier string) AuthorizeRequest {
	return AuthorizeRequest{
		ClientID:            "client-1",
		RedirectURI:         testClientRedirect,
		ResponseType:        "code",
		State:               "client-state",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	}
}

func TestNewProxy_Validation(t *testing.T) {
	_, err := NewProxy(ProxyConfig{})
	assert.Error(t, err)

	_, err = NewProxy(ProxyConfig{Upstream: UpstreamConfig{AuthorizeURL: "a", TokenURL: "b"}})
	assert.Error(t, err)

	_, err = NewProxy(ProxyConfig{Upstream: UpstreamConfig{AuthorizeURL: "a", TokenURL: "b", ClientID: "c"}})
	assert.Error(t, err)
}

func TestProxy_FullFlow(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)
	ctx := context.Background()

	clientVerifier := oauth2.GenerateVerifier()
	target, err := p.Authorize(ctx, clientAuthorizeRequest(clientVerifier))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, idp.AuthorizeURL()))

	code, state := approve(t, target)
	require.NotEmpty(t, code)

	result := p.HandleCallback(ctx, code, state, "", "")
	require.Empty(t, result.Error, result.ErrorDescription)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "client.test", redirect.Host)
	assert.Equal(t, "client-state", redirect.Query().Get("state"))
	gatewayCode := redirect.Query().Get("code")
	require.NotEmpty(t, gatewayCode)
	assert.NotEqual(t, code, gatewayCode)

	token, err := p.RedeemGrant(ctx, gatewayCode, "client-1", testClientRedirect, clientVerifier)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)

	// The gateway code is single use.
	_, err = p.RedeemGrant(ctx, gatewayCode, "client-1", testClientRedirect, clientVerifier)
	assert.True(t, IsCode(err, ErrCodeInvalidGrant))
}

func TestProxy_CallbackStateIsSingleUse(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)
	ctx := context.Background()

	target, err := p.Authorize(ctx, clientAuthorizeRequest(oauth2.GenerateVerifier()))
	require.NoError(t, err)
	code, state := approve(t, target)

	first := p.HandleCallback(ctx, code, state, "", "")
	require.Empty(t, first.Error)

	replay := p.HandleCallback(ctx, code, state, "", "")
	assert.Equal(t, string(ErrCodeInvalidState), replay.Error)
	assert.Equal(t, "Authentication session expired. Please try again.", replay.ErrorDescription)
	assert.Len(t, idp.TokenRequests(), 1)
}

func TestProxy_CallbackFailures(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)
	ctx := context.Background()

	t.Run("missing parameters", func(t *testing.T) {
		result := p.HandleCallback(ctx, "", "some-state", "", "")
		assert.Equal(t, string(ErrCodeInvalidRequest), result.Error)
		assert.Empty(t, result.RedirectURL)
	})

	t.Run("unknown state", func(t *testing.T) {
		result := p.HandleCallback(ctx, "code", "unknown", "", "")
		assert.Equal(t, string(ErrCodeInvalidState), result.Error)
	})

	t.Run("upstream error burns state", func(t *testing.T) {
		target, err := p.Authorize(ctx, clientAuthorizeRequest(oauth2.GenerateVerifier()))
		require.NoError(t, err)
		_, state := approve(t, target)

		result := p.HandleCallback(ctx, "", state, "access_denied", "User said no")
		assert.Equal(t, "access_denied", result.Error)
		assert.Equal(t, "User said no", result.ErrorDescription)

		again := p.HandleCallback(ctx, "code", state, "", "")
		assert.Equal(t, string(ErrCodeInvalidState), again.Error)
	})

	t.Run("exchange failure", func(t *testing.T) {
		target, err := p.Authorize(ctx, clientAuthorizeRequest(oauth2.GenerateVerifier()))
		require.NoError(t, err)
		_, state := approve(t, target)

		result := p.HandleCallback(ctx, "not-a-real-code", state, "", "")
		assert.Equal(t, string(ErrCodeExchangeFailed), result.Error)
		assert.Contains(t, result.ErrorDescription, "invalid authorization code")
	})
}

func TestProxy_RedeemGrantValidation(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)
	ctx := context.Background()

	issue := func(t *testing.T, verifier string) string {
		target, err := p.Authorize(ctx, clientAuthorizeRequest(verifier))
		require.NoError(t, err)
		code, state := approve(t, target)
		result := p.HandleCallback(ctx, code, state, "", "")
		require.Empty(t, result.Error)
		redirect, _ := url.Parse(result.RedirectURL)
		return redirect.Query().Get("code")
	}

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		verifier    func(good string) string
	}{
		{"wrong client", "client-2", testClientRedirect, func(good string) string { return good }},
		{"wrong redirect", "client-1", "http://evil.test/cb", func(good string) string { return good }},
		{"wrong verifier", "client-1", testClientRedirect, func(string) string { return "nope" }},
		{"missing verifier", "client-1", testClientRedirect, func(string) string { return "" }},
		{"missing client", "", testClientRedirect, func(good string) string { return good }},
		{"missing redirect", "client-1", "", func(good string) string { return good }},
		{"bare code", "", "", func(string) string { return "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := oauth2.GenerateVerifier()
			code := issue(t, verifier)
			_, err := p.RedeemGrant(ctx, code, tt.clientID, tt.redirectURI, tt.verifier(verifier))
			assert.True(t, IsCode(err, ErrCodeInvalidGrant), "got %v", err)
		})
	}

	_, err := p.RedeemGrant(ctx, "", "client-1", testClientRedirect, "")
	assert.True(t, IsCode(err, ErrCodeInvalidRequest))
}

func TestProxy_AuthorizeValidation(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)

	base := clientAuthorizeRequest(oauth2.GenerateVerifier())
	tests := []struct {
		name   string
		mutate func(r *AuthorizeRequest)
	}{
		{"missing client", func(r *AuthorizeRequest) { r.ClientID = "" }},
		{"token response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }},
		{"relative redirect", func(r *AuthorizeRequest) { r.RedirectURI = "/cb" }},
		{"fragment redirect", func(r *AuthorizeRequest) { r.RedirectURI = "http://client.test/cb#frag" }},
		{"unknown challenge method", func(r *AuthorizeRequest) { r.CodeChallengeMethod = "S512" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := p.Authorize(context.Background(), req)
			assert.True(t, IsCode(err, ErrCodeInvalidRequest), "got %v", err)
		})
	}
}

func TestProxy_AuthorizeRequiresRegisteredClient(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)
	ctx := context.Background()

	unknown := clientAuthorizeRequest(oauth2.GenerateVerifier())
	unknown.ClientID = "never-registered"
	unknown.RedirectURI = "https://attacker.example/steal"
	_, err := p.Authorize(ctx, unknown)
	assert.True(t, IsCode(err, ErrCodeInvalidClient), "got %v", err)

	foreignRedirect := clientAuthorizeRequest(oauth2.GenerateVerifier())
	foreignRedirect.RedirectURI = "https://attacker.example/steal"
	_, err = p.Authorize(ctx, foreignRedirect)
	assert.True(t, IsCode(err, ErrCodeInvalidRequest), "got %v", err)
	assert.Contains(t, err.Error(), "redirect_uri is not registered")
}

func TestProxy_RegisteredClientCanAuthorize(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)
	ctx := context.Background()

	client, err := p.Register(ctx, ClientMetadata{
		ClientName:   "inspector",
		RedirectURIs: []string{"http://localhost:6274/callback", "http://localhost:6274/alt"},
	})
	require.NoError(t, err)

	req := clientAuthorizeRequest(oauth2.GenerateVerifier())
	req.ClientID = client.ClientID
	req.RedirectURI = "http://localhost:6274/alt"
	target, err := p.Authorize(ctx, req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, idp.AuthorizeURL()))

	// Registrations are per client.
	req.ClientID = "client-1"
	_, err = p.Authorize(ctx, req)
	assert.True(t, IsCode(err, ErrCodeInvalidRequest), "got %v", err)
}

func TestProxy_Register(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)

	resp, err := p.Register(context.Background(), ClientMetadata{
		ClientName:   "inspector",
		RedirectURIs: []string{"http://localhost:6274/callback"},
	})
	require.NoError(t, err)
	assert.Len(t, resp.ClientID, 36)
	assert.Equal(t, "none", resp.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, resp.GrantTypes)
	assert.Equal(t, []string{"code"}, resp.ResponseTypes)
	assert.NotZero(t, resp.ClientIDIssuedAt)

	_, err = p.Register(context.Background(), ClientMetadata{})
	assert.True(t, IsCode(err, ErrCodeInvalidRequest))
}

func TestProxy_Metadata(t *testing.T) {
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
	defer idp.Close()
	p := newTestProxy(t, idp)

	as := p.AuthorizationServerMetadata("https://gw.example.com/")
	assert.Equal(t, "https://gw.example.com", as.Issuer)
	assert.Equal(t, "https://gw.example.com/authorize", as.AuthorizationEndpoint)
	assert.Equal(t, "https://gw.example.com/token", as.TokenEndpoint)
	assert.Equal(t, "https://gw.example.com/register", as.RegistrationEndpoint)
	assert.Contains(t, as.CodeChallengeMethodsSupported, "S256")

	pr := p.ProtectedResourceMetadata("https://gw.example.com")
	assert.Equal(t, "https://gw.example.com/mcp", pr.Resource)
	assert.Equal(t, []string{"https://gw.example.com"}, pr.AuthorizationServers)
}

func TestAppendQuery(t *testing.T) {
	got, err := appendQuery("http://client.test/cb?keep=1", url.Values{"code": {"abc"}, "state": {""}})
	require.NoError(t, err)

	u, _ := url.Parse(got)
	assert.Equal(t, "1", u.Query().Get("keep"))
	assert.Equal(t, "abc", u.Query().Get("code"))
	assert.False(t, u.Query().Has("state"))
}
