package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"taskgate/internal/metrics"
	"taskgate/internal/upstream"
	"taskgate/pkg/logging"
)

// ProxyConfig holds the collaborators of a Proxy.
type ProxyConfig struct {
	Upstream UpstreamConfig

	// Pending and Grants default to in-memory stores with the default TTLs.
	Pending TTLStore[PendingAuthorization]
	Grants  TTLStore[IssuedGrant]

	// Clients defaults to an in-memory registry of DefaultMaxClients.
	Clients ClientStore

	// Client defaults to an upstream.Client with default options.
	Client *upstream.Client
}

// Proxy runs the authorization-code flow against the upstream provider on
// behalf of clients. A flow moves from Initiated (Authorize) to Returned
// (HandleCallback) and ends Exchanged or Failed.
type Proxy struct {
	upstream UpstreamConfig
	pending  TTLStore[PendingAuthorization]
	grants   TTLStore[IssuedGrant]
	clients  ClientStore
	client   *upstream.Client
	now      func() time.Time
}

// NewProxy creates a Proxy. The upstream endpoints must already be resolved.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if cfg.Upstream.AuthorizeURL == "" || cfg.Upstream.TokenURL == "" {
		return nil, fmt.Errorf("upstream authorize and token URLs are required")
	}
	if cfg.Upstream.ClientID == "" {
		return nil, fmt.Errorf("upstream client ID is required")
	}
	if cfg.Upstream.RedirectURL == "" {
		return nil, fmt.Errorf("upstream redirect URL is required")
	}

	p := &Proxy{
		upstream: cfg.Upstream,
		pending:  cfg.Pending,
		grants:   cfg.Grants,
		clients:  cfg.Clients,
		client:   cfg.Client,
		now:      time.Now,
	}
	if p.pending == nil {
		p.pending = NewStateStore[PendingAuthorization]("pending", DefaultStateTTL)
	}
	if p.grants == nil {
		p.grants = NewStateStore[IssuedGrant]("grant", DefaultGrantTTL)
	}
	if p.clients == nil {
		clients, err := NewMemoryClientStore(DefaultMaxClients)
		if err != nil {
			return nil, err
		}
		p.clients = clients
	}
	if p.client == nil {
		p.client = upstream.NewClient(nil, upstream.DefaultOptions())
	}
	return p, nil
}

// Upstream returns the upstream provider configuration.
func (p *Proxy) Upstream() UpstreamConfig {
	return p.upstream
}

// Authorize validates a client authorization request, records it as a
// pending authorization and returns the upstream URL to redirect to. The
// client must be registered and redirect_uri must be one of its redirect
// URIs.
func (p *Proxy) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if err := validateAuthorizeRequest(req); err != nil {
		return "", err
	}
	if err := p.checkClient(ctx, req.ClientID, req.RedirectURI); err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	state, err := p.pending.Create(ctx, PendingAuthorization{
		Request:          req,
		UpstreamVerifier: verifier,
		CreatedAt:        p.now(),
	})
	if err != nil {
		return "", newError(ErrCodeInternal, "failed to start authorization", err)
	}

	logging.Debug("OAuth", "Started authorization for client=%s", req.ClientID)
	return BuildAuthorizeURL(p.upstream, state, AuthorizeOptions{
		Scopes:   req.Scopes,
		Verifier: verifier,
	}), nil
}

// HandleCallback completes the upstream leg. On success the result carries
// the client redirect with a fresh gateway code and the client's state.
func (p *Proxy) HandleCallback(ctx context.Context, code, state, upstreamError, description string) CallbackResult {
	if upstreamError != "" {
		if state != "" {
			// Burn the state so the flow cannot be resumed.
			_, _ = p.pending.Consume(ctx, state)
		}
		if description == "" {
			description = "The identity provider rejected the authorization request."
		}
		logging.Warn("OAuth", "OAuth callback received error: %s - %s", upstreamError, description)
		return p.callbackFailure(upstreamError, description)
	}

	if code == "" || state == "" {
		logging.Warn("OAuth", "OAuth callback missing code or state parameter")
		return p.callbackFailure(string(ErrCodeInvalidRequest), "Invalid callback: missing required parameters.")
	}

	pending, err := p.pending.Consume(ctx, state)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.Error("OAuth", err, "Failed to load pending authorization")
		} else {
			logging.Warn("OAuth", "OAuth callback with invalid or expired state")
		}
		return p.callbackFailure(string(ErrCodeInvalidState), "Authentication session expired. Please try again.")
	}

	token, err := Exchange(ctx, p.client, p.upstream, code, pending.UpstreamVerifier)
	if err != nil {
		logging.Error("OAuth", err, "Failed to exchange authorization code")
		desc := "Failed to complete authentication."
		var oe *Error
		if errors.As(err, &oe) && oe.Description != "" {
			desc = desc + " " + oe.Description
		}
		return p.callbackFailure(string(ErrCodeExchangeFailed), desc)
	}

	req := pending.Request
	grantCode, err := p.grants.Create(ctx, IssuedGrant{
		Token:               *token,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           p.now(),
	})
	if err != nil {
		logging.Error("OAuth", err, "Failed to issue authorization code")
		return p.callbackFailure(string(ErrCodeInternal), "Failed to complete authentication.")
	}

	redirect, err := appendQuery(req.RedirectURI, url.Values{
		"code":  {grantCode},
		"state": {req.State},
	})
	if err != nil {
		return p.callbackFailure(string(ErrCodeInvalidRequest), "Invalid client redirect URI.")
	}

	metrics.OAuthCallbacks.WithLabelValues("success").Inc()
	logging.Audit(logging.AuditEvent{
		Action:   "oauth_callback",
		Outcome:  "success",
		ClientID: req.ClientID,
	})
	return CallbackResult{RedirectURL: redirect}
}

func (p *Proxy) callbackFailure(code, description string) CallbackResult {
	metrics.OAuthCallbacks.WithLabelValues("failure").Inc()
	logging.Audit(logging.AuditEvent{
		Action:  "oauth_callback",
		Outcome: "failure",
		Details: code,
	})
	return CallbackResult{Error: code, ErrorDescription: description}
}

// Exchange trades an upstream code using cfg.
func (p *Proxy) Exchange(ctx context.Context, cfg UpstreamConfig, code, verifier string) (*Token, error) {
	return Exchange(ctx, p.client, cfg, code, verifier)
}

// Refresh refreshes an upstream token using cfg.
func (p *Proxy) Refresh(ctx context.Context, cfg UpstreamConfig, refreshToken string) (*Token, error) {
	return Refresh(ctx, p.client, cfg, refreshToken)
}

// RedeemGrant exchanges a gateway-issued code for the upstream token set.
// The code is consumed even when validation fails.
func (p *Proxy) RedeemGrant(ctx context.Context, code, clientID, redirectURI, verifier string) (*Token, error) {
	if code == "" {
		return nil, newError(ErrCodeInvalidRequest, "code is required", nil)
	}

	grant, err := p.grants.Consume(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(ErrCodeInvalidGrant, "authorization code is invalid or expired", nil)
		}
		return nil, newError(ErrCodeInternal, "failed to load authorization code", err)
	}

	if clientID == "" || clientID != grant.ClientID {
		return nil, newError(ErrCodeInvalidGrant, "client_id does not match the authorization code", nil)
	}
	if redirectURI == "" || redirectURI != grant.RedirectURI {
		return nil, newError(ErrCodeInvalidGrant, "redirect_uri does not match the authorization request", nil)
	}
	if grant.CodeChallenge != "" && !verifyPKCE(grant.CodeChallenge, grant.CodeChallengeMethod, verifier) {
		return nil, newError(ErrCodeInvalidGrant, "code_verifier does not match the code challenge", nil)
	}

	logging.Audit(logging.AuditEvent{
		Action:   "oauth_code_redeemed",
		Outcome:  "success",
		ClientID: grant.ClientID,
	})
	token := grant.Token
	return &token, nil
}

// Register stores an RFC 7591 registration under a fresh public client ID
// and returns it.
func (p *Proxy) Register(ctx context.Context, req ClientMetadata) (ClientMetadata, error) {
	if len(req.RedirectURIs) == 0 {
		return ClientMetadata{}, newError(ErrCodeInvalidRequest, "redirect_uris is required", nil)
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return ClientMetadata{}, err
		}
	}

	resp := req
	resp.ClientID = uuid.NewString()
	resp.ClientIDIssuedAt = p.now().Unix()
	resp.TokenEndpointAuthMethod = "none"
	if len(resp.GrantTypes) == 0 {
		resp.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(resp.ResponseTypes) == 0 {
		resp.ResponseTypes = []string{"code"}
	}

	if err := p.clients.Save(ctx, resp); err != nil {
		return ClientMetadata{}, newError(ErrCodeInternal, "failed to register client", err)
	}

	logging.Info("OAuth", "Registered client %s (%s)", resp.ClientID, resp.ClientName)
	return resp, nil
}

func (p *Proxy) checkClient(ctx context.Context, clientID, redirectURI string) error {
	client, err := p.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(ErrCodeInvalidClient, "client_id is not registered", nil)
		}
		return newError(ErrCodeInternal, "failed to load client", err)
	}
	if !slices.Contains(client.RedirectURIs, redirectURI) {
		return newError(ErrCodeInvalidRequest, "redirect_uri is not registered for this client", nil)
	}
	return nil
}

// AuthorizationServerMetadata describes the gateway's own endpoints rooted
// at baseURL.
func (p *Proxy) AuthorizationServerMetadata(baseURL string) AuthorizationServerMetadata {
	base := strings.TrimSuffix(baseURL, "/")
	return AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		RegistrationEndpoint:              base + "/register",
		ScopesSupported:                   p.upstream.Scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
	}
}

// ProtectedResourceMetadata describes the /mcp resource rooted at baseURL.
func (p *Proxy) ProtectedResourceMetadata(baseURL string) ProtectedResourceMetadata {
	base := strings.TrimSuffix(baseURL, "/")
	return ProtectedResourceMetadata{
		Resource:               base + "/mcp",
		AuthorizationServers:   []string{base},
		ScopesSupported:        p.upstream.Scopes,
		BearerMethodsSupported: []string{"header"},
	}
}

// Close stops the stores.
func (p *Proxy) Close() error {
	return errors.Join(p.pending.Close(), p.grants.Close(), p.clients.Close())
}

func validateAuthorizeRequest(req AuthorizeRequest) error {
	if req.ClientID == "" {
		return newError(ErrCodeInvalidRequest, "client_id is required", nil)
	}
	if req.ResponseType != "code" {
		return newError(ErrCodeInvalidRequest, "response_type must be code", nil)
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return err
	}
	if req.CodeChallenge != "" {
		switch req.CodeChallengeMethod {
		case "", "S256", "plain":
		default:
			return newError(ErrCodeInvalidRequest, "unsupported code_challenge_method", nil)
		}
	}
	return nil
}

func validateRedirectURI(raw string) error {
	if raw == "" {
		return newError(ErrCodeInvalidRequest, "redirect_uri is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return newError(ErrCodeInvalidRequest, "redirect_uri must be an absolute URL", err)
	}
	if u.Fragment != "" {
		return newError(ErrCodeInvalidRequest, "redirect_uri must not contain a fragment", nil)
	}
	return nil
}

// appendQuery adds params to raw, keeping any query it already has.
func appendQuery(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			if v != "" {
				q.Set(key, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
