package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"taskgate/internal/upstream"
	"taskgate/pkg/logging"
)

// UpstreamConfig describes the identity provider the gateway proxies to.
type UpstreamConfig struct {
	// Issuer is used for OIDC discovery when AuthorizeURL or TokenURL is empty.
	Issuer       string
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RedirectURL is the gateway callback registered with the provider.
	RedirectURL string
}

// AuthorizeOptions are the per-request parts of an authorize URL.
type AuthorizeOptions struct {
	// Scopes override UpstreamConfig.Scopes when non-empty.
	Scopes []string

	// Verifier, when set, adds an S256 PKCE challenge derived from it.
	Verifier string
}

func (cfg UpstreamConfig) oauth2Config(scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = cfg.Scopes
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizeURL,
			TokenURL: cfg.TokenURL,
		},
	}
}

// BuildAuthorizeURL returns the upstream authorization URL carrying
// response_type=code, the client id, redirect URI, state, scopes and an
// optional PKCE challenge. It has no side effects.
func BuildAuthorizeURL(cfg UpstreamConfig, state string, opts AuthorizeOptions) string {
	var params []oauth2.AuthCodeOption
	if opts.Verifier != "" {
		params = append(params, oauth2.S256ChallengeOption(opts.Verifier))
	}
	return cfg.oauth2Config(opts.Scopes).AuthCodeURL(state, params...)
}

// ResolveEndpoints fills in AuthorizeURL and TokenURL from the issuer's
// OpenID configuration when either is missing.
func ResolveEndpoints(ctx context.Context, cfg UpstreamConfig) (UpstreamConfig, error) {
	if cfg.AuthorizeURL != "" && cfg.TokenURL != "" {
		return cfg, nil
	}
	if cfg.Issuer == "" {
		return cfg, fmt.Errorf("upstream issuer is required when authorize or token URL is not configured")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return cfg, fmt.Errorf("failed to discover issuer %s: %w", cfg.Issuer, err)
	}
	endpoint := provider.Endpoint()
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = endpoint.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = endpoint.TokenURL
	}

	logging.Info("OAuth", "Discovered upstream endpoints for issuer=%s (auth=%s, token=%s)",
		cfg.Issuer, cfg.AuthorizeURL, cfg.TokenURL)
	return cfg, nil
}

// Exchange trades an upstream authorization code for a token set.
func Exchange(ctx context.Context, client *upstream.Client, cfg UpstreamConfig, code, verifier string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", cfg.RedirectURL)
	data.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		data.Set("client_secret", cfg.ClientSecret)
	}
	if verifier != "" {
		data.Set("code_verifier", verifier)
	}

	resp, err := client.Do(ctx, tokenRequest("token_exchange", cfg.TokenURL, data))
	if err != nil {
		return nil, newError(ErrCodeExchangeFailed, describeUpstream(err), err)
	}

	token, err := parseToken(resp.Body, time.Now())
	if err != nil {
		return nil, newError(ErrCodeInvalidResponse, "invalid token response", err)
	}

	logging.Debug("OAuth", "Successfully exchanged code for token (expires_in=%d)", token.ExpiresIn)
	return token, nil
}

// Refresh obtains a new token set from a refresh token. It is attempted
// once; the caller decides whether to re-authorize on failure.
func Refresh(ctx context.Context, client *upstream.Client, cfg UpstreamConfig, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, newError(ErrCodeInvalidRequest, "refresh token is required", nil)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		data.Set("client_secret", cfg.ClientSecret)
	}

	opts := client.Options()
	opts.MaxRetries = 0
	resp, err := client.DoWithOptions(ctx, tokenRequest("token_refresh", cfg.TokenURL, data), opts)
	if err != nil {
		return nil, newError(ErrCodeRefreshFailed, describeUpstream(err), err)
	}

	token, err := parseToken(resp.Body, time.Now())
	if err != nil {
		return nil, newError(ErrCodeInvalidResponse, "invalid refresh response", err)
	}

	// Preserve refresh token if not returned
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	logging.Info("OAuth", "Refreshed upstream token (expires_in=%d)", token.ExpiresIn)
	return token, nil
}

func tokenRequest(operation, tokenURL string, data url.Values) upstream.Request {
	return upstream.Request{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       tokenURL,
		Header: http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
			"Accept":       {"application/json"},
		},
		Body: []byte(data.Encode()),
	}
}

// parseToken decodes a token endpoint response. A body that is not JSON or
// lacks an access token is rejected.
func parseToken(body []byte, now time.Time) (*Token, error) {
	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	if token.ExpiresIn > 0 && token.ExpiresAt == nil {
		expiresAt := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	return &token, nil
}

// describeUpstream returns the classified message of an upstream error.
func describeUpstream(err error) string {
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		return upErr.Message
	}
	return "upstream request failed"
}

// verifyPKCE checks a client verifier against the challenge sent to
// /authorize. An empty method means "plain".
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	var computed string
	switch strings.ToUpper(method) {
	case "S256":
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case "", "PLAIN":
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
