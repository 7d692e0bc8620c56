package oauth

import (
	"time"
)

// ExpiryBuffer is how far ahead of the real expiry a token is treated as
// expired.
const ExpiryBuffer = 5 * time.Minute

// Token is the token set returned by the upstream identity provider.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds as reported upstream.
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp, nil when the
	// upstream gave no lifetime.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s).
	Scope string `json:"scope,omitempty"`

	// IDToken is passed through when the upstream is an OIDC provider.
	IDToken string `json:"id_token,omitempty"`
}

// IsExpired reports whether the token expires within ExpiryBuffer of now.
func (t *Token) IsExpired() bool {
	return IsExpired(t.ExpiresAt)
}

// IsExpired reports whether expiresAt lies within ExpiryBuffer of now.
// A nil expiry never expires.
func IsExpired(expiresAt *time.Time) bool {
	return isExpiredAt(expiresAt, time.Now())
}

func isExpiredAt(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return now.Add(ExpiryBuffer).After(*expiresAt)
}

// AuthorizeRequest is the client's original request to /authorize.
type AuthorizeRequest struct {
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	ResponseType        string   `json:"response_type"`
	State               string   `json:"state,omitempty"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
}

// PendingAuthorization links an upstream redirect back to the client
// request that started it.
type PendingAuthorization struct {
	Request AuthorizeRequest `json:"request"`

	// UpstreamVerifier is the PKCE verifier for the upstream leg. It never
	// leaves the gateway.
	UpstreamVerifier string `json:"upstream_verifier"`

	CreatedAt time.Time `json:"created_at"`
}

// IssuedGrant is the gateway authorization code handed to the client after
// a successful callback, redeemable once at /token.
type IssuedGrant struct {
	Token               Token     `json:"token"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// CallbackResult is the outcome of an upstream callback. Exactly one of
// RedirectURL or Error is set.
type CallbackResult struct {
	RedirectURL      string
	Error            string
	ErrorDescription string
}

// AuthorizationServerMetadata is the RFC 8414 document describing the
// gateway's own OAuth endpoints.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ProtectedResourceMetadata is the RFC 9728 document for the /mcp resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// ClientMetadata is an RFC 7591 registration request and response.
type ClientMetadata struct {
	ClientID                string   `json:"client_id,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// tokenResponse is the RFC 6749 token endpoint response sent to clients.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}
