package mock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// OAuthServerConfig configures the mock identity provider.
type OAuthServerConfig struct {
	// ClientID is the expected OAuth client ID. Defaults to "test-client".
	ClientID string

	// TokenLifetime is reported as expires_in. Defaults to one hour.
	TokenLifetime time.Duration

	// PKCERequired rejects token requests without a valid code_verifier.
	PKCERequired bool

	// Clock is the clock used for code expiry (defaults to RealClock).
	Clock Clock
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	Scope           string
	CodeChallenge   string
	ChallengeMethod string
	CreatedAt       time.Time
}

// TokenResponse is the OAuth token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// queuedResponse overrides the next token endpoint response.
type queuedResponse struct {
	status int
	header http.Header
	body   string
}

// OAuthServer is a mock upstream identity provider serving OIDC discovery,
// an auto-approving /authorize and a /token endpoint.
type OAuthServer struct {
	config OAuthServerConfig
	server *httptest.Server
	clock  Clock

	mu            sync.Mutex
	authCodes     map[string]*authCodeEntry
	refreshTokens map[string]string // refresh token -> scope
	queued        []queuedResponse
	tokenRequests []url.Values
}

// NewOAuthServer creates and starts a mock provider. Call Close when done.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	s := &OAuthServer{
		config:        config,
		clock:         clock,
		authCodes:     make(map[string]*authCodeEntry),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)
	s.server = httptest.NewServer(mux)
	return s
}

// Close shuts the server down.
func (s *OAuthServer) Close() {
	s.server.Close()
}

// IssuerURL returns the issuer, which is the server's base URL.
func (s *OAuthServer) IssuerURL() string {
	return s.server.URL
}

// AuthorizeURL returns the authorization endpoint URL.
func (s *OAuthServer) AuthorizeURL() string {
	return s.server.URL + "/authorize"
}

// TokenURL returns the token endpoint URL.
func (s *OAuthServer) TokenURL() string {
	return s.server.URL + "/token"
}

// HTTPClient returns a client for talking to the server.
func (s *OAuthServer) HTTPClient() *http.Client {
	return s.server.Client()
}

// QueueTokenResponse makes the next token request return status with the
// given body and headers instead of the normal response. Calls stack in
// order.
func (s *OAuthServer) QueueTokenResponse(status int, header http.Header, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, queuedResponse{status: status, header: header, body: body})
}

// TokenRequests returns the forms posted to /token so far.
func (s *OAuthServer) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.tokenRequests...)
}

// GenerateAuthCode registers a code as if a user had approved the request.
func (s *OAuthServer) GenerateAuthCode(redirectURI, scope, codeChallenge, codeChallengeMethod string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := generateOpaqueToken()
	s.authCodes[code] = &authCodeEntry{
		ClientID:        s.config.ClientID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		CodeChallenge:   codeChallenge,
		ChallengeMethod: codeChallengeMethod,
		CreatedAt:       s.clock.Now(),
	}
	return code
}

func (s *OAuthServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.server.URL,
		"authorization_endpoint":                s.AuthorizeURL(),
		"token_endpoint":                        s.TokenURL(),
		"jwks_uri":                              s.server.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

// handleAuthorize approves every request and redirects straight back.
func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != s.config.ClientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client")
		return
	}
	redirectURI := q.Get("redirect_uri")
	code := s.GenerateAuthCode(redirectURI, q.Get("scope"), q.Get("code_challenge"), q.Get("code_challenge_method"))

	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "bad redirect_uri")
		return
	}
	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}

	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, r.PostForm)
	if len(s.queued) > 0 {
		next := s.queued[0]
		s.queued = s.queued[1:]
		s.mu.Unlock()
		for key, values := range next.header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(next.status)
		_, _ = w.Write([]byte(next.body))
		return
	}
	s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r.PostForm)
	case "refresh_token":
		s.refresh(w, r.PostForm)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

func (s *OAuthServer) exchangeCode(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")

	s.mu.Lock()
	entry, exists := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()

	if !exists || s.clock.Now().Sub(entry.CreatedAt) > 10*time.Minute {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "invalid authorization code")
		return
	}
	if form.Get("client_id") != entry.ClientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "client mismatch")
		return
	}
	if form.Get("redirect_uri") != entry.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if entry.CodeChallenge != "" || s.config.PKCERequired {
		if !verifyS256(entry.CodeChallenge, form.Get("code_verifier")) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	s.issue(w, entry.Scope)
}

func (s *OAuthServer) refresh(w http.ResponseWriter, form url.Values) {
	rt := form.Get("refresh_token")

	s.mu.Lock()
	scope, exists := s.refreshTokens[rt]
	delete(s.refreshTokens, rt)
	s.mu.Unlock()

	if !exists {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token revoked")
		return
	}
	s.issue(w, scope)
}

func (s *OAuthServer) issue(w http.ResponseWriter, scope string) {
	resp := TokenResponse{
		AccessToken:  generateOpaqueToken(),
		RefreshToken: generateOpaqueToken(),
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
		Scope:        scope,
	}

	s.mu.Lock()
	s.refreshTokens[resp.RefreshToken] = scope
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func verifyS256(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func generateOpaqueToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
