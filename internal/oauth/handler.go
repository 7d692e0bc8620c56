package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"taskgate/internal/metrics"
	"taskgate/pkg/logging"
)

// maxFormSize bounds request bodies on the token and register endpoints.
const maxFormSize = 64 << 10

// Handler serves the client-facing OAuth endpoints.
type Handler struct {
	proxy   *Proxy
	baseURL string
}

// NewHandler creates a Handler. baseURL is the externally visible root of
// the gateway, used in discovery documents.
func NewHandler(proxy *Proxy, baseURL string) *Handler {
	return &Handler{
		proxy:   proxy,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// HandleAuthorize validates the client request and redirects to the
// upstream provider.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	req := AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		Scopes:              strings.Fields(q.Get("scope")),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	target, err := h.proxy.Authorize(r.Context(), req)
	if err != nil {
		logging.Warn("OAuth", "Rejected authorization request: %v", err)
		renderErrorPage(w, describe(err, "Invalid authorization request."))
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallback handles the upstream redirect back to the gateway.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := h.proxy.HandleCallback(r.Context(),
		q.Get("code"), q.Get("state"), q.Get("error"), q.Get("error_description"))

	if result.Error != "" {
		renderErrorPage(w, fmt.Sprintf("Authentication failed: %s", result.ErrorDescription))
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// HandleToken implements the token endpoint for the authorization_code and
// refresh_token grants.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeTokenError(w, http.StatusMethodNotAllowed, "invalid_request", "token endpoint requires POST")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	grantType := r.PostForm.Get("grant_type")
	var (
		token *Token
		err   error
	)
	switch grantType {
	case "authorization_code":
		token, err = h.proxy.RedeemGrant(r.Context(),
			r.PostForm.Get("code"),
			r.PostForm.Get("client_id"),
			r.PostForm.Get("redirect_uri"),
			r.PostForm.Get("code_verifier"))
	case "refresh_token":
		token, err = h.proxy.Refresh(r.Context(), h.proxy.Upstream(), r.PostForm.Get("refresh_token"))
	case "":
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
		return
	default:
		metrics.OAuthTokenRequests.WithLabelValues("unsupported", "failure").Inc()
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "grant type is not supported")
		return
	}

	if err != nil {
		metrics.OAuthTokenRequests.WithLabelValues(grantType, "failure").Inc()
		status, code := tokenErrorStatus(err)
		logging.Warn("OAuth", "Token request (%s) failed: %v", grantType, err)
		writeTokenError(w, status, code, describe(err, "token request failed"))
		return
	}

	metrics.OAuthTokenRequests.WithLabelValues(grantType, "success").Inc()
	resp := tokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		Scope:        token.Scope,
		IDToken:      token.IDToken,
	}
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// HandleRegister implements RFC 7591 dynamic client registration.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeTokenError(w, http.StatusMethodNotAllowed, "invalid_request", "registration requires POST")
		return
	}

	var req ClientMetadata
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormSize)).Decode(&req); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed registration request")
		return
	}

	resp, err := h.proxy.Register(r.Context(), req)
	if err != nil {
		if IsCode(err, ErrCodeInternal) {
			logging.Error("OAuth", err, "Client registration failed")
			writeTokenError(w, http.StatusInternalServerError, "server_error", "registration failed")
			return
		}
		writeTokenError(w, http.StatusBadRequest, "invalid_redirect_uri", describe(err, "invalid registration"))
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleAuthorizationServerMetadata serves RFC 8414 metadata.
func (h *Handler) HandleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.proxy.AuthorizationServerMetadata(h.baseURL))
}

// HandleProtectedResourceMetadata serves RFC 9728 metadata.
func (h *Handler) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.proxy.ProtectedResourceMetadata(h.baseURL))
}

// ProtectedResourceMetadataURL is advertised in WWW-Authenticate challenges.
func (h *Handler) ProtectedResourceMetadataURL() string {
	return h.baseURL + "/.well-known/oauth-protected-resource"
}

func tokenErrorStatus(err error) (int, string) {
	var oe *Error
	if !errors.As(err, &oe) {
		return http.StatusInternalServerError, "server_error"
	}
	switch oe.Code {
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest, "invalid_request"
	case ErrCodeInvalidGrant, ErrCodeRefreshFailed:
		return http.StatusBadRequest, "invalid_grant"
	case ErrCodeInvalidResponse:
		return http.StatusBadGateway, "server_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func describe(err error, fallback string) string {
	var oe *Error
	if errors.As(err, &oe) && oe.Description != "" {
		return oe.Description
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("OAuth", err, "Failed to encode response")
	}
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
}

const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Failed - taskgate</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; background: #f4f5f7; color: #1f2328; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
        .card { background: #fff; border: 1px solid #d0d7de; border-radius: 8px; padding: 2rem 2.5rem; max-width: 480px; }
        h1 { font-size: 1.4rem; margin: 0 0 1rem; }
        .message { color: #cf222e; }
        p { line-height: 1.5; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Authorization Failed</h1>
        <p class="message">%s</p>
        <p>Return to your application and start the sign-in again.</p>
    </div>
</body>
</html>`

// renderErrorPage writes a 400 HTML page. message is escaped.
func renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	_, _ = fmt.Fprintf(w, errorPageTemplate, html.EscapeString(message))
}
