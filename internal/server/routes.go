package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"taskgate/internal/metrics"
	"taskgate/pkg/logging"
)

// DefaultCallbackPath is where the upstream provider redirects back to.
const DefaultCallbackPath = "/oauth/callback"

// Handler returns the gateway's root handler.
func (s *Server) Handler() http.Handler {
	return logRequests(s.createMux())
}

// createMux routes the protocol endpoint, the OAuth endpoints and the
// operational endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Liveness endpoint (unauthenticated)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	s.setupOAuthRoutes(mux)
	s.setupMCPRoutes(mux)

	return mux
}

// setupOAuthRoutes registers the client-facing OAuth and discovery
// endpoints. The interactive and token endpoints are rate limited per IP.
func (s *Server) setupOAuthRoutes(mux *http.ServeMux) {
	limited := rateLimit(s.limiter, s.config.TrustProxyHeaders)
	oauthFamily := func(h http.HandlerFunc, mw ...Middleware) http.Handler {
		return chain(h, append([]Middleware{noStore, allowCORS}, mw...)...)
	}

	// Authorization Server Metadata (RFC 8414) and Protected Resource
	// Metadata (RFC 9728), including the path-suffixed resource form.
	mux.Handle("/.well-known/oauth-authorization-server", oauthFamily(s.oauth.HandleAuthorizationServerMetadata))
	mux.Handle("/.well-known/oauth-protected-resource", oauthFamily(s.oauth.HandleProtectedResourceMetadata))
	mux.Handle("/.well-known/oauth-protected-resource/mcp", oauthFamily(s.oauth.HandleProtectedResourceMetadata))

	mux.Handle("/authorize", oauthFamily(s.oauth.HandleAuthorize, limited))
	mux.Handle("/token", oauthFamily(s.oauth.HandleToken, limited))
	mux.Handle("/register", oauthFamily(s.oauth.HandleRegister, limited))
	mux.Handle(s.config.CallbackPath, oauthFamily(s.oauth.HandleCallback, limited))

	logging.Info("OAuth", "Registered OAuth endpoints (callback at %s)", s.config.CallbackPath)
}

// setupMCPRoutes registers the protocol endpoint. Browser origins are
// refused before authentication, and authentication is checked before
// any session lookup.
func (s *Server) setupMCPRoutes(mux *http.ServeMux) {
	mux.Handle("/mcp", chain(s.router,
		noStore,
		rejectBrowserOrigins,
		requireBearer(s.oauth.ProtectedResourceMetadataURL()),
		recoverPanics,
	))
}

// validateCallbackPath ensures the callback path is absolute and does not
// shadow another route.
func validateCallbackPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("callback path must start with '/': %q", path)
	}
	switch path {
	case "/", "/mcp", "/health", "/metrics", "/authorize", "/token", "/register":
		return fmt.Errorf("callback path %q conflicts with a built-in route", path)
	}
	if strings.HasPrefix(path, "/.well-known/") {
		return fmt.Errorf("callback path %q conflicts with discovery routes", path)
	}
	return nil
}

// validateHTTPSRequirement ensures OAuth 2.1 HTTPS compliance.
// Allows HTTP only for loopback addresses (localhost, 127.0.0.1, ::1).
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must be absolute (got: %s)", baseURL)
	}

	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth 2.1 requires HTTPS for non-local base URLs (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
