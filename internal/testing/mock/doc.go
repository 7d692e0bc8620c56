// Package mock provides test doubles shared by taskgate's package tests.
//
// Key Components:
//
// Clock / MockClock: a controllable time source for idle-timeout, TTL and
// token expiry tests that must not wait for real time to pass.
//
// OAuthServer: an httptest-backed upstream identity provider with OIDC
// discovery, an auto-approving /authorize endpoint and a /token endpoint
// that supports authorization_code (with S256 PKCE) and refresh_token
// grants. Responses can be overridden per request with QueueTokenResponse
// to simulate rate limiting and server errors.
//
// Usage:
//
//	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "gw"})
//	defer idp.Close()
//	idp.QueueTokenResponse(http.StatusTooManyRequests, nil, `{"retry_after":1}`)
package mock
