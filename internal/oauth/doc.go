// Package oauth implements the OAuth 2.0 proxy that lets MCP clients sign in
// against an upstream identity provider through the gateway.
//
// # Flow
//
//  0. The client registers at /register and receives a client_id bound to
//     its redirect URIs.
//  1. The client opens /authorize with its client_id, one of its registered
//     redirect URIs, state and optional PKCE challenge.
//  2. The gateway stores the request as a PendingAuthorization keyed by a
//     fresh 64-character state and redirects to the upstream provider with
//     its own PKCE challenge.
//  3. The provider redirects back to /oauth/callback. The state is consumed
//     exactly once and the upstream code is exchanged for a Token.
//  4. The gateway stores the Token as an IssuedGrant under a new code and
//     redirects to the client's redirect_uri with that code and the client's
//     original state.
//  5. The client redeems the code at /token with the same client_id and
//     redirect_uri, proving possession of its PKCE verifier. Later it refreshes through /token with grant_type=refresh_token.
//
// # Components
//
//   - TTLStore: single-use, expiring storage for pending authorizations and
//     issued grants (StateStore in memory, RedisStateStore in Redis)
//   - ClientStore: registered clients (MemoryClientStore, RedisClientStore)
//   - Proxy: authorize, callback, exchange, refresh and grant redemption
//   - Handler: HTTP endpoints, including RFC 8414 / RFC 9728 discovery and
//     RFC 7591 registration
//
// # Security
//
// Callback failures are rendered as HTML with every dynamic string escaped.
// Access and refresh tokens are never logged. Refresh is attempted once and
// never retried, so a revoked refresh token surfaces to the client at once.
package oauth
