// Package server assembles the gateway's HTTP surface.
//
// # Routes
//
//   - /mcp: the streamable HTTP protocol endpoint served by session.Router.
//     Requests with an Origin header are refused (403) and requests without
//     a bearer token get a 401 challenge pointing at the protected resource
//     metadata. The token is placed on the request context for tools.
//   - /authorize, /token, /register and the callback path: the OAuth proxy
//     endpoints, rate limited per client IP.
//   - /.well-known/oauth-authorization-server and
//     /.well-known/oauth-protected-resource: discovery documents.
//   - /health and /metrics.
//
// Every protocol, OAuth and discovery response is marked uncacheable. CORS
// headers are only sent for the OAuth and discovery endpoints.
//
// # Lifecycle
//
// Server.Run listens and serves until its context is cancelled. The idle
// session sweep and rate limiter cleanup run in the same errgroup. On
// shutdown, sessions are closed first (bounded by the session grace period)
// and then the HTTP server drains.
//
// Base URLs must use HTTPS unless they point at a loopback address.
package server
