// Package session multiplexes MCP client sessions over a single streamable
// HTTP endpoint.
//
// A Manager owns every live session. Sessions are keyed by an opaque ID
// handed to the client in the Mcp-Session-Id header of the initialize
// response and are held in a bounded LRU cache; when the cache is full the
// least recently used session is evicted and closed. A background sweep
// closes sessions that have been idle for longer than the configured
// timeout.
//
// The Router maps HTTP requests onto the Manager:
//
//	POST   without a session ID and an initialize frame  -> new session
//	POST   with a live session ID                        -> frame forwarded
//	GET    with a live session ID                        -> server-sent event stream
//	DELETE with a live session ID                        -> session terminated
//
// Everything else is answered with a JSON-RPC error envelope whose id is
// null.
//
// Each session is backed by a Transport. MCPTransport adapts a shared
// mcp-go MCPServer, registering itself as the server's ClientSession so
// that notifications reach the session's stream.
package session
