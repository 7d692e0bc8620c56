// Package tools builds the MCP server shared by all gateway sessions.
//
// Tools are attached through the Registrar interface. The gateway itself
// only ships a diagnostic tool, gateway_status; task tools are provided by
// registrars passed to NewServer. Tool handlers can read the caller's
// bearer token with oauth.BearerTokenFromContext.
package tools
