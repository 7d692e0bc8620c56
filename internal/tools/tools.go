package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskgate/internal/oauth"
	"taskgate/pkg/logging"
)

// Registrar attaches tools to the gateway's MCP server. Task tools provided
// by other packages plug in through this interface.
type Registrar interface {
	Register(srv *server.MCPServer) error
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(srv *server.MCPServer) error

func (f RegistrarFunc) Register(srv *server.MCPServer) error {
	return f(srv)
}

// NewServer creates the MCP server shared by all sessions and runs every
// registrar against it.
func NewServer(name, version string, registrars ...Registrar) (*server.MCPServer, error) {
	srv := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	for _, r := range registrars {
		if err := r.Register(srv); err != nil {
			return nil, fmt.Errorf("failed to register tools: %w", err)
		}
	}
	return srv, nil
}

// Status is the payload returned by the gateway_status tool.
type Status struct {
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"activeSessions"`
	SessionID      string `json:"sessionId,omitempty"`
	Authenticated  bool   `json:"authenticated"`
}

// Diagnostics registers the built-in gateway_status tool.
type Diagnostics struct {
	Version string

	// Sessions reports the number of live sessions.
	Sessions func() int

	startedAt time.Time
	now       func() time.Time
}

// NewDiagnostics creates the diagnostics registrar. sessions may be nil.
func NewDiagnostics(version string, sessions func() int) *Diagnostics {
	return &Diagnostics{
		Version:   version,
		Sessions:  sessions,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

func (d *Diagnostics) Register(srv *server.MCPServer) error {
	srv.AddTool(mcp.NewTool("gateway_status",
		mcp.WithDescription("Report the gateway version, uptime, live session count and whether this session is authenticated"),
		mcp.WithReadOnlyHintAnnotation(true),
	), d.handleStatus)

	logging.Debug("Tools", "Registered gateway_status tool")
	return nil
}

func (d *Diagnostics) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := Status{
		Version: d.Version,
		Uptime:  d.now().Sub(d.startedAt).Round(time.Second).String(),
	}
	if d.Sessions != nil {
		status.ActiveSessions = d.Sessions()
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		status.SessionID = logging.TruncateSessionID(session.SessionID())
	}
	_, status.Authenticated = oauth.BearerTokenFromContext(ctx)

	return mcp.NewToolResultJSON(status)
}
