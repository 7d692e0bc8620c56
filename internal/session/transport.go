package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskgate/pkg/logging"
)

// Transport processes the protocol frames of one session. The Manager owns
// it exclusively and serializes HandleMessage calls.
type Transport interface {
	// HandleMessage processes one JSON-RPC frame. A nil response means the
	// frame was a notification.
	HandleMessage(ctx context.Context, frame json.RawMessage) (any, error)

	// ServeStream writes server-initiated messages to w as server-sent
	// events until ctx is done or the transport closes.
	ServeStream(ctx context.Context, w http.ResponseWriter, r *http.Request) error

	// Close terminates the session. It must be safe to call more than once.
	Close() error

	// Done is closed once the transport has closed, for whatever reason.
	Done() <-chan struct{}
}

// TransportFactory creates the transport for a new session ID.
type TransportFactory func(sessionID string) (Transport, error)

const (
	notificationBufferSize = 100
	streamKeepAlive        = 30 * time.Second
)

// MCPTransport is a Transport backed by a shared mcp-go MCPServer. It
// registers itself with the server as a ClientSession so that server-side
// notifications reach the session's push stream.
type MCPTransport struct {
	id            string
	server        *server.MCPServer
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ server.ClientSession = (*MCPTransport)(nil)

// NewMCPTransportFactory returns a TransportFactory creating MCPTransports
// on srv.
func NewMCPTransportFactory(srv *server.MCPServer) TransportFactory {
	return func(sessionID string) (Transport, error) {
		t := &MCPTransport{
			id:            sessionID,
			server:        srv,
			notifications: make(chan mcp.JSONRPCNotification, notificationBufferSize),
			done:          make(chan struct{}),
		}
		if err := srv.RegisterSession(context.Background(), t); err != nil {
			return nil, fmt.Errorf("failed to register session: %w", err)
		}
		return t, nil
	}
}

func (t *MCPTransport) SessionID() string { return t.id }

func (t *MCPTransport) Initialize() { t.initialized.Store(true) }

func (t *MCPTransport) Initialized() bool { return t.initialized.Load() }

func (t *MCPTransport) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return t.notifications
}

// HandleMessage forwards frame to the MCP server with this session on the
// context.
func (t *MCPTransport) HandleMessage(ctx context.Context, frame json.RawMessage) (any, error) {
	select {
	case <-t.done:
		return nil, ErrTransportClosed
	default:
	}

	resp := t.server.HandleMessage(t.server.WithContext(ctx, t), frame)
	if resp == nil {
		return nil, nil
	}
	return resp, nil
}

// ServeStream relays queued notifications as server-sent events. A comment
// line is written periodically so that proxies keep the connection open.
func (t *MCPTransport) ServeStream(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case notification := <-t.notifications:
			data, err := json.Marshal(notification)
			if err != nil {
				logging.Warn("Session", "Dropping unencodable notification %s: %v", notification.Method, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// Close unregisters the session from the MCP server and ends any stream.
func (t *MCPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.server.UnregisterSession(context.Background(), t.id)
	})
	return nil
}

func (t *MCPTransport) Done() <-chan struct{} {
	return t.done
}

// isErrorResponse reports whether resp is a JSON-RPC error message.
func isErrorResponse(resp any) bool {
	switch resp.(type) {
	case mcp.JSONRPCError, *mcp.JSONRPCError:
		return true
	}
	return false
}
