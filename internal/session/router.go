package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"taskgate/pkg/logging"
)

// HeaderSessionID carries the session ID on requests and on the initialize
// response.
const HeaderSessionID = "Mcp-Session-Id"

// maxFrameSize bounds a single POST body.
const maxFrameSize = 4 << 20

const (
	msgNoSession    = "Bad Request: No valid session ID provided"
	msgShuttingDown = "Server is shutting down"
	msgInternal     = "Internal server error"
)

// Router serves the streamable HTTP endpoint, mapping POST, GET and DELETE
// requests onto the Manager.
type Router struct {
	manager *Manager
}

// NewRouter creates a Router for manager.
func NewRouter(manager *Manager) *Router {
	return &Router{manager: manager}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.handlePost(w, r)
	case http.MethodGet:
		rt.handleGet(w, r)
	case http.MethodDelete:
		rt.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, CodeInvalidSession, "Method not allowed")
	}
}

// frameHeader is the part of a JSON-RPC frame needed for routing.
type frameHeader struct {
	Method string          `json:"method"`
	ID     json.RawMessage `json:"id,omitempty"`
}

func (rt *Router) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameSize))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeParseError, "Parse error: failed to read request body")
		return
	}

	var header frameHeader
	if err := json.Unmarshal(body, &header); err != nil {
		WriteError(w, http.StatusBadRequest, CodeParseError, "Parse error: "+err.Error())
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		if header.Method != string(mcp.MethodInitialize) {
			WriteError(w, http.StatusBadRequest, CodeInvalidSession, msgNoSession)
			return
		}
		rt.initialize(w, r, body)
		return
	}

	resp, err := rt.manager.Handle(r.Context(), sessionID, body)
	switch {
	case err == nil:
	case IsSessionNotFound(err), errors.Is(err, ErrTransportClosed):
		WriteError(w, http.StatusBadRequest, CodeInvalidSession, msgNoSession)
		return
	default:
		logging.Error("Session", err, "Failed to handle %q for session %s", header.Method, logging.TruncateSessionID(sessionID))
		WriteError(w, http.StatusInternalServerError, CodeInternalError, msgInternal)
		return
	}

	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, http.StatusOK, resp)
}

func (rt *Router) initialize(w http.ResponseWriter, r *http.Request, body []byte) {
	id, resp, err := rt.manager.Initialize(r.Context(), body)
	if err != nil {
		var initErr *InitializeError
		switch {
		case errors.Is(err, ErrShuttingDown):
			WriteError(w, http.StatusServiceUnavailable, CodeInternalError, msgShuttingDown)
		case errors.As(err, &initErr):
			writeResponse(w, http.StatusBadRequest, initErr.Response)
		default:
			logging.Error("Session", err, "Failed to create session")
			WriteError(w, http.StatusInternalServerError, CodeInternalError, msgInternal)
		}
		return
	}

	w.Header().Set(HeaderSessionID, id)
	writeResponse(w, http.StatusOK, resp)
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		WriteError(w, http.StatusNotAcceptable, CodeInvalidSession, "Not Acceptable: client must accept text/event-stream")
		return
	}
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, CodeInvalidSession, msgNoSession)
		return
	}

	err := rt.manager.Stream(r.Context(), sessionID, w, r)
	if IsSessionNotFound(err) {
		WriteError(w, http.StatusBadRequest, CodeInvalidSession, msgNoSession)
		return
	}
	if err != nil {
		logging.Warn("Session", "Stream for session %s ended with error: %v", logging.TruncateSessionID(sessionID), err)
	}
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, CodeInvalidSession, msgNoSession)
		return
	}
	if err := rt.manager.Terminate(sessionID); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidSession, msgNoSession)
		return
	}

	logging.Info("Session", "Terminated session %s", logging.TruncateSessionID(sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// acceptsEventStream allows a missing Accept header for simple clients.
func acceptsEventStream(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "" || strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "*/*")
}

// errorEnvelope is a JSON-RPC error response without a request ID.
type errorEnvelope struct {
	JSONRPC string        `json:"jsonrpc"`
	Error   envelopeError `json:"error"`
	ID      *string       `json:"id"`
}

type envelopeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a protocol error envelope with a null id.
func WriteError(w http.ResponseWriter, status, code int, message string) {
	writeResponse(w, status, errorEnvelope{
		JSONRPC: mcp.JSONRPC_VERSION,
		Error:   envelopeError{Code: code, Message: message},
	})
}

func writeResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Session", err, "Failed to encode response")
	}
}
