package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Sessions resolves lab session ids to terminal sessions.
type Sessions interface {
	Terminal(sessionID string) (*Session, error)
}

// WebSocketHandler serves the lab terminal over a WebSocket.
type WebSocketHandler struct {
	sessions      Sessions
	conns         *ConnRegistry
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sessions Sessions, conns *ConnRegistry, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage is what the browser sends.
type clientMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// serverMessage is what the handler sends back.
type serverMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	session, err := h.sessions.Terminal(sessionID)
	if err != nil {
		http.Error(w, "lab session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeJSON(ctx, ws, serverMessage{Type: "ready", Cwd: session.Cwd(), Prompt: session.Prompt()}); err != nil {
		slog.Debug("Failed to send ready message", "error", err, "session_id", sessionID)
		return
	}

	h.inputLoop(ctx, ws, sessionID)
	slog.Info("Terminal session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Raw text frames are treated as a full input line.
			msg = clientMessage{Type: "input", Content: string(data)}
		}

		// Re-resolve every message so a closed lab session stops the loop.
		session, err := h.sessions.Terminal(sessionID)
		if err != nil {
			_ = writeJSON(ctx, ws, serverMessage{Type: "error", Error: "session_closed"})
			return
		}

		reply, done := handleMessage(ctx, session, msg)
		if err := writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
			return
		}
		if done {
			return
		}
	}
}

// handleMessage maps one client message to its reply. done reports whether
// the connection should close afterwards.
func handleMessage(ctx context.Context, session *Session, msg clientMessage) (reply serverMessage, done bool) {
	switch msg.Type {
	case "input":
		out := session.Submit(ctx, msg.Content)
		return serverMessage{Type: "output", Content: out, Cwd: session.Cwd(), Prompt: session.Prompt()}, false
	case "recall":
		var line string
		if msg.Direction == "down" {
			line = session.RecallNext()
		} else {
			line = session.RecallPrevious()
		}
		return serverMessage{Type: "recall", Content: line}, false
	case "ping":
		return serverMessage{Type: "pong"}, false
	case "terminate":
		return serverMessage{Type: "terminated"}, true
	default:
		return serverMessage{Type: "error", Error: "unknown message type: " + msg.Type}, false
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
