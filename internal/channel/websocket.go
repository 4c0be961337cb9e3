package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-runner/internal/auth"
	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/ashureev/shsh-runner/internal/identity"
	"github.com/ashureev/shsh-runner/internal/metrics"
	"github.com/ashureev/shsh-runner/internal/orchestrator"
)

// Inbound and outbound frame types.
const (
	typeRegister = "register"
	typeLogin    = "login"
	typeLogout   = "logout"
	typeStart    = "start"
	typeCommand  = "command"
	typePing     = "ping"

	typeMessage          = "message"
	typePong             = "pong"
	typeRegisterResponse = "registerResponse"
	typeLoginResponse    = "loginResponse"
	typeLogoutResponse   = "logoutResponse"
)

// maxFrameBytes bounds inbound frames; commands are single lines.
const maxFrameBytes = 64 * 1024

// Authenticator registers and logs in accounts.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*domain.User, error)
}

// Orchestrator runs workflow commands.
type Orchestrator interface {
	Start(ctx context.Context, identity string, sink orchestrator.Sink) error
	Command(ctx context.Context, identity, text string, sink orchestrator.Sink) error
}

type inMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Text     string `json:"text,omitempty"`
}

type outMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type authResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebSocketHandler serves the client channel.
type WebSocketHandler struct {
	auth          Authenticator
	orch          Orchestrator
	conns         *ConnManager
	metrics       *metrics.Metrics
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. m may be nil.
func NewWebSocketHandler(a Authenticator, orch Orchestrator, conns *ConnManager, m *metrics.Metrics, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		auth:          a,
		orch:          orch,
		conns:         conns,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := identity.ConnIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "conn_id", connID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "conn_id", connID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := newConn(connID, ws)
	h.metrics.ConnectionOpened()
	defer func() {
		h.logout(conn)
		h.metrics.ConnectionClosed()
		if closeErr := conn.Close("session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "conn_id", connID)
		}
	}()

	h.readLoop(r.Context(), conn)
	slog.Info("Connection ended", "conn_id", connID, "user_id", conn.Identity())
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

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *Conn) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "conn_id", conn.ID())
			} else {
				slog.Warn("WebSocket read error", "error", err, "conn_id", conn.ID())
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed frame", "conn_id", conn.ID(), "error", err)
			continue
		}
		h.dispatch(ctx, conn, msg)
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, conn *Conn, msg inMessage) {
	switch msg.Type {
	case typeRegister:
		h.register(ctx, conn, msg)
	case typeLogin:
		h.login(ctx, conn, msg)
	case typeLogout:
		h.logout(conn)
		h.reply(ctx, conn, authResponse{Type: typeLogoutResponse, Success: true, Message: "Logged out successfully"})
	case typeStart:
		h.start(ctx, conn)
	case typeCommand:
		// The legacy client sends "start" as an ordinary command.
		if strings.EqualFold(strings.TrimSpace(msg.Text), typeStart) {
			h.start(ctx, conn)
			return
		}
		if err := h.orch.Command(ctx, conn.Identity(), msg.Text, conn); err != nil {
			slog.Debug("Command not executed", "conn_id", conn.ID(), "user_id", conn.Identity(), "error", err)
		}
	case typePing:
		h.reply(ctx, conn, outMessage{Type: typePong})
	default:
		slog.Debug("Ignoring unknown frame type", "conn_id", conn.ID(), "type", msg.Type)
	}
}

func (h *WebSocketHandler) start(ctx context.Context, conn *Conn) {
	if err := h.orch.Start(ctx, conn.Identity(), conn); err != nil {
		slog.Debug("Start not executed", "conn_id", conn.ID(), "user_id", conn.Identity(), "error", err)
	}
}

func (h *WebSocketHandler) register(ctx context.Context, conn *Conn, msg inMessage) {
	resp := authResponse{Type: typeRegisterResponse}
	_, err := h.auth.Register(ctx, msg.Username, msg.Password)
	switch {
	case err == nil:
		resp.Success, resp.Message = true, "Registration successful"
	case errors.Is(err, domain.ErrUserExists):
		resp.Message = "Username already exists"
	case errors.Is(err, domain.ErrInvalidUsername):
		resp.Message = "Invalid username. Use letters, digits, dot, dash or underscore."
	case errors.Is(err, auth.ErrPasswordRequired):
		resp.Message = "Password required"
	case errors.Is(err, auth.ErrPasswordTooLong):
		resp.Message = "Password too long"
	default:
		slog.Error("Registration failed", "conn_id", conn.ID(), "error", err)
		resp.Message = "Registration failed"
	}
	h.reply(ctx, conn, resp)
}

func (h *WebSocketHandler) login(ctx context.Context, conn *Conn, msg inMessage) {
	resp := authResponse{Type: typeLoginResponse}
	user, err := h.auth.Login(ctx, msg.Username, msg.Password)
	switch {
	case err == nil:
		if prev := conn.setIdentity(user.Username); prev != "" {
			h.conns.Unregister(prev, conn.ID(), conn)
		}
		h.conns.Register(user.Username, conn.ID(), conn)
		resp.Success, resp.Message = true, "Login successful"
	case errors.Is(err, domain.ErrInvalidCredentials):
		resp.Message = "Invalid credentials"
	default:
		slog.Error("Login failed", "conn_id", conn.ID(), "error", err)
		resp.Message = "Login failed"
	}
	h.reply(ctx, conn, resp)
}

func (h *WebSocketHandler) logout(conn *Conn) {
	if prev := conn.setIdentity(""); prev != "" {
		h.conns.Unregister(prev, conn.ID(), conn)
	}
}

func (h *WebSocketHandler) reply(ctx context.Context, conn *Conn, v any) {
	if err := conn.writeJSON(ctx, v); err != nil {
		slog.Debug("Failed to send reply", "conn_id", conn.ID(), "error", err)
	}
}
