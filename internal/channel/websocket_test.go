package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/shsh-runner/internal/domain"
	"github.com/ashureev/shsh-runner/internal/identity"
	"github.com/ashureev/shsh-runner/internal/orchestrator"
)

type fakeAuth struct {
	mu    sync.Mutex
	users map[string]string
}

func (f *fakeAuth) Register(_ context.Context, username, password string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !domain.ValidUsername(username) {
		return nil, domain.ErrInvalidUsername
	}
	if _, ok := f.users[username]; ok {
		return nil, domain.ErrUserExists
	}
	f.users[username] = password
	return &domain.User{Username: username}, nil
}

func (f *fakeAuth) Login(_ context.Context, username, password string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pw, ok := f.users[username]; !ok || pw != password {
		return nil, domain.ErrInvalidCredentials
	}
	return &domain.User{Username: username}, nil
}

type call struct {
	kind     string
	identity string
	text     string
}

type fakeOrch struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeOrch) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeOrch) Start(ctx context.Context, id string, sink orchestrator.Sink) error {
	f.record(call{kind: "start", identity: id})
	if id == "" {
		_ = sink.Send(ctx, "login required")
		return domain.ErrAuthRequired
	}
	return sink.Send(ctx, "welcome "+id)
}

func (f *fakeOrch) Command(ctx context.Context, id, text string, sink orchestrator.Sink) error {
	f.record(call{kind: "command", identity: id, text: text})
	if id == "" {
		_ = sink.Send(ctx, "login required")
		return domain.ErrAuthRequired
	}
	return sink.Send(ctx, id+" ran "+text)
}

type frame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type harness struct {
	conns *ConnManager
	orch  *fakeOrch
	url   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conns := NewConnManager()
	orch := &fakeOrch{}
	h := NewWebSocketHandler(&fakeAuth{users: map[string]string{}}, orch, conns, nil, "http://allowed.example", false)
	srv := httptest.NewServer(identity.Middleware(h))
	t.Cleanup(srv.Close)
	return &harness{conns: conns, orch: orch, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, h.url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func roundTrip(t *testing.T, c *websocket.Conn, v any) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, v); err != nil {
		t.Fatalf("write: %v", err)
	}
	var f frame
	if err := wsjson.Read(ctx, c, &f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestRegisterLoginStartCommand(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	got := roundTrip(t, c, map[string]string{"type": "register", "username": "alice", "password": "pw"})
	if got.Type != typeRegisterResponse || !got.Success || got.Message != "Registration successful" {
		t.Fatalf("register response = %+v", got)
	}

	got = roundTrip(t, c, map[string]string{"type": "register", "username": "alice", "password": "pw"})
	if got.Success || got.Message != "Username already exists" {
		t.Fatalf("duplicate register response = %+v", got)
	}

	got = roundTrip(t, c, map[string]string{"type": "login", "username": "alice", "password": "nope"})
	if got.Type != typeLoginResponse || got.Success || got.Message != "Invalid credentials" {
		t.Fatalf("bad login response = %+v", got)
	}

	got = roundTrip(t, c, map[string]string{"type": "login", "username": "alice", "password": "pw"})
	if !got.Success || got.Message != "Login successful" {
		t.Fatalf("login response = %+v", got)
	}
	if n := h.conns.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}

	got = roundTrip(t, c, map[string]string{"type": "start"})
	if got.Type != typeMessage || got.Text != "welcome alice" {
		t.Fatalf("start reply = %+v", got)
	}

	got = roundTrip(t, c, map[string]string{"type": "command", "text": "list"})
	if got.Text != "alice ran list" {
		t.Fatalf("command reply = %+v", got)
	}
}

func TestCommandStartRoutesToStart(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	roundTrip(t, c, map[string]string{"type": "register", "username": "bob", "password": "pw"})
	roundTrip(t, c, map[string]string{"type": "login", "username": "bob", "password": "pw"})

	got := roundTrip(t, c, map[string]string{"type": "command", "text": " Start "})
	if got.Text != "welcome bob" {
		t.Fatalf("reply = %+v, want welcome", got)
	}
}

func TestUnauthenticatedCommand(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	got := roundTrip(t, c, map[string]string{"type": "command", "text": "list"})
	if got.Text != "login required" {
		t.Fatalf("reply = %+v", got)
	}
	h.orch.mu.Lock()
	defer h.orch.mu.Unlock()
	if len(h.orch.calls) != 1 || h.orch.calls[0].identity != "" {
		t.Fatalf("calls = %+v, want one anonymous command", h.orch.calls)
	}
}

func TestLogoutClearsIdentity(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	roundTrip(t, c, map[string]string{"type": "register", "username": "carol", "password": "pw"})
	roundTrip(t, c, map[string]string{"type": "login", "username": "carol", "password": "pw"})

	got := roundTrip(t, c, map[string]string{"type": "logout"})
	if got.Type != typeLogoutResponse || !got.Success || got.Message != "Logged out successfully" {
		t.Fatalf("logout response = %+v", got)
	}
	if n := h.conns.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0", n)
	}

	got = roundTrip(t, c, map[string]string{"type": "command", "text": "list"})
	if got.Text != "login required" {
		t.Fatalf("reply after logout = %+v", got)
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	got := roundTrip(t, c, map[string]string{"type": "ping"})
	if got.Type != typePong {
		t.Fatalf("reply = %+v, want pong", got)
	}
}

func TestMalformedFrameIgnored(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := roundTrip(t, c, map[string]string{"type": "ping"})
	if got.Type != typePong {
		t.Fatalf("connection should survive malformed frames, got %+v", got)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	roundTrip(t, c, map[string]string{"type": "register", "username": "dave", "password": "pw"})
	roundTrip(t, c, map[string]string{"type": "login", "username": "dave", "password": "pw"})
	_ = c.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && h.conns.Len() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if n := h.conns.Len(); n != 0 {
		t.Fatalf("Len() = %d after disconnect, want 0", n)
	}
}

func TestOriginRejected(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, h.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	if err == nil {
		t.Fatal("expected dial to fail for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	conn := &Conn{id: "x", closed: true}
	if err := conn.Send(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() error = %v, want ErrClosed", err)
	}
}
