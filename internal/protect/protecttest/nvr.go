// Package protecttest provides a fake Protect NVR for tests.
//
// The fake serves the login, bootstrap and update-channel endpoints over an
// httptest server, lets tests push raw update messages to every connected
// WebSocket, and can inject authentication and transport failures.
package protecttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Test credentials accepted by the fake.
const (
	Username = "admin"
	Password = "hunter2"
)

var signingKey = []byte("protecttest")

// NVR is a fake Protect NVR.
type NVR struct {
	Server *httptest.Server

	mu            sync.Mutex
	bootstrap     []byte
	tokens        map[string]bool
	conns         map[*websocket.Conn]struct{}
	dialIDs       []string
	failBootstrap int
	rejectDials   int
	rejectLogins  bool
	tokenTTL      time.Duration

	loginCalls     atomic.Int32
	bootstrapCalls atomic.Int32
	dials          atomic.Int32

	connected chan struct{}
	upgrader  websocket.Upgrader
}

// NewNVR starts a fake NVR serving bootstrap. It is closed by t.Cleanup.
func NewNVR(t testing.TB, bootstrap []byte) *NVR {
	t.Helper()
	n := &NVR{
		bootstrap: bootstrap,
		tokens:    make(map[string]bool),
		conns:     make(map[*websocket.Conn]struct{}),
		connected: make(chan struct{}, 64),
		tokenTTL:  time.Hour,
	}

	r := chi.NewRouter()
	r.Post("/api/auth/login", n.handleLogin)
	r.Get("/proxy/protect/api/bootstrap", n.handleBootstrap)
	r.Get("/proxy/protect/ws/updates", n.handleUpdates)

	n.Server = httptest.NewServer(r)
	t.Cleanup(n.Close)
	return n
}

// URL returns the base URL of the fake.
func (n *NVR) URL() string {
	return n.Server.URL
}

// Close drops every connection and stops the server.
func (n *NVR) Close() {
	n.DropConnections()
	n.Server.Close()
}

func (n *NVR) handleLogin(w http.ResponseWriter, r *http.Request) {
	n.loginCalls.Add(1)

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	reject := n.rejectLogins
	ttl := n.tokenTTL
	n.mu.Unlock()

	if reject || body.Username != Username || body.Password != Password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   body.Username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}).SignedString(signingKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	n.mu.Lock()
	n.tokens[token] = true
	n.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "TOKEN", Value: token, Path: "/", HttpOnly: true})
	w.Header().Set("X-CSRF-Token", uuid.NewString())
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"username":"admin"}`))
}

func (n *NVR) authorized(r *http.Request) bool {
	ck, err := r.Cookie("TOKEN")
	if err != nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[ck.Value]
}

func (n *NVR) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	n.bootstrapCalls.Add(1)
	if !n.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	n.mu.Lock()
	fail := n.failBootstrap > 0
	if fail {
		n.failBootstrap--
	}
	body := n.bootstrap
	n.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (n *NVR) handleUpdates(w http.ResponseWriter, r *http.Request) {
	n.dials.Add(1)
	if !n.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	n.mu.Lock()
	reject := n.rejectDials > 0
	if reject {
		n.rejectDials--
	}
	n.dialIDs = append(n.dialIDs, r.URL.Query().Get("lastUpdateId"))
	n.mu.Unlock()

	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()

	select {
	case n.connected <- struct{}{}:
	default:
	}

	// Drain client frames until the connection goes away.
	go func() {
		defer func() {
			n.mu.Lock()
			delete(n.conns, conn)
			n.mu.Unlock()
			conn.Close() //nolint:errcheck,gosec // test server
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// SetBootstrap replaces the document served by the bootstrap endpoint.
func (n *NVR) SetBootstrap(b []byte) {
	n.mu.Lock()
	n.bootstrap = b
	n.mu.Unlock()
}

// Push sends one binary message to every connected update channel and
// returns how many connections received it.
func (n *NVR) Push(msg []byte) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	sent := 0
	for conn := range n.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err == nil {
			sent++
		}
	}
	return sent
}

// DropConnections closes every update channel from the server side.
func (n *NVR) DropConnections() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn := range n.conns {
		conn.Close() //nolint:errcheck,gosec // test server
		delete(n.conns, conn)
	}
}

// ExpireTokens invalidates every issued session token.
func (n *NVR) ExpireTokens() {
	n.mu.Lock()
	n.tokens = make(map[string]bool)
	n.mu.Unlock()
}

// RejectLogins makes every login fail with 401 while set.
func (n *NVR) RejectLogins(reject bool) {
	n.mu.Lock()
	n.rejectLogins = reject
	n.mu.Unlock()
}

// FailNextBootstraps makes the next k bootstrap requests return 503.
func (n *NVR) FailNextBootstraps(k int) {
	n.mu.Lock()
	n.failBootstrap = k
	n.mu.Unlock()
}

// RejectNextDials makes the next k update-channel handshakes return 401
// even with a valid token.
func (n *NVR) RejectNextDials(k int) {
	n.mu.Lock()
	n.rejectDials = k
	n.mu.Unlock()
}

// SetTokenTTL sets the lifetime of tokens issued by later logins.
func (n *NVR) SetTokenTTL(ttl time.Duration) {
	n.mu.Lock()
	n.tokenTTL = ttl
	n.mu.Unlock()
}

// WaitConnected blocks until an update channel connects.
func (n *NVR) WaitConnected(t testing.TB, timeout time.Duration) {
	t.Helper()
	select {
	case <-n.connected:
	case <-time.After(timeout):
		t.Fatalf("no update channel connected within %v", timeout)
	}
}

// Connections returns the number of open update channels.
func (n *NVR) Connections() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// DialUpdateIDs returns the lastUpdateId query value of every dial so far.
func (n *NVR) DialUpdateIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dialIDs...)
}

// LoginCalls returns the number of login requests served.
func (n *NVR) LoginCalls() int { return int(n.loginCalls.Load()) }

// BootstrapCalls returns the number of bootstrap requests served.
func (n *NVR) BootstrapCalls() int { return int(n.bootstrapCalls.Load()) }

// Dials returns the number of update-channel handshakes attempted.
func (n *NVR) Dials() int { return int(n.dials.Load()) }
