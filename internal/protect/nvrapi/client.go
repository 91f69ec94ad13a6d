package nvrapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// Endpoint paths on the NVR.
const (
	LoginPath     = "/api/auth/login"
	BootstrapPath = "/proxy/protect/api/bootstrap"
	UpdatesPath   = "/proxy/protect/ws/updates"
)

// Session cookie and header names.
const (
	tokenCookie   = "TOKEN"
	csrfHeader    = "X-CSRF-Token"
	csrfHeaderNew = "X-Updated-CSRF-Token"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBootstrapSize      = 64 << 20
	expirySkew            = 30 * time.Second
)

// Config holds NVR connection settings.
type Config struct {
	// BaseURL is the NVR root, e.g. "https://192.168.1.1".
	BaseURL string

	Username string
	Password string

	// VerifyTLS enables certificate verification. Protect consoles ship
	// self-signed certificates, so this is usually false on a LAN.
	VerifyTLS bool

	// RequestTimeout bounds each HTTP request and the WebSocket handshake.
	RequestTimeout time.Duration
}

// Credentials is an authenticated NVR session.
type Credentials struct {
	Token  string
	CSRF   string
	Expiry time.Time
}

// Valid reports whether the credentials can be used at now.
func (c Credentials) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Add(expirySkew).Before(c.Expiry)
}

// Client talks to one NVR.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	base     *url.URL
	username string
	password string

	http   *http.Client
	dialer *websocket.Dialer

	mu    sync.RWMutex
	creds Credentials

	now func() time.Time
}

// New creates a Client. It does not contact the NVR.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %w", ErrInvalidConfig, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: base url scheme %q", ErrInvalidConfig, base.Scheme)
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // self-signed NVR certificates
		MinVersion:         tls.VersionTLS12,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Transport: transport, Timeout: timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			TLSClientConfig:  tlsCfg,
		},
		now: time.Now,
	}, nil
}

// Credentials returns the current session.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Client) validCredentials() (Credentials, error) {
	creds := c.Credentials()
	if !creds.Valid(c.now()) {
		return Credentials{}, fmt.Errorf("%w: no valid session token", ErrAuth)
	}
	return creds, nil
}

func (c *Client) clearCredentials() {
	c.mu.Lock()
	c.creds = Credentials{}
	c.mu.Unlock()
}

// Login authenticates and stores the session token.
//
// Returns:
//   - error: ErrAuth if the NVR rejects the username/password,
//     ErrTransport otherwise
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"username":   c.username,
		"password":   c.password,
		"rememberMe": true,
	})
	if err != nil {
		return fmt.Errorf("%w: encode login: %w", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(LoginPath, nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login: %w", ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	_, _ = io.Copy(io.Discard, resp.Body)

	if err := statusError("login", resp.StatusCode); err != nil {
		return err
	}

	var token string
	for _, ck := range resp.Cookies() {
		if ck.Name == tokenCookie {
			token = ck.Value
		}
	}
	if token == "" {
		return fmt.Errorf("%w: login response without %s cookie", ErrAuth, tokenCookie)
	}

	creds := Credentials{
		Token:  token,
		CSRF:   resp.Header.Get(csrfHeader),
		Expiry: tokenExpiry(token),
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return nil
}

// tokenExpiry reads the exp claim of a JWT session token without verifying
// its signature. Tokens that are not JWTs have no known expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// FetchBootstrap performs the full-state request.
//
// Returns:
//   - []byte: raw bootstrap JSON
//   - error: ErrAuth when a Login is needed, ErrTransport otherwise
func (c *Client) FetchBootstrap(ctx context.Context) ([]byte, error) {
	creds, err := c.validCredentials()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(BootstrapPath, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.authorize(req.Header, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap: %w", ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	if err := statusError("bootstrap", resp.StatusCode); err != nil {
		if isAuthStatus(resp.StatusCode) {
			c.clearCredentials()
		}
		return nil, err
	}
	c.updateCSRF(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBootstrapSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read bootstrap: %w", ErrTransport, err)
	}
	if len(body) > maxBootstrapSize {
		return nil, fmt.Errorf("%w: bootstrap exceeds %d bytes", ErrTransport, maxBootstrapSize)
	}
	return body, nil
}

// DialUpdates opens the update channel.
//
// Parameters:
//   - lastUpdateID: revision the caller already holds; empty for none
//
// Returns:
//   - *websocket.Conn: open connection; the caller owns and closes it
//   - error: ErrAuth when the handshake is refused with 401/403 or no valid
//     session exists, ErrTransport otherwise
func (c *Client) DialUpdates(ctx context.Context, lastUpdateID string) (*websocket.Conn, error) {
	creds, err := c.validCredentials()
	if err != nil {
		return nil, err
	}

	var q url.Values
	if lastUpdateID != "" {
		q = url.Values{"lastUpdateId": {lastUpdateID}}
	}
	wsURL := c.endpoint(UpdatesPath, q)
	wsURL = "ws" + strings.TrimPrefix(wsURL, "http")

	header := http.Header{}
	c.authorize(header, creds)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck,gosec // handshake body is unused
	}
	if err != nil {
		if resp != nil && isAuthStatus(resp.StatusCode) {
			c.clearCredentials()
			return nil, fmt.Errorf("%w: updates handshake: status %d", ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: updates: %w", ErrTransport, err)
	}
	return conn, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) authorize(h http.Header, creds Credentials) {
	h.Set("Cookie", (&http.Cookie{Name: tokenCookie, Value: creds.Token}).String())
	if creds.CSRF != "" {
		h.Set(csrfHeader, creds.CSRF)
	}
}

func (c *Client) updateCSRF(h http.Header) {
	token := h.Get(csrfHeaderNew)
	if token == "" {
		return
	}
	c.mu.Lock()
	c.creds.CSRF = token
	c.mu.Unlock()
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func statusError(op string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case isAuthStatus(code):
		return fmt.Errorf("%w: %s: status %d", ErrAuth, op, code)
	default:
		return fmt.Errorf("%w: %s: status %d", ErrTransport, op, code)
	}
}
