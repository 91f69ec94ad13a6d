package nvrapi_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/protecttest"
)

func newClient(t *testing.T, nvr *protecttest.NVR, password string) *nvrapi.Client {
	t.Helper()
	c, err := nvrapi.New(nvrapi.Config{
		BaseURL:        nvr.URL(),
		Username:       protecttest.Username,
		Password:       password,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  nvrapi.Config
	}{
		{"missing base url", nvrapi.Config{Username: "u"}},
		{"bad scheme", nvrapi.Config{BaseURL: "ftp://nvr", Username: "u"}},
		{"missing username", nvrapi.Config{BaseURL: "https://nvr"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := nvrapi.New(tt.cfg)
			if !errors.Is(err, nvrapi.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestCredentialsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		creds nvrapi.Credentials
		want  bool
	}{
		{"empty", nvrapi.Credentials{}, false},
		{"no expiry", nvrapi.Credentials{Token: "t"}, true},
		{"future", nvrapi.Credentials{Token: "t", Expiry: now.Add(time.Hour)}, true},
		{"inside skew", nvrapi.Credentials{Token: "t", Expiry: now.Add(10 * time.Second)}, false},
		{"past", nvrapi.Credentials{Token: "t", Expiry: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoginAndFetchBootstrap(t *testing.T) {
	doc := protecttest.NewDoc("rev-1").JSON()
	nvr := protecttest.NewNVR(t, doc)
	c := newClient(t, nvr, protecttest.Password)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	creds := c.Credentials()
	if creds.Token == "" || creds.CSRF == "" {
		t.Fatalf("Credentials() = %+v, want token and csrf", creds)
	}
	if until := time.Until(creds.Expiry); until < 50*time.Minute || until > 70*time.Minute {
		t.Errorf("token expiry in %v, want about 1h", until)
	}

	body, err := c.FetchBootstrap(ctx)
	if err != nil {
		t.Fatalf("FetchBootstrap() error = %v", err)
	}
	if !bytes.Equal(body, doc) {
		t.Errorf("FetchBootstrap() body mismatch")
	}
	if got := nvr.BootstrapCalls(); got != 1 {
		t.Errorf("BootstrapCalls() = %d, want 1", got)
	}
}

func TestLoginRejected(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, "wrong")

	err := c.Login(context.Background())
	if !errors.Is(err, nvrapi.ErrAuth) {
		t.Fatalf("Login() error = %v, want ErrAuth", err)
	}
	if c.Credentials().Token != "" {
		t.Error("rejected login stored a token")
	}
}

func TestFetchBootstrapWithoutLogin(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, protecttest.Password)

	_, err := c.FetchBootstrap(context.Background())
	if !errors.Is(err, nvrapi.ErrAuth) {
		t.Fatalf("FetchBootstrap() error = %v, want ErrAuth", err)
	}
	if got := nvr.BootstrapCalls(); got != 0 {
		t.Errorf("BootstrapCalls() = %d, want 0 without a session", got)
	}
}

func TestFetchBootstrapExpiredSession(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, protecttest.Password)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	nvr.ExpireTokens()

	_, err := c.FetchBootstrap(ctx)
	if !errors.Is(err, nvrapi.ErrAuth) {
		t.Fatalf("FetchBootstrap() error = %v, want ErrAuth", err)
	}
	if c.Credentials().Token != "" {
		t.Error("credentials not cleared after 401")
	}
}

func TestFetchBootstrapServerError(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, protecttest.Password)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	nvr.FailNextBootstraps(1)

	_, err := c.FetchBootstrap(ctx)
	if !errors.Is(err, nvrapi.ErrTransport) {
		t.Fatalf("FetchBootstrap() error = %v, want ErrTransport", err)
	}
	if errors.Is(err, nvrapi.ErrAuth) {
		t.Error("server error reported as ErrAuth")
	}
	if c.Credentials().Token == "" {
		t.Error("credentials cleared after a non-auth failure")
	}
}

func TestFetchBootstrapUnreachable(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, protecttest.Password)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	nvr.Close()

	_, err := c.FetchBootstrap(ctx)
	if !errors.Is(err, nvrapi.ErrTransport) {
		t.Fatalf("FetchBootstrap() error = %v, want ErrTransport", err)
	}
}

func TestDialUpdates(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, protecttest.Password)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	conn, err := c.DialUpdates(ctx, "rev-1")
	if err != nil {
		t.Fatalf("DialUpdates() error = %v", err)
	}
	defer conn.Close()
	nvr.WaitConnected(t, 2*time.Second)

	ids := nvr.DialUpdateIDs()
	if len(ids) != 1 || ids[0] != "rev-1" {
		t.Errorf("DialUpdateIDs() = %v, want [rev-1]", ids)
	}

	msg := []byte{1, 2, 3}
	if sent := nvr.Push(msg); sent != 1 {
		t.Fatalf("Push() reached %d connections, want 1", sent)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("ReadMessage() = %v, want %v", got, msg)
	}
}

func TestDialUpdatesRejected(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	c := newClient(t, nvr, protecttest.Password)
	ctx := context.Background()

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	nvr.RejectNextDials(1)

	_, err := c.DialUpdates(ctx, "")
	if !errors.Is(err, nvrapi.ErrAuth) {
		t.Fatalf("DialUpdates() error = %v, want ErrAuth", err)
	}
	if ids := nvr.DialUpdateIDs(); len(ids) != 1 || ids[0] != "" {
		t.Errorf("DialUpdateIDs() = %q, want one empty id", ids)
	}
}
