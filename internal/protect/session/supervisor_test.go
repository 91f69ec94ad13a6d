package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/protecttest"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeConn is an in-memory update channel.
type fakeConn struct {
	msgs     chan []byte
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	deadline time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case m := <-c.msgs:
		return 2, m, nil
	case <-c.closed:
		return 0, nil, io.EOF
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out scripted results, then fresh connections.
type fakeDialer struct {
	mu      sync.Mutex
	script  []error
	conns   []*fakeConn
	cursors []string
}

func (d *fakeDialer) dial(_ context.Context, lastUpdateID string) (session.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursors = append(d.cursors, lastUpdateID)
	if len(d.script) > 0 {
		err := d.script[0]
		d.script = d.script[1:]
		if err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) then(errs ...error) {
	d.mu.Lock()
	d.script = append(d.script, errs...)
	d.mu.Unlock()
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAuth) Login(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

func (a *fakeAuth) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func fastConfig() session.Config {
	return session.Config{
		IdleTimeout:  time.Second,
		HealthyAfter: time.Hour,
		Backoff:      session.BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	}
}

func next(t *testing.T, s *session.Supervisor) session.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return session.Event{}
}

func expect(t *testing.T, s *session.Supervisor, kind session.EventKind) session.Event {
	t.Helper()
	ev := next(t, s)
	if ev.Kind != kind {
		t.Fatalf("event = %v (err %v), want %v", ev.Kind, ev.Err, kind)
	}
	return ev
}

func TestSupervisorDeliversFrames(t *testing.T) {
	d := &fakeDialer{}
	s := session.New(fastConfig(), d.dial, nil, func() string { return "rev-7" })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	up := expect(t, s, session.EventUp)
	if up.Epoch != 1 || up.LinkID == "" {
		t.Errorf("EventUp = %+v, want epoch 1 with link id", up)
	}

	d.conn(0).msgs <- []byte("a")
	d.conn(0).msgs <- []byte{}
	for _, want := range []string{"a", ""} {
		ev := expect(t, s, session.EventFrame)
		if string(ev.Data) != want || ev.Epoch != 1 {
			t.Errorf("EventFrame = %q epoch %d, want %q epoch 1", ev.Data, ev.Epoch, want)
		}
	}
	if d.cursors[0] != "rev-7" {
		t.Errorf("dial cursor = %q, want rev-7", d.cursors[0])
	}
	if got := s.Stats().Frames; got != 2 {
		t.Errorf("Stats().Frames = %d, want 2", got)
	}
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	cursor := "rev-1"
	var mu sync.Mutex
	s := session.New(fastConfig(), d.dial, nil, func() string {
		mu.Lock()
		defer mu.Unlock()
		return cursor
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, s, session.EventUp)

	mu.Lock()
	cursor = "rev-2"
	mu.Unlock()
	d.then(fmt.Errorf("%w: refused", nvrapi.ErrTransport), fmt.Errorf("%w: refused", nvrapi.ErrTransport))
	d.conn(0).Close() //nolint:errcheck

	down := expect(t, s, session.EventDown)
	if down.Epoch != 1 || !errors.Is(down.Err, io.EOF) {
		t.Errorf("EventDown = %+v, want epoch 1 with EOF", down)
	}
	up := expect(t, s, session.EventUp)
	if up.Epoch != 2 {
		t.Errorf("EventUp epoch = %d, want 2", up.Epoch)
	}

	st := s.Stats()
	if st.Connects != 2 || st.Disconnects != 1 || st.DialErrors != 2 {
		t.Errorf("Stats() = %+v, want 2 connects, 1 disconnect, 2 dial errors", st)
	}
	d.mu.Lock()
	last := d.cursors[len(d.cursors)-1]
	d.mu.Unlock()
	if last != "rev-2" {
		t.Errorf("reconnect cursor = %q, want rev-2", last)
	}
}

func TestSupervisorIdleTimeout(t *testing.T) {
	d := &fakeDialer{}
	cfg := fastConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	s := session.New(cfg, d.dial, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, s, session.EventUp)

	down := expect(t, s, session.EventDown)
	if !errors.Is(down.Err, session.ErrIdle) {
		t.Errorf("EventDown.Err = %v, want ErrIdle", down.Err)
	}
	if !d.conn(0).isClosed() {
		t.Error("idle connection not closed")
	}
}

func TestSupervisorAuthRefresh(t *testing.T) {
	tests := []struct {
		name      string
		script    []error
		loginErr  error
		wantErr   error
		wantFatal bool
		wantLogin int
	}{
		{
			name:      "refresh succeeds",
			script:    []error{nvrapi.ErrAuth},
			wantLogin: 1,
		},
		{
			name:      "rejected after refresh",
			script:    []error{nvrapi.ErrAuth, nvrapi.ErrAuth},
			wantErr:   nvrapi.ErrAuth,
			wantFatal: true,
			wantLogin: 1,
		},
		{
			name:      "login rejected",
			script:    []error{nvrapi.ErrAuth},
			loginErr:  fmt.Errorf("%w: status 401", nvrapi.ErrAuth),
			wantErr:   nvrapi.ErrAuth,
			wantFatal: true,
			wantLogin: 1,
		},
		{
			name:      "login unreachable",
			script:    []error{nvrapi.ErrAuth},
			loginErr:  fmt.Errorf("%w: refused", nvrapi.ErrTransport),
			wantErr:   nvrapi.ErrTransport,
			wantLogin: 1,
		},
		{
			name:      "transport error",
			script:    []error{nvrapi.ErrTransport},
			wantErr:   nvrapi.ErrTransport,
			wantLogin: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{script: tt.script}
			auth := &fakeAuth{err: tt.loginErr}
			s := session.New(fastConfig(), d.dial, auth, nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Start() error = %v", err)
				}
				expect(t, s, session.EventUp)
			} else {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Start() error = %v, want %v", err, tt.wantErr)
				}
				if got := errors.Is(err, session.ErrFatal); got != tt.wantFatal {
					t.Errorf("errors.Is(err, ErrFatal) = %v, want %v", got, tt.wantFatal)
				}
				if _, ok := <-s.Events(); ok {
					t.Error("events channel open after failed Start")
				}
			}
			if got := auth.count(); got != tt.wantLogin {
				t.Errorf("Login calls = %d, want %d", got, tt.wantLogin)
			}
		})
	}
}

func TestSupervisorFatalOnReconnect(t *testing.T) {
	d := &fakeDialer{}
	auth := &fakeAuth{}
	s := session.New(fastConfig(), d.dial, auth, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, s, session.EventUp)

	d.then(nvrapi.ErrAuth, nvrapi.ErrAuth)
	d.conn(0).Close() //nolint:errcheck
	expect(t, s, session.EventDown)

	fatal := expect(t, s, session.EventFatal)
	if !errors.Is(fatal.Err, session.ErrFatal) || !errors.Is(fatal.Err, nvrapi.ErrAuth) {
		t.Errorf("EventFatal.Err = %v, want ErrFatal wrapping ErrAuth", fatal.Err)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel open after EventFatal")
	}
	if got := auth.count(); got != 1 {
		t.Errorf("Login calls = %d, want exactly 1", got)
	}
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	d := &fakeDialer{}
	s := session.New(fastConfig(), d.dial, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, s, session.EventUp)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if !d.conn(0).isClosed() {
		t.Error("connection not closed on cancel")
	}
	for ev := range s.Events() {
		if ev.Kind == session.EventDown || ev.Kind == session.EventFatal {
			t.Errorf("unexpected %v after cancel", ev.Kind)
		}
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	d := &fakeDialer{}
	s := session.New(fastConfig(), d.dial, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}
}

func TestSupervisorAgainstNVR(t *testing.T) {
	nvr := protecttest.NewNVR(t, protecttest.NewDoc("rev-1").JSON())
	client, err := nvrapi.New(nvrapi.Config{BaseURL: nvr.URL(), Username: protecttest.Username, Password: protecttest.Password})
	if err != nil {
		t.Fatalf("nvrapi.New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	dial := func(ctx context.Context, id string) (session.Conn, error) {
		conn, err := client.DialUpdates(ctx, id)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	s := session.New(fastConfig(), dial, client, func() string { return "rev-1" })
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, s, session.EventUp)
	nvr.WaitConnected(t, 2*time.Second)

	nvr.Push([]byte("hello"))
	if ev := expect(t, s, session.EventFrame); string(ev.Data) != "hello" {
		t.Errorf("frame = %q, want hello", ev.Data)
	}

	// Expired session: the reconnect must log in again exactly once.
	nvr.ExpireTokens()
	nvr.DropConnections()
	expect(t, s, session.EventDown)
	expect(t, s, session.EventUp)
	nvr.WaitConnected(t, 2*time.Second)

	if got := nvr.LoginCalls(); got != 2 {
		t.Errorf("LoginCalls() = %d, want 2", got)
	}
	nvr.Push([]byte("again"))
	if ev := expect(t, s, session.EventFrame); string(ev.Data) != "again" || ev.Epoch != 2 {
		t.Errorf("frame = %q epoch %d, want again epoch 2", ev.Data, ev.Epoch)
	}
}
