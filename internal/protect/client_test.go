package protect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/protecttest"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/resync"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
)

// fakeSource feeds scripted link events to the writer.
type fakeSource struct {
	startErr error
	events   chan session.Event
	epoch    uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan session.Event, 64)}
}

func (s *fakeSource) Start(context.Context) error  { return s.startErr }
func (s *fakeSource) Events() <-chan session.Event { return s.events }
func (s *fakeSource) Wait()                        {}

func (s *fakeSource) up() {
	s.epoch++
	s.events <- session.Event{Kind: session.EventUp, Epoch: s.epoch}
}

func (s *fakeSource) frame(data []byte) {
	s.events <- session.Event{Kind: session.EventFrame, Epoch: s.epoch, Data: data}
}

func (s *fakeSource) down(err error) {
	s.events <- session.Event{Kind: session.EventDown, Epoch: s.epoch, Err: err}
}

type loadReply struct {
	snap *entity.Snapshot
	err  error
}

// fakeLoader blocks each Load until a reply is queued.
type fakeLoader struct {
	mu      sync.Mutex
	calls   int
	replies chan loadReply
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{replies: make(chan loadReply, 16)}
}

func (f *fakeLoader) Load(ctx context.Context) (*entity.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case r := <-f.replies:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeLoader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLoader) reply(t *testing.T, doc *protecttest.Doc) {
	t.Helper()
	snap, err := entity.ParseBootstrap(doc.JSON(), time.Now())
	if err != nil {
		t.Fatalf("ParseBootstrap() error = %v", err)
	}
	f.replies <- loadReply{snap: snap}
}

type memStore struct {
	mu    sync.Mutex
	snap  *entity.Snapshot
	saves int
}

func (s *memStore) Load(context.Context) (*entity.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.DeepCopy(), nil
}

func (s *memStore) Save(_ context.Context, snap *entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.DeepCopy()
	s.saves++
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func testConfig() Config {
	return Config{
		Resync: ResyncConfig{
			DecodeErrorThreshold: 3,
			DegradedThreshold:    2,
			Backoff:              session.BackoffConfig{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond},
		},
	}
}

func startClient(t *testing.T, cfg Config, opts ...Option) (*Client, *fakeSource, *fakeLoader) {
	t.Helper()
	src := newFakeSource()
	loader := newFakeLoader()
	c := newClient(cfg, src, loader, opts...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c, src, loader
}

// startReady starts a client and installs the default site at rev-1.
func startReady(t *testing.T, cfg Config, opts ...Option) (*Client, *fakeSource, *fakeLoader) {
	t.Helper()
	c, src, loader := startClient(t, cfg, opts...)
	loader.reply(t, protecttest.NewDoc("rev-1"))
	src.up()
	waitReady(t, c)
	return c, src, loader
}

func waitReady(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, c *Client, want cache.LinkState) {
	t.Helper()
	waitFor(t, fmt.Sprintf("link state %s", want), func() bool {
		return c.View().Health().State == want
	})
}

func update(t *testing.T, id, updateID string, fields map[string]any) []byte {
	t.Helper()
	return protecttest.Packet(t, protecttest.Update(entity.ModelCamera, id, updateID, fields))
}

func name(t *testing.T, v cache.View, id string) any {
	t.Helper()
	e, err := v.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return e.Fields["name"]
}

func TestRenameNotifiesOnce(t *testing.T) {
	c, src, _ := startReady(t, testConfig())
	sub := c.View().Subscribe()
	defer sub.Close()

	src.frame(update(t, "cam-1", "rev-2", map[string]any{"name": "Porch"}))

	select {
	case n := <-sub.C():
		if n.Kind != cache.KindMutation || n.ID != "cam-1" || n.Op != entity.OpUpdate {
			t.Fatalf("notification = %+v, want cam-1 update", n)
		}
		if len(n.Changed) != 1 || n.Changed["name"] != "Porch" {
			t.Errorf("Changed = %v, want only name=Porch", n.Changed)
		}
		if got := name(t, c.View(), "cam-1"); got != "Porch" {
			t.Errorf("Get(cam-1).name = %v after notification, want Porch", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	select {
	case n := <-sub.C():
		t.Errorf("unexpected second notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
	if rev := c.View().Revision(); rev.UpdateID != "rev-2" || rev.Seq != 1 {
		t.Errorf("Revision() = %+v, want rev-2 seq 1", rev)
	}
}

func TestControlFramesIgnored(t *testing.T) {
	c, src, _ := startReady(t, testConfig())

	src.frame([]byte{})
	src.frame(update(t, "cam-2", "rev-2", map[string]any{"name": "Shed"}))
	waitFor(t, "rename", func() bool { return name(t, c.View(), "cam-2") == "Shed" })

	st := c.Stats()
	if st.Controls != 1 || st.Frames != 2 {
		t.Errorf("Stats() controls %d frames %d, want 1 and 2", st.Controls, st.Frames)
	}
}

func TestDecodeErrorsTriggerExactlyOneBootstrap(t *testing.T) {
	obs := &countingObserver{}
	c, src, loader := startReady(t, testConfig(), WithObserver(obs))

	bad := []byte{1, 1, 0, 0, 0, 0, 0, 99}
	for range 10 {
		src.frame(bad)
	}
	waitState(t, c, cache.LinkResyncing)
	waitFor(t, "decode errors", func() bool { return c.Stats().DecodeErrors == 10 })
	waitFor(t, "resync load", func() bool { return loader.count() >= 2 })

	if got := loader.count(); got != 2 {
		t.Fatalf("Load calls = %d, want 2 (initial + one resync)", got)
	}
	want := []resync.State{resync.StateResyncing, resync.StateConnected, resync.StateDesynced, resync.StateResyncing}
	if got := obs.states(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	loader.reply(t, protecttest.NewDoc("rev-9"))
	waitState(t, c, cache.LinkConnected)
	if got := loader.count(); got != 2 {
		t.Errorf("Load calls after resync = %d, want 2", got)
	}
	if rev := c.View().Revision(); rev.UpdateID != "rev-9" {
		t.Errorf("Revision().UpdateID = %q, want rev-9", rev.UpdateID)
	}
}

func TestDecodeErrorsBelowThreshold(t *testing.T) {
	c, src, loader := startReady(t, testConfig())

	bad := []byte{1, 1, 0, 0, 0, 0, 0, 99}
	src.frame(bad)
	src.frame(bad)
	src.frame(update(t, "cam-1", "rev-2", map[string]any{"name": "Porch"}))
	src.frame(bad)
	src.frame(bad)
	waitFor(t, "frames", func() bool { return c.Stats().Frames == 5 })

	if got := loader.count(); got != 1 {
		t.Errorf("Load calls = %d, want 1", got)
	}
	if s := c.View().Health().State; s != cache.LinkConnected {
		t.Errorf("state = %s, want connected", s)
	}
}

func TestRejectTriggersResync(t *testing.T) {
	obs := &countingObserver{}
	c, src, loader := startReady(t, testConfig(), WithObserver(obs))

	src.frame(update(t, "cam-404", "rev-2", map[string]any{"name": "Ghost"}))
	waitState(t, c, cache.LinkResyncing)
	if st := c.Stats(); st.Reconciler.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", st.Reconciler.Rejected)
	}

	loader.reply(t, protecttest.NewDoc("rev-3").Add("cameras", map[string]any{"id": "cam-404", "name": "Ghost"}))
	waitState(t, c, cache.LinkConnected)
	if got := name(t, c.View(), "cam-404"); got != "Ghost" {
		t.Errorf("cam-404 name = %v, want Ghost", got)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.rejected != 1 || obs.lastReason != reconcile.ReasonMissing {
		t.Errorf("observer rejected %d (%s), want 1 missing", obs.rejected, obs.lastReason)
	}
	var tos []resync.State
	for _, tr := range obs.transitions {
		tos = append(tos, tr.To)
	}
	want := []resync.State{
		resync.StateResyncing, resync.StateConnected,
		resync.StateDesynced, resync.StateResyncing, resync.StateConnected,
	}
	if fmt.Sprint(tos) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", tos, want)
	}
	if tr := obs.transitions[2]; tr.From != resync.StateConnected {
		t.Errorf("desync transition from %v, want connected", tr.From)
	}
}

func TestBufferedMutationsReplayAfterInstall(t *testing.T) {
	c, src, loader := startReady(t, testConfig())

	// Force a resync, then stream while it is pending.
	src.frame(update(t, "cam-404", "rev-2", map[string]any{"name": "Ghost"}))
	waitState(t, c, cache.LinkResyncing)

	src.frame(update(t, "cam-1", "rev-3", map[string]any{"name": "Porch"}))
	src.frame(update(t, "cam-2", "rev-4", map[string]any{"name": "Shed"}))
	waitFor(t, "buffer", func() bool { return c.Stats().Buffered == 2 })

	// The snapshot already covers rev-3, so only rev-4 is replayed.
	doc := protecttest.NewDoc("rev-3")
	doc.Lists["cameras"][0]["name"] = "Porch"
	loader.reply(t, doc)

	waitState(t, c, cache.LinkConnected)
	waitFor(t, "replay", func() bool { return c.View().Revision().UpdateID == "rev-4" })
	if seq := c.View().Revision().Seq; seq != 3 {
		t.Errorf("Revision().Seq = %d, want 3", seq)
	}
	if got := name(t, c.View(), "cam-2"); got != "Shed" {
		t.Errorf("cam-2 name = %v, want Shed", got)
	}
	if got := name(t, c.View(), "cam-1"); got != "Porch" {
		t.Errorf("cam-1 name = %v, want Porch", got)
	}
	if got := loader.count(); got != 2 {
		t.Errorf("Load calls = %d, want 2", got)
	}
}

// installLog records the attributes of each "snapshot installed" entry.
type installLog struct {
	noopLogger
	mu       sync.Mutex
	installs []map[string]any
}

func (l *installLog) Info(msg string, args ...any) {
	if msg != "snapshot installed" {
		return
	}
	attrs := make(map[string]any)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			attrs[k] = args[i+1]
		}
	}
	l.mu.Lock()
	l.installs = append(l.installs, attrs)
	l.mu.Unlock()
}

func (l *installLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.installs)
}

func (l *installLog) last() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.installs) == 0 {
		return nil
	}
	return l.installs[len(l.installs)-1]
}

func TestReplayStopsAtReject(t *testing.T) {
	logger := &installLog{}
	c, src, loader := startReady(t, testConfig(), WithLogger(logger))

	src.frame(update(t, "cam-404", "rev-2", map[string]any{"name": "Ghost"}))
	waitState(t, c, cache.LinkResyncing)

	src.frame(update(t, "cam-1", "rev-3", map[string]any{"name": "Porch"}))
	src.frame(update(t, "cam-405", "rev-4", map[string]any{"name": "Ghost"}))
	src.frame(update(t, "cam-2", "rev-5", map[string]any{"name": "Shed"}))
	waitFor(t, "buffer", func() bool { return c.Stats().Buffered == 3 })

	loader.reply(t, protecttest.NewDoc("rev-1b"))
	waitFor(t, "third load", func() bool { return loader.count() == 3 })
	waitFor(t, "install log", func() bool { return logger.count() >= 2 })

	attrs := logger.last()
	if attrs["replayed"] != 1 || attrs["requeued"] != 1 {
		t.Errorf("install log = %v, want replayed 1 requeued 1", attrs)
	}
	if got := name(t, c.View(), "cam-1"); got != "Porch" {
		t.Errorf("cam-1 name = %v, want Porch", got)
	}
}

func TestBufferOverflowForcesAnotherResync(t *testing.T) {
	cfg := testConfig()
	cfg.Resync.BufferSize = 1
	c, src, loader := startReady(t, cfg)

	src.frame(update(t, "cam-404", "rev-2", map[string]any{"name": "Ghost"}))
	waitState(t, c, cache.LinkResyncing)

	src.frame(update(t, "cam-1", "rev-3", map[string]any{"name": "A"}))
	src.frame(update(t, "cam-1", "rev-4", map[string]any{"name": "B"}))
	waitFor(t, "overflow", func() bool { return c.Stats().Overflowed == 1 })

	loader.reply(t, protecttest.NewDoc("rev-1b"))
	waitState(t, c, cache.LinkConnected)

	// The next live mutation follows the lost one and exposes the gap.
	src.frame(update(t, "cam-1", "rev-5", map[string]any{"name": "C"}))
	waitState(t, c, cache.LinkResyncing)
	waitFor(t, "third load", func() bool { return loader.count() >= 3 })
	if got := loader.count(); got != 3 {
		t.Errorf("Load calls = %d, want 3", got)
	}

	loader.reply(t, protecttest.NewDoc("rev-6"))
	waitState(t, c, cache.LinkConnected)
}

func TestDisconnectReconnectsAndConverges(t *testing.T) {
	c, src, loader := startReady(t, testConfig())
	sub := c.View().Subscribe()
	defer sub.Close()

	src.down(errors.New("connection reset"))
	waitState(t, c, cache.LinkReconnecting)
	if h := c.View().Health(); !h.Stale || !h.Degraded() {
		t.Errorf("Health() = %+v, want stale", h)
	}

	// Frames of the dead link are ignored.
	src.events <- session.Event{Kind: session.EventFrame, Epoch: 1, Data: update(t, "cam-1", "rev-x", map[string]any{"name": "X"})}

	// The NVR lost cam-2 while we were away.
	doc := protecttest.NewDoc("rev-5")
	doc.Lists["cameras"] = doc.Lists["cameras"][:1]
	loader.reply(t, doc)
	src.up()

	waitState(t, c, cache.LinkConnected)
	if _, err := c.View().Get("cam-2"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Get(cam-2) error = %v, want ErrNotFound", err)
	}
	if got := name(t, c.View(), "cam-1"); got != "Front" {
		t.Errorf("cam-1 name = %v, want Front", got)
	}

	var states []cache.LinkState
	var resets int
	drain := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case n := <-sub.C():
			switch n.Kind {
			case cache.KindState:
				states = append(states, n.Health.State)
			case cache.KindReset:
				resets++
			}
		case <-drain:
			done = true
		}
	}
	if resets != 1 {
		t.Errorf("reset notifications = %d, want 1", resets)
	}
	if len(states) < 2 || states[0] != cache.LinkReconnecting || states[len(states)-1] != cache.LinkConnected {
		t.Errorf("state notifications = %v, want reconnecting ... connected", states)
	}
}

func TestRepeatedLoadFailuresDegrade(t *testing.T) {
	c, src, loader := startClient(t, testConfig())
	boom := fmt.Errorf("%w: unavailable", nvrapi.ErrTransport)
	loader.replies <- loadReply{err: boom}
	loader.replies <- loadReply{err: boom}
	src.up()

	waitState(t, c, cache.LinkDegraded)
	h := c.View().Health()
	if h.Failures < 2 || h.LastError == "" {
		t.Errorf("Health() = %+v, want failures and last error", h)
	}

	loader.reply(t, protecttest.NewDoc("rev-1"))
	waitReady(t, c)
	waitState(t, c, cache.LinkConnected)
	if h := c.View().Health(); h.Failures != 0 || h.Stale {
		t.Errorf("Health() after recovery = %+v", h)
	}
}

func TestFatalLoadStopsClient(t *testing.T) {
	c, src, loader := startClient(t, testConfig())
	rejected := fmt.Errorf("bootstrap: %w: after refresh: %w", session.ErrFatal, nvrapi.ErrAuth)
	for range 6 {
		loader.replies <- loadReply{err: rejected}
	}
	src.up()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); !errors.Is(err, session.ErrFatal) {
		t.Fatalf("WaitReady() error = %v, want ErrFatal", err)
	}

	// Give a wrongly scheduled retry time to fire.
	time.Sleep(50 * time.Millisecond)
	if got := loader.count(); got != 1 {
		t.Errorf("Load calls = %d, want 1", got)
	}
	h := c.View().Health()
	if h.State != cache.LinkDegraded || h.LastError == "" {
		t.Errorf("Health() = %+v, want degraded with error", h)
	}
	if err := c.RequestResync("retry"); !errors.Is(err, ErrClosed) {
		t.Errorf("RequestResync() after fatal = %v, want ErrClosed", err)
	}
}

func TestConnectAfterClose(t *testing.T) {
	c := newClient(testConfig(), newFakeSource(), newFakeLoader())
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close = %v, want ErrClosed", err)
	}
}

func TestConcurrentConnectAndClose(t *testing.T) {
	for range 50 {
		c := newClient(testConfig(), newFakeSource(), newFakeLoader(), WithStore(&memStore{}))
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Connect(context.Background()) //nolint:errcheck
		}()
		go func() {
			defer wg.Done()
			_ = c.Close() //nolint:errcheck
		}()
		wg.Wait()
		c.Close() //nolint:errcheck
	}
}

func TestConnectFatalAuth(t *testing.T) {
	src := newFakeSource()
	src.startErr = fmt.Errorf("%w: login: %w", session.ErrFatal, nvrapi.ErrAuth)
	c := newClient(testConfig(), src, newFakeLoader())
	defer c.Close() //nolint:errcheck

	err := c.Connect(context.Background())
	if !errors.Is(err, nvrapi.ErrAuth) {
		t.Fatalf("Connect() error = %v, want ErrAuth", err)
	}
	if h := c.View().Health(); h.State != cache.LinkDegraded || h.LastError == "" {
		t.Errorf("Health() = %+v, want degraded with error", h)
	}
	if err := c.WaitReady(context.Background()); !errors.Is(err, session.ErrFatal) {
		t.Errorf("WaitReady() error = %v, want ErrFatal", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestFatalEventStopsClient(t *testing.T) {
	c, src, _ := startReady(t, testConfig())

	src.down(errors.New("closed"))
	src.events <- session.Event{Kind: session.EventFatal, Err: fmt.Errorf("%w: after refresh", session.ErrFatal)}
	close(src.events)

	waitState(t, c, cache.LinkDegraded)
	if err := c.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() error = %v, want nil once ready", err)
	}
	if got := name(t, c.View(), "cam-1"); got != "Front" {
		t.Errorf("last-known-good cam-1 name = %v, want Front", got)
	}
}

func TestWarmStartAndPersist(t *testing.T) {
	stored, err := entity.ParseBootstrap(protecttest.NewDoc("rev-old").JSON(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ParseBootstrap() error = %v", err)
	}
	store := &memStore{snap: stored}

	c, src, loader := startClient(t, testConfig(), WithStore(store))
	if got := name(t, c.View(), "cam-1"); got != "Front" {
		t.Fatalf("warm cam-1 name = %v, want Front", got)
	}
	if h := c.View().Health(); h.State != cache.LinkConnecting || !h.Stale {
		t.Errorf("warm Health() = %+v, want connecting and stale", h)
	}
	if c.cursor() != "rev-old" {
		t.Errorf("cursor() = %q, want rev-old", c.cursor())
	}

	loader.reply(t, protecttest.NewDoc("rev-new"))
	src.up()
	waitReady(t, c)
	waitFor(t, "save", func() bool { return store.count() == 1 })

	src.frame(update(t, "cam-1", "rev-2", map[string]any{"name": "Porch"}))
	waitFor(t, "rename", func() bool { return name(t, c.View(), "cam-1") == "Porch" })

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := store.count(); got != 2 {
		t.Errorf("saves = %d, want 2", got)
	}
	if got := store.snap.Entities["cam-1"].Fields["name"]; got != "Porch" {
		t.Errorf("stored cam-1 name = %v, want Porch", got)
	}
	if h := c.View().Health(); h.State != cache.LinkClosed {
		t.Errorf("Health() after Close = %+v", h)
	}
	if err := c.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() after Close = %v, want nil once ready", err)
	}
}

func TestWSStatsCapture(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureStats = true
	c, src, _ := startReady(t, cfg)

	src.frame(update(t, "cam-1", "rev-2", map[string]any{"name": "Porch"}))
	src.frame(update(t, "cam-1", "rev-3", map[string]any{"name": "Porch"}))
	waitFor(t, "stats", func() bool { return len(c.WSStats().Records()) == 2 })

	sum := c.WSStats().Summary()
	if sum.Count != 2 || sum.Unfiltered != 1 || sum.FilteredPercent != 50 {
		t.Errorf("Summary() = %+v, want 2 records, 1 unfiltered", sum)
	}
	if sum.Keys["name"] != 1 || sum.Models["camera"] != 1 || sum.Actions["update"] != 1 {
		t.Errorf("Summary() counters = %+v", sum)
	}
}

type countingObserver struct {
	BaseObserver
	mu          sync.Mutex
	transitions []resync.Transition
	rejected    int
	lastReason  reconcile.Reason
}

func (o *countingObserver) ResyncTransition(tr resync.Transition) {
	o.mu.Lock()
	o.transitions = append(o.transitions, tr)
	o.mu.Unlock()
}

func (o *countingObserver) states() []resync.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	tos := make([]resync.State, 0, len(o.transitions))
	for _, tr := range o.transitions {
		tos = append(tos, tr.To)
	}
	return tos
}

func (o *countingObserver) MutationRejected(_ *entity.Mutation, err *reconcile.RejectError) {
	o.mu.Lock()
	o.rejected++
	o.lastReason = err.Reason
	o.mu.Unlock()
}

func TestRequestResync(t *testing.T) {
	c := newClient(testConfig(), newFakeSource(), newFakeLoader())
	if err := c.RequestResync("manual"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("RequestResync() before Connect = %v, want ErrNotStarted", err)
	}
	c.Close() //nolint:errcheck

	c, _, loader := startReady(t, testConfig())
	if err := c.RequestResync(""); err != nil {
		t.Fatalf("RequestResync() error = %v", err)
	}
	waitFor(t, "second load", func() bool { return loader.count() == 2 })
	waitState(t, c, cache.LinkResyncing)

	loader.reply(t, protecttest.NewDoc("rev-9"))
	waitFor(t, "reinstall", func() bool { return c.View().Revision().UpdateID == "rev-9" })
	waitState(t, c, cache.LinkConnected)

	c.Close() //nolint:errcheck
	if err := c.RequestResync("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("RequestResync() after Close = %v, want ErrClosed", err)
	}
}
