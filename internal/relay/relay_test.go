package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/protecttest"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
)

type message struct {
	topic   string
	payload []byte
}

// fakePublisher records retained publishes.
type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	retained map[string][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{retained: make(map[string][]byte)}
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{topic: topic, payload: payload})
	p.retained[topic] = payload
	return nil
}

func (p *fakePublisher) ClearRetained(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{topic: topic})
	delete(p.retained, topic)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return true }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *fakePublisher) topicCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.retained)
}

func (p *fakePublisher) get(topic string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.retained[topic]
	return b, ok
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

// newSite returns a cache holding the default test site at rev-1.
func newSite(t *testing.T) (*cache.Cache, *reconcile.Reconciler) {
	t.Helper()
	c := cache.New()
	t.Cleanup(c.Close)
	c.Install(protecttest.NewDoc("rev-1").Snapshot(t))
	return c, reconcile.New(c)
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}
