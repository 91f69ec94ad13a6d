package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu        sync.Mutex
	lines     []string
	writeCode int
	healthy   bool
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeCode: http.StatusNoContent, healthy: true}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			f.mu.Lock()
			healthy := f.healthy
			f.mu.Unlock()
			if healthy {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusOK)
			}
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			code := f.writeCode
			if code == http.StatusNoContent {
				f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			}
			f.mu.Unlock()
			if code != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				_, _ = io.WriteString(w, `{"code":"invalid","message":"bad line protocol"}`)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.URL,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "protect",
		BatchSize:     100,
		FlushInterval: 60,
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	f := newFakeInflux(t)
	f.healthy = false

	_, err := influxdb.Connect(context.Background(), f.config())
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	f.Close()

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteProtectStats(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	at := time.Unix(1700000000, 0)
	client.WriteProtectStats("sensor", "sensor-1", map[string]any{"stats.temperature.value": 21.5}, at)
	client.WriteProtectStats("camera", "cam-1", nil, at)
	client.WriteLinkState("degraded", true, 3, at)
	client.Flush()

	lines := f.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2 points", lines)
	}
	want := []string{
		"protect_stats,id=sensor-1,model=sensor stats.temperature.value=21.5 1700000000000000000",
		"protect_link,state=degraded failures=3i,stale=true 1700000000000000000",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	got := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})

	f.mu.Lock()
	f.writeCode = http.StatusBadRequest
	f.mu.Unlock()

	client.WritePoint("protect_stats", map[string]string{"id": "x"}, map[string]any{"v": 1.0})
	client.Flush()

	select {
	case err := <-got:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error never reached the callback")
	}
}

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}

	// Writes and a second Close after Close are no-ops.
	client.WritePoint("protect_stats", nil, map[string]any{"v": 1.0})
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	var nilClient *influxdb.Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
