package relay

import (
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/mqtt"
)

// Publisher is the MQTT surface used by the relays. *mqtt.Client satisfies it.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

var (
	_ Publisher  = (*mqtt.Client)(nil)
	_ Subscriber = (*mqtt.Client)(nil)
)

var topics mqtt.Topics

// kick is a coalescing wake-up signal.
type kick chan struct{}

func newKick() kick { return make(kick, 1) }

func (k kick) signal() {
	select {
	case k <- struct{}{}:
	default:
	}
}
