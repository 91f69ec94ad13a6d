package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/mqtt"
)

// CommandResync is the action segment of the resync request topic.
const CommandResync = "resync"

// Subscriber is the MQTT surface used by CommandListener.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Resyncer forces a snapshot reload. *protect.Client satisfies it.
type Resyncer interface {
	RequestResync(reason string) error
}

// CommandRequest is the optional JSON body of a command message.
type CommandRequest struct {
	Reason string `json:"reason"`
}

// CommandListener turns graylogic/command/protect/resync messages into
// resync requests.
type CommandListener struct {
	sub    Subscriber
	target Resyncer
	logger Logger
}

// NewCommandListener creates a listener forwarding to target.
func NewCommandListener(sub Subscriber, target Resyncer) *CommandListener {
	return &CommandListener{sub: sub, target: target, logger: noopLogger{}}
}

// SetLogger sets the logger. Call before Start.
func (l *CommandListener) SetLogger(logger Logger) {
	l.logger = logger
}

// Start subscribes to the command topic.
func (l *CommandListener) Start() error {
	return l.sub.Subscribe(topics.ProtectCommand(CommandResync), 1, l.handleResync)
}

// Stop unsubscribes from the command topic.
func (l *CommandListener) Stop() error {
	return l.sub.Unsubscribe(topics.ProtectCommand(CommandResync))
}

func (l *CommandListener) handleResync(topic string, payload []byte) error {
	reason := "mqtt command"
	if len(payload) > 0 {
		var req CommandRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decoding %s: %w", topic, err)
		}
		if req.Reason != "" {
			reason = "mqtt command: " + req.Reason
		}
	}
	l.logger.Info("resync requested over mqtt", "reason", reason)
	return l.target.RequestResync(reason)
}
