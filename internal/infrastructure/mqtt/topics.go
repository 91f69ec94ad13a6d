package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Gray Logic topic.
const TopicPrefix = "graylogic"

// Protocol is the protocol segment used for protect topics.
const Protocol = "protect"

// Topics builds protect MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ProtectState("camera", "cam-1") // graylogic/state/protect/camera/cam-1
type Topics struct{}

// ProtectState returns the retained state topic of one entity.
//
// Example: graylogic/state/protect/camera/61b3f5c7
func (Topics) ProtectState(model, id string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, Protocol, model, id)
}

// ProtectHealth returns the retained link health topic.
//
// Example: graylogic/health/protect
func (Topics) ProtectHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// ProtectCommand returns the topic for an inbound request.
//
// Example: graylogic/command/protect/resync
func (Topics) ProtectCommand(action string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, action)
}

// AllProtectStates matches every entity state topic.
//
// Pattern: graylogic/state/protect/+/+
func (Topics) AllProtectStates() string {
	return fmt.Sprintf("%s/state/%s/+/+", TopicPrefix, Protocol)
}

// AllProtectCommands matches every inbound request topic.
//
// Pattern: graylogic/command/protect/+
func (Topics) AllProtectCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// ParseProtectState splits a state topic into model and id.
func (Topics) ParseProtectState(topic string) (model, id string, ok bool) {
	rest, found := strings.CutPrefix(topic, fmt.Sprintf("%s/state/%s/", TopicPrefix, Protocol))
	if !found {
		return "", "", false
	}
	model, id, found = strings.Cut(rest, "/")
	if !found || model == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return model, id, true
}

// validPublishTopic rejects empty topics and wildcards.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
