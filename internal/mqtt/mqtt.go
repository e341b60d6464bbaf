// Package mqtt publishes presence state to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"calpresence/internal/model"
)

// DefaultTopicPrefix is used when the configuration leaves it blank.
const DefaultTopicPrefix = "calpresence"

// Publisher publishes presence readings to MQTT.
type Publisher interface {
	// PublishPresence sends one reading. Errors are reported, never fatal.
	PublishPresence(state model.PresenceState) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Payload is the retained message body for one device.
type Payload struct {
	Device    string `json:"device"`
	Present   bool   `json:"present"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// FormatPayload creates the JSON payload for a presence reading.
func FormatPayload(state model.PresenceState) ([]byte, error) {
	s := "OFF"
	if state.Present {
		s = "ON"
	}
	return json.Marshal(Payload{
		Device:    state.Device,
		Present:   state.Present,
		State:     s,
		Timestamp: state.At.UTC().Format(time.RFC3339),
	})
}

// Topic returns "<prefix>/<slug>/presence" for a device name.
func Topic(prefix, device string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimRight(prefix, "/") + "/" + Slug(device) + "/presence"
}

// Slug lowercases a device name and replaces anything that is not a letter
// or digit with '-', so it is safe as a single topic level.
func Slug(device string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(device)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "device"
	}
	return out
}
