// Package ingest consumes telemetry from a message transport and feeds it,
// one message at a time, through normalization, classification, storage and
// the ticket lifecycle.
package ingest

import (
	"context"
	"strings"
	"time"
)

// Message is one raw transport message.
type Message struct {
	// ID correlates log lines for one message.
	ID         string
	Topic      string
	// Key is the transport message key, if the transport has one.
	Key        string
	Payload    []byte
	ReceivedAt time.Time
	// Ack, when set, is called once the message has been processed.
	Ack        func()
}

// Handler receives messages from a Source and reports whether the message
// was accepted. It may block briefly while the queue is full.
type Handler func(Message) bool

// Source is a message transport session. Run connects, subscribes and
// delivers messages to handle until ctx is done, which returns nil, or the
// connection is lost, which returns a Transport error.
type Source interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
}

// DeviceFromTopic extracts the device segment of a topic such as
// coldchain/<device>/telemetry, matching the first single-level wildcard of
// pattern. It returns "" when the topic does not fit the pattern.
func DeviceFromTopic(pattern, topic string) string {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")
	device := ""
	for i, p := range patternParts {
		if p == "#" {
			if device == "" && i < len(topicParts) {
				return topicParts[i]
			}
			return device
		}
		if i >= len(topicParts) {
			return ""
		}
		switch {
		case p == "+":
			if device == "" {
				device = topicParts[i]
			}
		case p != topicParts[i]:
			return ""
		}
	}
	if len(topicParts) != len(patternParts) {
		return ""
	}
	return device
}
