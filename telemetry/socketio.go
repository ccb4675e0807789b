package telemetry

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	// eventPrefix marks a socket.io message (4) carrying an event (2).
	eventPrefix = "42"

	// EventTelemetry is the event the vehicle sends each cycle.
	EventTelemetry = "telemetry"
	// EventSteer is the event carrying a Command.
	EventSteer = "steer"
	// EventManual tells the vehicle to keep driving under manual control.
	EventManual = "manual"
)

// ManualMessage is the reply to an event without data.
var ManualMessage = []byte(`42["manual",{}]`)

// MessageKind classifies an incoming frame.
type MessageKind int

const (
	// MessageIgnored frames are not socket.io events and get no reply.
	MessageIgnored MessageKind = iota
	// MessageManual frames are events without data; the vehicle is driven manually.
	MessageManual
	// MessageEvent frames carry a named event with JSON data.
	MessageEvent
)

// Message is a parsed incoming frame.
type Message struct {
	Kind  MessageKind
	Event string
	Data  json.RawMessage
}

// eventData returns the JSON array of an event frame, or "" when the frame carries no data.
func eventData(frame string) string {
	if strings.Contains(frame, "null") {
		return ""
	}
	start := strings.Index(frame, "[")
	end := strings.LastIndex(frame, "}]")
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return frame[start : end+2]
}

// ParseMessage classifies a frame and, for events with data, splits out the event name and its
// JSON payload.
func ParseMessage(frame []byte) (Message, error) {
	s := string(frame)
	if len(s) <= len(eventPrefix) || !strings.HasPrefix(s, eventPrefix) {
		return Message{Kind: MessageIgnored}, nil
	}
	data := eventData(s)
	if data == "" {
		return Message{Kind: MessageManual}, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return Message{}, errors.Wrap(err, "malformed event")
	}
	if len(parts) < 2 {
		return Message{}, errors.Errorf("event has %d elements, want 2", len(parts))
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Message{}, errors.Wrap(err, "event name is not a string")
	}
	return Message{Kind: MessageEvent, Event: name, Data: parts[1]}, nil
}

// EncodeSteer frames a command as a steer event.
func EncodeSteer(cmd *Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("no command to encode")
	}
	return encodeEvent(EventSteer, cmd)
}

func encodeEvent(name string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal([]interface{}{name, payload})
	if err != nil {
		return nil, err
	}
	return append([]byte(eventPrefix), body...), nil
}
