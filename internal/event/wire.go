package event

import (
	"encoding/json"
	"fmt"
)

// Relay wire message types (the first element of the JSON array).
const (
	WireEvent  = "EVENT"
	WireReq    = "REQ"
	WireClose  = "CLOSE"
	WireOK     = "OK"
	WireEOSE   = "EOSE"
	WireNotice = "NOTICE"
)

// EncodeEvent builds a ["EVENT", <event>] client→relay publish message.
func EncodeEvent(e *Event) ([]byte, error) {
	return json.Marshal([]interface{}{WireEvent, e})
}

// EncodeReq builds a ["REQ", subID, filter...] subscription message.
func EncodeReq(subID string, filters ...Filter) ([]byte, error) {
	msg := make([]interface{}, 0, len(filters)+2)
	msg = append(msg, WireReq, subID)
	for _, f := range filters {
		msg = append(msg, f)
	}
	return json.Marshal(msg)
}

// EncodeClose builds a ["CLOSE", subID] message.
func EncodeClose(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{WireClose, subID})
}

// IncomingMessage is a relay→client message with the envelope peeled
// off but the payload left raw, mirroring the generic Message/Decode
// pattern used elsewhere in this codebase for typed dispatch.
type IncomingMessage struct {
	Type string
	Raw  []json.RawMessage
}

// ParseIncoming decodes the outer JSON array and classifies its type.
func ParseIncoming(data []byte) (*IncomingMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse relay message: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("parse relay message: empty array")
	}
	var msgType string
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, fmt.Errorf("parse relay message type: %w", err)
	}
	return &IncomingMessage{Type: msgType, Raw: raw[1:]}, nil
}

// AsEvent decodes an ["EVENT", subID, event] or ["EVENT", event]
// message into an Event, tolerating either shape.
func (m *IncomingMessage) AsEvent() (*Event, error) {
	if m.Type != WireEvent {
		return nil, fmt.Errorf("not an EVENT message: %s", m.Type)
	}
	idx := len(m.Raw) - 1
	if idx < 0 {
		return nil, fmt.Errorf("EVENT message missing payload")
	}
	var e Event
	if err := json.Unmarshal(m.Raw[idx], &e); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return &e, nil
}

// AsOK decodes an ["OK", id, accepted, message] acknowledgment.
func (m *IncomingMessage) AsOK() (id string, accepted bool, msg string, err error) {
	if m.Type != WireOK || len(m.Raw) < 3 {
		return "", false, "", fmt.Errorf("not a well-formed OK message")
	}
	if err = json.Unmarshal(m.Raw[0], &id); err != nil {
		return "", false, "", err
	}
	if err = json.Unmarshal(m.Raw[1], &accepted); err != nil {
		return "", false, "", err
	}
	if err = json.Unmarshal(m.Raw[2], &msg); err != nil {
		return "", false, "", err
	}
	return id, accepted, msg, nil
}

// AsNotice decodes a ["NOTICE", message] message.
func (m *IncomingMessage) AsNotice() (string, error) {
	if m.Type != WireNotice || len(m.Raw) < 1 {
		return "", fmt.Errorf("not a well-formed NOTICE message")
	}
	var s string
	if err := json.Unmarshal(m.Raw[0], &s); err != nil {
		return "", err
	}
	return s, nil
}

// SubID returns the subscription id carried by EOSE or CLOSE messages.
func (m *IncomingMessage) SubID() (string, error) {
	if len(m.Raw) < 1 {
		return "", fmt.Errorf("message missing subscription id")
	}
	var s string
	if err := json.Unmarshal(m.Raw[0], &s); err != nil {
		return "", err
	}
	return s, nil
}
