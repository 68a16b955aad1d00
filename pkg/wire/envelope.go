package wire

import (
	"encoding/json"
)

// Envelope is a single cross-frame message: a type tag plus whatever other
// top-level fields the message carries. It marshals flat, so
// {Type: "init", Fields: {"session_id": "s1"}} becomes
// {"type":"init","session_id":"s1"} on the wire.
type Envelope struct {
	Type   string
	Fields map[string]any
}

// New builds an envelope with the given type and optional top-level fields.
func New(typ string, fields map[string]any) Envelope {
	if fields == nil {
		fields = map[string]any{}
	}
	return Envelope{Type: typ, Fields: fields}
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		if k == "type" {
			continue
		}
		m[k] = v
	}
	m["type"] = e.Type
	return json.Marshal(m)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	typ, _ := m["type"].(string)
	delete(m, "type")
	e.Type = typ
	e.Fields = m
	return nil
}

// Field returns a top-level field, or nil if absent.
func (e Envelope) Field(key string) any {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[key]
}

// StringField returns a top-level field as a string, or "" if absent or not a
// string.
func (e Envelope) StringField(key string) string {
	s, _ := e.Field(key).(string)
	return s
}

// ObjectField returns a top-level field as an object, or nil.
func (e Envelope) ObjectField(key string) map[string]any {
	m, _ := e.Field(key).(map[string]any)
	return m
}

// Data returns the nested "data" object used by the upper-cased message
// types (CONVERSATION_ACTION, CHAT_MESSAGE, ...).
func (e Envelope) Data() map[string]any {
	return e.ObjectField("data")
}

// Payload returns the nested "payload" object used by the widget-originated
// kebab-cased message types (send-chat-message, add-to-cart, ...).
func (e Envelope) Payload() map[string]any {
	return e.ObjectField("payload")
}
