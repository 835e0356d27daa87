package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Payload is the raw JSON value attached to an event. It can hold any JSON
// type; a nil Payload means the event had none.
type Payload []byte

// NewPayload converts v into a Payload. Payloads and json.RawMessages are
// validated and used as is, anything else is marshalled as JSON.
func NewPayload(v interface{}) (Payload, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil

	case Payload:
		return rawPayload(p)

	case json.RawMessage:
		return rawPayload(p)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode payload: %w", err)
	}

	return Payload(b), nil
}

func rawPayload(b []byte) (Payload, error) {
	if len(b) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(b) {
		return nil, ErrInvalidPayload
	}

	return Payload(b), nil
}

// Get returns the value at path using the gjson path syntax.
func (p Payload) Get(path string) gjson.Result {
	return gjson.GetBytes(p, path)
}

// Unmarshal decodes the payload into v.
func (p Payload) Unmarshal(v interface{}) error {
	if len(p) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}

	return json.Unmarshal(p, v)
}

func (p Payload) IsEmpty() bool {
	return len(p) == 0
}

func (p Payload) String() string {
	return string(p)
}

// MarshalJSON embeds the payload verbatim instead of base64 encoding it.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}

	return p, nil
}

// compact strips insignificant whitespace if the payload spans lines, so it
// can never break the line framing of stream transports. It returns false if
// the payload isn't valid JSON.
func (p Payload) compact() ([]byte, bool) {
	if !gjson.ValidBytes(p) {
		return nil, false
	}

	if !bytes.ContainsAny(p, "\r\n") {
		return p, true
	}

	return []byte(gjson.GetBytes(p, "@ugly").Raw), true
}
