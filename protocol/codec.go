package protocol

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	FieldEvent   = "event"
	FieldPayload = "payload"
	FieldID      = "id"
	FieldAck     = "ack"
)

// Event is a single unit of traffic between two peers.
type Event struct {
	Name    string
	Payload Payload

	// ID correlates a request with its acknowledgement. It is only
	// meaningful when HasID is true.
	ID    uint64
	HasID bool

	// Ack marks this event as the acknowledgement of the event with the
	// same ID.
	Ack bool
}

// WantsAck returns true if the sender of this event expects an acknowledgement.
func (e Event) WantsAck() bool {
	return e.HasID && !e.Ack
}

// AckFor builds the acknowledgement of e carrying payload.
func AckFor(e Event, payload Payload) Event {
	return Event{
		Name:    e.Name,
		Payload: payload,
		ID:      e.ID,
		HasID:   true,
		Ack:     true,
	}
}

// Encode serialises the event as a single line JSON object. Build payloads
// with NewPayload: a Payload that isn't valid JSON is left out of the frame,
// so the frame itself always decodes.
func Encode(e Event) []byte {
	frame := []byte("{}")

	// The paths are constants so sjson has nothing to reject.
	frame, _ = sjson.SetBytes(frame, FieldEvent, e.Name)

	if len(e.Payload) > 0 {
		if payload, ok := e.Payload.compact(); ok {
			frame, _ = sjson.SetRawBytes(frame, FieldPayload, payload)
		}
	}

	if e.HasID {
		frame, _ = sjson.SetRawBytes(frame, FieldID, strconv.AppendUint(nil, e.ID, 10))
	}

	if e.Ack {
		frame, _ = sjson.SetRawBytes(frame, FieldAck, []byte("true"))
	}

	return frame
}

// Decode parses a single frame. It never panics, every frame that isn't a
// well formed event yields a *DecodeError.
func Decode(frame []byte) (Event, error) {
	if len(frame) == 0 || !gjson.ValidBytes(frame) {
		return Event{}, decodeError(frame, ErrMalformedFrame)
	}

	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Event{}, decodeError(frame, ErrNotAnObject)
	}

	name := root.Get(FieldEvent)
	if name.Type != gjson.String || name.Str == "" {
		return Event{}, decodeError(frame, ErrMissingEventName)
	}

	e := Event{Name: name.Str}

	if payload := root.Get(FieldPayload); payload.Exists() {
		e.Payload = Payload(payload.Raw)
	}

	if id := root.Get(FieldID); id.Exists() {
		parsed, ok := parseID(id)
		if !ok {
			return Event{}, decodeError(frame, ErrInvalidCorrelationID)
		}

		e.ID, e.HasID = parsed, true
	}

	if ack := root.Get(FieldAck); ack.Exists() {
		switch ack.Type {
		case gjson.True:
			e.Ack = true
		case gjson.False:
			e.Ack = false
		default:
			return Event{}, decodeError(frame, ErrInvalidAckFlag)
		}

		if e.Ack && !e.HasID {
			return Event{}, decodeError(frame, ErrInvalidAckFlag)
		}
	}

	return e, nil
}

// parseID accepts plain non-negative integers only. Floats, exponents and
// negative numbers are rejected rather than rounded.
func parseID(r gjson.Result) (uint64, bool) {
	if r.Type != gjson.Number || r.Raw == "" {
		return 0, false
	}

	for i := 0; i < len(r.Raw); i++ {
		if r.Raw[i] < '0' || r.Raw[i] > '9' {
			return 0, false
		}
	}

	id, err := strconv.ParseUint(r.Raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}
