package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame       = errors.New("Frame is not valid JSON")
	ErrNotAnObject          = errors.New("Frame is valid JSON but not an object")
	ErrMissingEventName     = errors.New("Frame is missing a non-empty event name")
	ErrInvalidCorrelationID = errors.New("Frame id must be a non-negative integer")
	ErrInvalidAckFlag       = errors.New("Frame ack must be a boolean and requires an id")
	ErrFrameTooLarge        = errors.New("Frame exceeds the maximum frame size")
	ErrInvalidPayload       = errors.New("Payload is not valid JSON")
)

// maxErrorFrame bounds how much of an offending frame a DecodeError keeps
// around for logging.
const maxErrorFrame = 256

// DecodeError is returned by Decode for every frame it cannot turn into an
// Event. Reason is one of the Err* vars above.
type DecodeError struct {
	Reason error
	Frame  []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Failed to decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Reason
}

func decodeError(frame []byte, reason error) *DecodeError {
	if len(frame) > maxErrorFrame {
		frame = frame[:maxErrorFrame]
	}

	return &DecodeError{
		Reason: reason,
		Frame:  append([]byte(nil), frame...),
	}
}
