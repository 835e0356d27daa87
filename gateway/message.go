package gateway

import (
	"sync/atomic"

	"github.com/luma/herald/protocol"
)

// Message is what a Handler receives: the decoded event plus a way to
// acknowledge it.
type Message struct {
	Conn  *Connection
	Event protocol.Event

	replied int32
}

func newMessage(conn *Connection, event protocol.Event) *Message {
	return &Message{
		Conn:  conn,
		Event: event,
	}
}

func (m *Message) Name() string {
	return m.Event.Name
}

func (m *Message) Payload() protocol.Payload {
	return m.Event.Payload
}

// WantsReply returns true if the peer asked for an acknowledgement.
func (m *Message) WantsReply() bool {
	return m.Event.WantsAck()
}

// Reply acknowledges the event with payload. Only the first successful
// encoding of a payload is sent, later calls do nothing, as do calls for
// events that did not ask for an acknowledgement. Reply may be called after
// the handler has returned.
func (m *Message) Reply(payload interface{}) error {
	if !m.WantsReply() {
		return nil
	}

	p, err := protocol.NewPayload(payload)
	if err != nil {
		return err
	}

	if !atomic.CompareAndSwapInt32(&m.replied, 0, 1) {
		return nil
	}

	return m.Conn.send(protocol.AckFor(m.Event, p), nil)
}
