package gateway

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/herald/protocol"
)

// DefaultEvent is the event name used by SendMessage.
const DefaultEvent = "message"

// Transport is the duplex byte channel underneath a Connection. WriteFrame
// must not block for long; transports queue writes and fail fast when they
// can't keep up.
type Transport interface {
	WriteFrame(frame []byte) error
	Close() error
}

// Handler handles a single event. Returning an error only gets it logged.
type Handler func(msg *Message) error

// AckFunc receives the payload of an acknowledgement. It is called at most
// once, and never if the connection closes first.
type AckFunc func(payload protocol.Payload)

type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ConnectionOptions struct {
	// ID identifies the connection in logs. A random UUID is used if empty
	ID string

	Log *zap.Logger

	Metrics *Metrics
}

// Stats is a snapshot of a connection's counters.
type Stats struct {
	DecodeErrors  uint64
	HandlerErrors uint64
	PendingAcks   int
}

// Connection multiplexes the events of one peer onto named handlers and
// tracks the acknowledgements it is waiting for.
type Connection struct {
	id        string
	transport Transport

	// recvMu serialises Receive, two frames of the same connection are never
	// dispatched at the same time.
	recvMu sync.Mutex

	mu         sync.Mutex
	state      State
	handlers   map[string]Handler
	pending    map[uint64]AckFunc
	nextID     uint64
	closeHooks []func(*Connection)

	decodeErrors  uint64
	handlerErrors uint64

	metrics *Metrics
	log     *zap.Logger
}

func NewConnection(transport Transport, options ConnectionOptions) *Connection {
	id := options.ID
	if id == "" {
		id = uuid.NewString()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	log = log.With(zap.String("conn", id))
	if addr, ok := transport.(interface{ RemoteAddr() net.Addr }); ok && addr.RemoteAddr() != nil {
		log = log.With(zap.String("remoteAddr", addr.RemoteAddr().String()))
	}

	return &Connection{
		id:        id,
		transport: transport,
		state:     StateOpen,
		handlers:  make(map[string]Handler),
		pending:   make(map[uint64]AckFunc),
		metrics:   options.Metrics,
		log:       log,
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

// Register sets the handler for events called name. A later Register for the
// same name replaces the earlier one.
func (c *Connection) Register(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return
	}

	c.handlers[name] = handler
}

func (c *Connection) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers, name)
}

// OnClose adds a hook that runs once the connection has closed. Hooks added
// to a closed connection run immediately.
func (c *Connection) OnClose(hook func(*Connection)) {
	c.mu.Lock()

	if c.state != StateOpen {
		c.mu.Unlock()
		hook(c)
		return
	}

	c.closeHooks = append(c.closeHooks, hook)
	c.mu.Unlock()
}

// Receive decodes a single frame and dispatches it. Malformed frames and
// events without a handler are dropped. Does nothing once closed.
func (c *Connection) Receive(frame []byte) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if !c.IsOpen() {
		return
	}

	event, err := protocol.Decode(frame)
	if err != nil {
		atomic.AddUint64(&c.decodeErrors, 1)
		c.metrics.decodeFailed()

		fields := []zap.Field{zap.Error(err)}

		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) {
			fields = append(fields, zap.ByteString("frame", decodeErr.Frame))
		}

		c.log.Warn("Dropping malformed frame", fields...)
		return
	}

	c.metrics.eventReceived(event.Ack)

	if event.Ack {
		c.resolveAck(event)
		return
	}

	c.dispatch(event)
}

// Send writes an event to the peer. If onAck is not nil the event asks for an
// acknowledgement and onAck runs when it arrives.
//
// There is no timeout, onAck may never run: the peer is free not to reply and
// pending callbacks are discarded when the connection closes.
func (c *Connection) Send(name string, payload interface{}, onAck AckFunc) error {
	if err := checkEventName(name); err != nil {
		return err
	}

	p, err := protocol.NewPayload(payload)
	if err != nil {
		return err
	}

	return c.send(protocol.Event{Name: name, Payload: p}, onAck)
}

// Emit is Send without an acknowledgement.
func (c *Connection) Emit(name string, payload interface{}) error {
	return c.Send(name, payload, nil)
}

// SendMessage emits payload as a "message" event.
func (c *Connection) SendMessage(payload interface{}) error {
	return c.Send(DefaultEvent, payload, nil)
}

// Close discards all pending acknowledgements and handlers and closes the
// transport. It's safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}

	c.state = StateClosed
	droppedAcks := len(c.pending)
	c.pending = nil
	c.handlers = nil
	hooks := c.closeHooks
	c.closeHooks = nil
	c.mu.Unlock()

	c.log.Debug("Closing connection", zap.Int("droppedAcks", droppedAcks))

	err := c.transport.Close()

	for _, hook := range hooks {
		hook(c)
	}

	return err
}

func (c *Connection) Stats() Stats {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()

	return Stats{
		DecodeErrors:  atomic.LoadUint64(&c.decodeErrors),
		HandlerErrors: atomic.LoadUint64(&c.handlerErrors),
		PendingAcks:   pending,
	}
}

func (c *Connection) send(event protocol.Event, onAck AckFunc) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrClosed
	}

	if onAck != nil {
		event.ID, event.HasID = c.allocateID(), true
		c.pending[event.ID] = onAck
	}
	c.mu.Unlock()

	if err := c.transport.WriteFrame(protocol.Encode(event)); err != nil {
		if onAck != nil {
			c.forgetAck(event.ID)
		}

		c.metrics.sendFailed()
		c.log.Warn("Failed to write event, closing connection",
			zap.String("event", event.Name),
			zap.Error(err))

		if cerr := c.Close(); cerr != nil {
			c.log.Debug("Transport did not close cleanly", zap.Error(cerr))
		}

		return &TransportError{ConnID: c.id, Err: err}
	}

	c.metrics.eventSent()
	return nil
}

// allocateID must be called with mu held.
func (c *Connection) allocateID() uint64 {
	for {
		c.nextID++
		if c.nextID == 0 {
			// Wrapped around, zero is never handed out
			continue
		}

		if _, taken := c.pending[c.nextID]; !taken {
			return c.nextID
		}
	}
}

func (c *Connection) forgetAck(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
}

func (c *Connection) resolveAck(event protocol.Event) {
	c.mu.Lock()
	onAck, ok := c.pending[event.ID]
	if ok {
		delete(c.pending, event.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("Ignoring acknowledgement with no pending callback",
			zap.String("event", event.Name),
			zap.Uint64("id", event.ID))
		return
	}

	c.metrics.ackResolved()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Acknowledgement callback panicked",
				zap.String("event", event.Name),
				zap.Uint64("id", event.ID),
				zap.Any("panic", r))
		}
	}()

	onAck(event.Payload)
}

func (c *Connection) dispatch(event protocol.Event) {
	c.mu.Lock()
	handler := c.handlers[event.Name]
	c.mu.Unlock()

	if handler == nil {
		c.log.Debug("Dropping event with no handler", zap.String("event", event.Name))
		return
	}

	if err := invoke(handler, newMessage(c, event)); err != nil {
		atomic.AddUint64(&c.handlerErrors, 1)
		c.metrics.handlerFailed()
		c.log.Warn("Handler failed", zap.String("event", event.Name), zap.Error(err))
	}
}

func invoke(handler Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Event: msg.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if herr := handler(msg); herr != nil {
		return &HandlerError{Event: msg.Name(), Err: herr}
	}

	return nil
}
