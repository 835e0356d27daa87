package client

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/herald/gateway"
	"github.com/luma/herald/protocol"
	"github.com/luma/herald/transport"
)

type Options struct {
	// OnConnect registers handlers before the first frame is read
	OnConnect func(conn *gateway.Connection)

	MaxFrameSize int

	WriteQueueSize int

	Log *zap.Logger
}

// Conn is a client connection to a Herald server over TCP. It speaks exactly
// the same protocol as the server, so the underlying gateway.Connection is
// available for anything the helpers below don't cover.
type Conn struct {
	conn *gateway.Connection
	tcp  *transport.TCPConn

	// done is closed once the read and write loops have exited
	done chan struct{}

	subsMu sync.Mutex
	subs   []*subscription

	log *zap.Logger
}

func Dial(ctx context.Context, addr string, options Options) (*Conn, error) {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	tcpConn := transport.NewTCPConn(context.Background(), netConn, transport.Options{
		MaxFrameSize:   options.MaxFrameSize,
		WriteQueueSize: options.WriteQueueSize,
	}, log.Named("transport"))

	c := &Conn{
		conn: gateway.NewConnection(tcpConn, gateway.ConnectionOptions{Log: log}),
		tcp:  tcpConn,
		done: make(chan struct{}),
		log:  log,
	}

	c.conn.OnClose(func(*gateway.Connection) {
		c.closeSubscriptions()
	})

	if options.OnConnect != nil {
		options.OnConnect(c.conn)
	}

	go func() {
		defer close(c.done)
		tcpConn.Run(c.conn)
	}()

	return c, nil
}

// Connection returns the underlying gateway connection.
func (c *Conn) Connection() *gateway.Connection {
	return c.conn
}

// Done is closed once the connection has shut down, from either side.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// On registers handler for events called name.
func (c *Conn) On(name string, handler gateway.Handler) {
	c.conn.Register(name, handler)
}

// Emit sends an event without waiting for anything.
func (c *Conn) Emit(name string, payload interface{}) error {
	return c.conn.Emit(name, payload)
}

// EmitWithAck sends an event and waits for the server to acknowledge it.
//
// Giving up on ctx does not withdraw the request, a late acknowledgement is
// simply dropped.
func (c *Conn) EmitWithAck(ctx context.Context, name string, payload interface{}) (protocol.Payload, error) {
	ackChan := make(chan protocol.Payload, 1)

	err := c.conn.Send(name, payload, func(ack protocol.Payload) {
		ackChan <- ack
	})
	if err != nil {
		return nil, err
	}

	select {
	case ack := <-ackChan:
		return ack, nil

	case <-c.done:
		return nil, gateway.ErrClosed

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping asks the server for a pong.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.EmitWithAck(ctx, "ping", struct{}{})
	return err
}

// Subscribe returns a channel receiving the payload of every event called
// name. Payloads are dropped when the channel is full. The channel is closed
// when the connection closes.
func (c *Conn) Subscribe(name string, size int) <-chan protocol.Payload {
	sub := &subscription{ch: make(chan protocol.Payload, size)}

	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()

	log := c.log.Named("subscription").With(zap.String("event", name))

	c.conn.Register(name, func(msg *gateway.Message) error {
		if !sub.push(msg.Payload()) {
			log.Warn("Subscriber is not keeping up, dropping event")
		}

		return nil
	})

	if !c.conn.IsOpen() {
		c.closeSubscriptions()
	}

	return sub.ch
}

// Close disconnects and waits for the connection to shut down.
func (c *Conn) Close() error {
	err := c.conn.Close()
	<-c.done

	return err
}

func (c *Conn) closeSubscriptions() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subsMu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

type subscription struct {
	mu     sync.Mutex
	closed bool
	ch     chan protocol.Payload
}

func (s *subscription) push(payload protocol.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
