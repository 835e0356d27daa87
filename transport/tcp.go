package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/herald/gateway"
	"github.com/luma/herald/protocol"
)

// Receiver is the side of a gateway.Connection a transport feeds.
type Receiver interface {
	Receive(frame []byte)
	Close() error
}

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener

	options Options

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if !options.Reuseport && numListeners > 1 {
		// Without SO_REUSEPORT only the first listener could bind
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		options:      options,
		log:          log,
	}
}

// Start binds every listener and starts accepting connections in the
// background. It returns once the listeners are bound.
func (w *TCP) Start(parentCtx context.Context) error {
	if w.options.Gateway == nil {
		return errors.New("TCP transport requires a gateway")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	for i := 0; i < w.numListeners; i++ {
		if err := w.startListener(ctx, w.addr); err != nil {
			_ = w.Close()
			return err
		}
	}

	return nil
}

// Addr returns the address of the first listener, useful when listening on
// port 0.
func (w *TCP) Addr() net.Addr {
	if len(w.listeners) == 0 {
		return nil
	}

	return w.listeners[0].Addr()
}

func (w *TCP) startListener(ctx context.Context, addr string) error {
	ln, err := w.listen(addr)
	if err != nil {
		return err
	}

	listener := NewTCPListener(
		ctx,
		ln,
		w.options,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)
	w.stopWaiter.Add(1)

	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			// TODO(rolly) as any of the listeners can fail to listen, but we don't treat this as fatal,
			//             you can end up with less than the required amount of listeners running
			w.log.Error("Failed to listen", zap.Error(err))
		}
	}()

	return nil
}

func (w *TCP) listen(addr string) (net.Listener, error) {
	if w.options.Reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

// Close immediately closes all listeners and connections.
//
// For a graceful shutdown, use Shutdown()
func (w *TCP) Close() (err error) {
	w.log.Info("Stopping TCP server")
	if w.cancel != nil {
		w.cancel()
	}

	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	w.stopWaiter.Wait()
	w.log.Info("TCP server stopped")

	return err
}

// Shutdown stops accepting new connections and waits for the open ones to
// go away on their own. When ctx expires first they are closed forcefully.
func (w *TCP) Shutdown(ctx context.Context) (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.StopAccepting())
	}

	drained := make(chan struct{})
	go func() {
		for _, listener := range w.listeners {
			listener.Wait()
		}
		close(drained)
	}()

	select {
	case <-drained:
		return multierr.Append(err, w.Close())

	case <-ctx.Done():
		return multierr.Combine(err, w.Close(), ctx.Err())
	}
}

type TCPListener struct {
	ctx      context.Context
	listener net.Listener
	options  Options

	log *zap.Logger

	loopWaiter sync.WaitGroup

	mu          sync.Mutex
	stopped     bool
	activeConns map[*TCPConn]struct{}
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	options Options,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		options:     options,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// StopAccepting closes the listening socket but leaves connections alone.
func (t *TCPListener) StopAccepting() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}

	t.stopped = true

	if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

// Close stops accepting and closes every active connection.
func (t *TCPListener) Close() error {
	err := t.StopAccepting()

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Wait blocks until every connection accepted by this listener has finished.
func (t *TCPListener) Wait() {
	t.loopWaiter.Wait()
}

// Listen accepts connections until the listener is closed.
func (t *TCPListener) Listen() error {
	defer func() {
		t.log.Info("Waiting for Read/Write loops to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new connections
				// that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			// TODO(rolly) can we recover from some classes of err?
			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.options, t.log.Named("conn"))

		if !t.addConn(tcpConn) {
			conn.Close()
			continue
		}

		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			// Accept before the read loop starts so handlers are in place for
			// the first frame.
			tcpConn.Run(t.options.Gateway.Accept(tcpConn))
		}()
	}
}

// addConn tracks conn and accounts for its loops. It refuses new
// connections once the listener has stopped accepting.
func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}

	t.activeConns[conn] = struct{}{}
	t.loopWaiter.Add(1)
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn is a gateway.Transport over a stream socket using `\n` framing.
type TCPConn struct {
	conn  net.Conn
	queue *writeQueue

	maxFrameSize int
	writeTimeout time.Duration

	log   *zap.Logger
	trace bool
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	options Options,
	log *zap.Logger,
) *TCPConn {
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &TCPConn{
		conn:         conn,
		queue:        newWriteQueue(parentCtx, options.WriteQueueSize),
		maxFrameSize: options.MaxFrameSize,
		writeTimeout: writeTimeout,
		log:          log.With(zap.String("remoteAddr", conn.RemoteAddr().String())),
		trace:        options.Trace,
	}
}

func (t *TCPConn) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// WriteFrame queues a frame for the write loop.
func (t *TCPConn) WriteFrame(frame []byte) error {
	return t.queue.push(frame)
}

// Close stops the connection. Frames already queued are still flushed by
// the write loop before the socket is closed.
func (t *TCPConn) Close() error {
	t.queue.close()
	return nil
}

// Run pumps frames between the socket and receiver until either side goes
// away.
func (t *TCPConn) Run(receiver Receiver) {
	var loopWaiter sync.WaitGroup

	loopWaiter.Add(1)
	go func() {
		defer loopWaiter.Done()
		t.WriteLoop()
	}()

	t.ReadLoop(receiver)

	if err := receiver.Close(); err != nil {
		t.log.Debug("Receiver did not close cleanly", zap.Error(err))
	}

	// Make sure the write loop exits, the receiver closing us normally
	// takes care of that already
	t.Close()

	loopWaiter.Wait()
}

func (t *TCPConn) ReadLoop(receiver Receiver) {
	log := t.log.Named("readLoop")
	reader := protocol.NewFrameReader(t.conn, t.maxFrameSize)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			switch {
			case t.queue.ctx.Err() != nil:
				log.Debug("Connection closed, exiting...")

			case errors.Is(err, io.EOF):
				log.Info("Client disconnected")

			case errors.Is(err, protocol.ErrFrameTooLarge):
				log.Warn("Client sent an oversized frame, disconnecting", zap.Error(err))

			default:
				log.Warn("Failed to read client frame", zap.Error(err))
			}

			return
		}

		if t.trace {
			log.Debug("Received frame", zap.ByteString("frame", frame))
		}

		receiver.Receive(frame)
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("Failed to close connection cleanly", zap.Error(err))
		}

		log.Debug("Write loop exited")
	}()

	for {
		select {
		case <-t.queue.done():
			t.queue.drain(t.write)
			return

		case frame := <-t.queue.frames:
			if err := t.write(frame); err != nil {
				log.Warn("Failed to write frame", zap.Error(err))

				// Closing the socket ends the read loop, which closes the receiver
				return
			}
		}
	}
}

func (t *TCPConn) write(frame []byte) error {
	if t.trace {
		t.log.Debug("Writing frame", zap.ByteString("frame", frame))
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}

	return protocol.WriteFrame(t.conn, frame)
}

var _ gateway.Transport = (*TCPConn)(nil)
