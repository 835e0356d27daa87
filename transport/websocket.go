package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luma/herald/gateway"
	"github.com/luma/herald/protocol"
)

// WebSocket upgrades HTTP requests and serves each one as a gateway
// connection. Every text or binary message is one frame.
type WebSocket struct {
	upgrader websocket.Upgrader
	options  WebSocketOptions

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders connWaiter.Add against Close
	mu         sync.Mutex
	closed     bool
	connWaiter sync.WaitGroup

	log *zap.Logger
}

func NewWebSocket(options WebSocketOptions) *WebSocket {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     options.CheckOrigin,
		},
		options: options,
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
}

// ServeHTTP blocks for as long as the connection is open.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.track() {
		http.Error(rw, "shutting down", http.StatusServiceUnavailable)
		return
	}

	defer w.connWaiter.Done()

	ws, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// The upgrader has already replied with an error
		w.log.Warn("Failed to upgrade to websocket", zap.Error(err))
		return
	}

	wsConn := NewWebSocketConn(w.ctx, ws, w.options, w.log.Named("conn"))
	wsConn.Run(w.options.Gateway.Accept(wsConn))
}

// track accounts for a new request, it returns false once closed.
func (w *WebSocket) track() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}

	w.connWaiter.Add(1)
	return true
}

// Close refuses new connections, closes every open one and waits for them
// to finish.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.connWaiter.Wait()

	return nil
}

// WebSocketConn is a gateway.Transport over a websocket.
type WebSocketConn struct {
	ws    *websocket.Conn
	queue *writeQueue

	writeTimeout time.Duration
	pingInterval time.Duration

	log   *zap.Logger
	trace bool
}

func NewWebSocketConn(
	parentCtx context.Context,
	ws *websocket.Conn,
	options WebSocketOptions,
	log *zap.Logger,
) *WebSocketConn {
	if log == nil {
		log = zap.NewNop()
	}

	maxFrameSize := options.MaxFrameSize
	if maxFrameSize < 1 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}

	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	pingInterval := options.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	ws.SetReadLimit(int64(maxFrameSize))

	return &WebSocketConn{
		ws:           ws,
		queue:        newWriteQueue(parentCtx, options.WriteQueueSize),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		log:          log.With(zap.String("remoteAddr", ws.RemoteAddr().String())),
		trace:        options.Trace,
	}
}

func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *WebSocketConn) WriteFrame(frame []byte) error {
	return c.queue.push(frame)
}

// Close stops the connection after flushing queued frames.
func (c *WebSocketConn) Close() error {
	c.queue.close()
	return nil
}

// Run pumps messages between the websocket and receiver until either side
// goes away.
func (c *WebSocketConn) Run(receiver Receiver) {
	var loopWaiter sync.WaitGroup

	loopWaiter.Add(1)
	go func() {
		defer loopWaiter.Done()
		c.WriteLoop()
	}()

	c.ReadLoop(receiver)

	if err := receiver.Close(); err != nil {
		c.log.Debug("Receiver did not close cleanly", zap.Error(err))
	}

	c.Close()
	loopWaiter.Wait()
}

func (c *WebSocketConn) ReadLoop(receiver Receiver) {
	log := c.log.Named("readLoop")

	pongWait := 2 * c.pingInterval
	extendDeadline := func() error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}

	if err := extendDeadline(); err != nil {
		log.Warn("Failed to set read deadline", zap.Error(err))
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return extendDeadline()
	})

	for {
		messageType, frame, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.queue.ctx.Err() != nil:
				log.Debug("Connection closed, exiting...")

			case errors.Is(err, websocket.ErrReadLimit):
				log.Warn("Client sent an oversized message, disconnecting", zap.Error(err))

			case websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived):
				log.Warn("Failed to read client message", zap.Error(err))

			default:
				log.Info("Client disconnected")
			}

			return
		}

		if err := extendDeadline(); err != nil {
			log.Warn("Failed to set read deadline", zap.Error(err))
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.trace {
			log.Debug("Received frame", zap.ByteString("frame", frame))
		}

		receiver.Receive(frame)
	}
}

func (c *WebSocketConn) WriteLoop() {
	log := c.log.Named("writeLoop")

	ticker := time.NewTicker(c.pingInterval)

	defer func() {
		ticker.Stop()

		if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("Failed to close websocket cleanly", zap.Error(err))
		}

		log.Debug("Write loop exited")
	}()

	for {
		select {
		case <-c.queue.done():
			c.queue.drain(c.write)

			deadline := time.Now().Add(c.writeTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				log.Debug("Failed to send close message", zap.Error(err))
			}

			return

		case frame := <-c.queue.frames:
			if err := c.write(frame); err != nil {
				log.Warn("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn("Failed to ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *WebSocketConn) write(frame []byte) error {
	if c.trace {
		c.log.Debug("Writing frame", zap.ByteString("frame", frame))
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

var _ gateway.Transport = (*WebSocketConn)(nil)
var _ http.Handler = (*WebSocket)(nil)
