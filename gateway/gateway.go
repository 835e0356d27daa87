package gateway

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/herald/protocol"
)

type Options struct {
	// OnConnect runs synchronously inside Accept, before the transport reads
	// anything. This is where handlers get registered.
	OnConnect func(conn *Connection)

	Metrics *Metrics

	Log *zap.Logger
}

// BroadcastReport describes the outcome of a Broadcast. Err combines the
// failures of the individual connections, if any.
type BroadcastReport struct {
	Attempted int
	Delivered int
	Err       error
}

// Gateway tracks every open Connection.
type Gateway struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}

	onConnect func(conn *Connection)

	metrics *Metrics
	log     *zap.Logger
}

func New(options Options) *Gateway {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Gateway{
		conns:     make(map[*Connection]struct{}),
		onConnect: options.OnConnect,
		metrics:   options.Metrics,
		log:       log,
	}
}

// Accept wraps transport in a new Connection and tracks it until it closes.
// Transports must call Accept before they start reading so that OnConnect,
// and the caller, can register handlers before the first event arrives.
func (g *Gateway) Accept(transport Transport) *Connection {
	conn := NewConnection(transport, ConnectionOptions{
		Log:     g.log.Named("conn"),
		Metrics: g.metrics,
	})

	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()

	g.metrics.connectionOpened()
	conn.OnClose(g.forget)

	g.log.Debug("Accepted connection", zap.String("conn", conn.ID()))

	if g.onConnect != nil {
		g.runOnConnect(conn)
	}

	return conn
}

func (g *Gateway) runOnConnect(conn *Connection) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("OnConnect panicked, closing connection",
				zap.String("conn", conn.ID()),
				zap.Any("panic", r))

			_ = conn.Close()
		}
	}()

	g.onConnect(conn)
}

// Broadcast sends an event to every connection that is open when it is
// called. Failed deliveries are collected in the report rather than
// returned; the error is only for invalid names and payloads.
func (g *Gateway) Broadcast(name string, payload interface{}) (BroadcastReport, error) {
	if err := checkEventName(name); err != nil {
		return BroadcastReport{}, err
	}

	p, err := protocol.NewPayload(payload)
	if err != nil {
		return BroadcastReport{}, err
	}

	conns := g.Connections()
	report := BroadcastReport{Attempted: len(conns)}
	failures := 0

	for _, conn := range conns {
		if err := conn.send(protocol.Event{Name: name, Payload: p}, nil); err != nil {
			failures++
			report.Err = multierr.Append(report.Err, fmt.Errorf("conn %s: %w", conn.ID(), err))
			continue
		}

		report.Delivered++
	}

	g.metrics.broadcast(failures)

	if report.Err != nil {
		g.log.Warn("Broadcast did not reach every connection",
			zap.String("event", name),
			zap.Int("attempted", report.Attempted),
			zap.Int("delivered", report.Delivered),
			zap.Error(report.Err))
	}

	return report, nil
}

// Remove stops tracking conn and closes it.
func (g *Gateway) Remove(conn *Connection) error {
	g.forget(conn)
	return conn.Close()
}

// Connections returns a snapshot of the open connections.
func (g *Gateway) Connections() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	conns := make([]*Connection, 0, len(g.conns))
	for conn := range g.conns {
		conns = append(conns, conn)
	}

	return conns
}

func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.conns)
}

// Shutdown closes every connection.
func (g *Gateway) Shutdown() (err error) {
	for _, conn := range g.Connections() {
		err = multierr.Append(err, g.Remove(conn))
	}

	return err
}

func (g *Gateway) forget(conn *Connection) {
	g.mu.Lock()
	_, ok := g.conns[conn]
	delete(g.conns, conn)
	g.mu.Unlock()

	if ok {
		g.metrics.connectionClosed()
		g.log.Debug("Connection removed", zap.String("conn", conn.ID()))
	}
}
