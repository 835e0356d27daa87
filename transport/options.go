package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luma/herald/gateway"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 25 * time.Second
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port when NumListeners is 1
	Port int

	// Reuseport controls setting SO_REUSEPORT. It's required for more than
	// one listener on the same port.
	Reuseport bool

	// Trace will log every frame. This is only useful in local debugging
	Trace bool

	NumListeners int

	// MaxFrameSize bounds a single frame, larger frames drop the connection
	MaxFrameSize int

	// WriteQueueSize is the number of frames buffered per connection
	WriteQueueSize int

	WriteTimeout time.Duration

	Gateway *gateway.Gateway

	Log *zap.Logger
}

type WebSocketOptions struct {
	// MaxFrameSize bounds a single message, larger messages drop the connection
	MaxFrameSize int

	// WriteQueueSize is the number of frames buffered per connection
	WriteQueueSize int

	WriteTimeout time.Duration

	// PingInterval is how often the server pings. A peer that hasn't
	// answered within two intervals is dropped.
	PingInterval time.Duration

	// CheckOrigin is handed to the websocket.Upgrader, nil means same origin only
	CheckOrigin func(r *http.Request) bool

	Trace bool

	Gateway *gateway.Gateway

	Log *zap.Logger
}
