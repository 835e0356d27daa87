package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/herald/gateway"
	"github.com/luma/herald/internal/demo"
	"github.com/luma/herald/internal/env"
	"github.com/luma/herald/storage"
	"github.com/luma/herald/transport"
)

type serverOptions struct {
	Host     string
	Port     int
	HTTPPort int

	Reuseport bool
	AnyOrigin bool
}

// server owns everything `herald start` runs: the gateway with its demo
// handlers, the TCP listeners and the HTTP server for websockets, metrics
// and sensors.
type server struct {
	options serverOptions

	store *storage.InmemoryStore
	gw    *gateway.Gateway
	app   *demo.Demo
	ws    *transport.WebSocket
	tcp   *transport.TCP

	http     *http.Server
	httpAddr net.Addr

	stopRelay context.CancelFunc
	relayDone <-chan struct{}

	log *zap.Logger
}

func newServer(conf *env.Config, options serverOptions, log *zap.Logger) *server {
	s := &server{
		options: options,
		store:   storage.NewInmemoryStore(),
		log:     log,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.gw = gateway.New(gateway.Options{
		OnConnect: func(conn *gateway.Connection) {
			s.app.Install(conn)
		},
		Metrics: gateway.NewMetrics(registry),
		Log:     log.Named("gateway"),
	})

	s.app = demo.New(demo.Options{
		Broadcaster: s.gw,
		Store:       s.store,
		Log:         log.Named("demo"),
	})

	s.ws = transport.NewWebSocket(transport.WebSocketOptions{
		MaxFrameSize:   conf.MaxFrameSize,
		WriteQueueSize: conf.WriteQueueSize,
		PingInterval:   conf.PingInterval,
		CheckOrigin:    checkOrigin(options.AnyOrigin),
		Trace:          conf.TraceFrames,
		Gateway:        s.gw,
		Log:            log.Named("websocket"),
	})

	s.tcp = transport.NewTCP(transport.Options{
		Host:           options.Host,
		Port:           options.Port,
		Reuseport:      options.Reuseport,
		NumListeners:   conf.NumListeners,
		MaxFrameSize:   conf.MaxFrameSize,
		WriteQueueSize: conf.WriteQueueSize,
		Trace:          conf.TraceFrames,
		Gateway:        s.gw,
		Log:            log.Named("transport"),
	})

	router := setupRouter(conf.DebugHTTP, log)

	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/ws", gin.WrapH(s.ws))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	s.app.Routes(router)

	s.http = &http.Server{
		Addr:    net.JoinHostPort(options.Host, strconv.Itoa(options.HTTPPort)),
		Handler: router,
	}

	return s
}

// Start binds the TCP listeners and the HTTP server. If either can't bind,
// whatever was started is closed again before the error is returned.
func (s *server) Start(ctx context.Context) error {
	relayCtx, stopRelay := context.WithCancel(context.Background())
	s.stopRelay = stopRelay
	s.relayDone = s.app.Relay(relayCtx)

	if err := s.tcp.Start(ctx); err != nil {
		return multierr.Append(err, s.Close())
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return multierr.Append(err, s.Close())
	}

	s.httpAddr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Http server errored", zap.Error(err))
		}
	}()

	return nil
}

// TCPAddr returns the address of the first TCP listener once started.
func (s *server) TCPAddr() net.Addr {
	return s.tcp.Addr()
}

// HTTPAddr returns the address the HTTP server listens on once started.
func (s *server) HTTPAddr() net.Addr {
	return s.httpAddr
}

// Shutdown stops accepting connections and gives the open ones until ctx
// expires to go away before closing them.
func (s *server) Shutdown(ctx context.Context) (err error) {
	s.http.SetKeepAlivesEnabled(false)

	err = multierr.Append(err, s.http.Shutdown(ctx))
	err = multierr.Append(err, s.tcp.Shutdown(ctx))

	return multierr.Append(err, s.stop())
}

// Close stops everything immediately.
func (s *server) Close() (err error) {
	err = multierr.Append(err, s.http.Close())
	err = multierr.Append(err, s.tcp.Close())

	return multierr.Append(err, s.stop())
}

func (s *server) stop() (err error) {
	// Hijacked websocket connections outlive the http server
	err = multierr.Append(err, s.ws.Close())
	err = multierr.Append(err, s.gw.Shutdown())

	if s.stopRelay != nil {
		s.stopRelay()
		<-s.relayDone
	}

	return multierr.Append(err, s.store.Close())
}

func checkOrigin(allowAll bool) func(r *http.Request) bool {
	if !allowAll {
		return nil
	}

	return func(*http.Request) bool {
		return true
	}
}
