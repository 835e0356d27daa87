package gateway_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/luma/herald/gateway"
	"github.com/luma/herald/protocol"
)

var _ = Describe("gateway / Gateway", func() {
	var gw *gateway.Gateway

	BeforeEach(func() {
		gw = gateway.New(gateway.Options{})
	})

	Describe("Accept()", func() {
		It("tracks the connection until it closes", func() {
			conn := gw.Accept(newFakeTransport())
			Expect(gw.Len()).To(Equal(1))
			Expect(gw.Connections()).To(ConsistOf(conn))

			Expect(conn.Close()).To(Succeed())
			Expect(gw.Len()).To(Equal(0))
		})

		It("runs OnConnect before returning", func() {
			var seen *gateway.Connection
			gw = gateway.New(gateway.Options{
				OnConnect: func(conn *gateway.Connection) {
					seen = conn
					conn.Register("ping", func(msg *gateway.Message) error {
						return msg.Reply(map[string]bool{"pong": true})
					})
				},
			})

			transport := newFakeTransport()
			conn := gw.Accept(transport)
			Expect(seen).To(BeIdenticalTo(conn))

			// The very first frame already finds its handler
			conn.Receive(frame(`{"event":"ping","payload":{},"id":7}`))
			Expect(transport.Events()).To(Equal([]protocol.Event{{
				Name:    "ping",
				Payload: protocol.Payload(`{"pong":true}`),
				ID:      7,
				HasID:   true,
				Ack:     true,
			}}))
			Expect(conn.Stats().PendingAcks).To(BeZero())
		})

		It("closes connections whose OnConnect panics", func() {
			gw = gateway.New(gateway.Options{
				OnConnect: func(*gateway.Connection) { panic("nope") },
			})

			var conn *gateway.Connection
			Expect(func() { conn = gw.Accept(newFakeTransport()) }).NotTo(Panic())
			Expect(conn.IsOpen()).To(BeFalse())
			Expect(gw.Len()).To(Equal(0))
		})
	})

	Describe("Broadcast()", func() {
		It("reaches every open connection", func() {
			a, b := newFakeTransport(), newFakeTransport()
			gw.Accept(a)
			gw.Accept(b)

			report, err := gw.Broadcast("arduino", map[string]string{"message": "R0"})
			Expect(err).To(Succeed())
			Expect(report.Attempted).To(Equal(2))
			Expect(report.Delivered).To(Equal(2))
			Expect(report.Err).To(Succeed())

			for _, t := range []*fakeTransport{a, b} {
				Expect(t.LastEvent()).To(Equal(protocol.Event{
					Name:    "arduino",
					Payload: protocol.Payload(`{"message":"R0"}`),
				}))
			}
		})

		It("keeps going when one connection's transport is dead", func() {
			alive, dead := newFakeTransport(), newDeadTransport()
			gw.Accept(alive)
			deadConn := gw.Accept(dead)

			report, err := gw.Broadcast("alert", map[string]int{"level": 1})
			Expect(err).To(Succeed())

			Expect(alive.LastEvent()).To(Equal(protocol.Event{
				Name:    "alert",
				Payload: protocol.Payload(`{"level":1}`),
			}))

			Expect(report.Attempted).To(Equal(2))
			Expect(report.Delivered).To(Equal(1))
			Expect(multierr.Errors(report.Err)).To(HaveLen(1))
			Expect(errors.Is(report.Err, errDeadTransport)).To(BeTrue())

			// The failed connection went down the close path
			Expect(deadConn.IsOpen()).To(BeFalse())
			Expect(gw.Len()).To(Equal(1))
		})

		It("skips connections that closed before the broadcast", func() {
			a, b := newFakeTransport(), newFakeTransport()
			gw.Accept(a)
			connB := gw.Accept(b)
			Expect(gw.Remove(connB)).To(Succeed())

			report, err := gw.Broadcast("x", nil)
			Expect(err).To(Succeed())
			Expect(report.Attempted).To(Equal(1))
			Expect(b.Events()).To(BeEmpty())
		})

		It("tolerates connections closing from inside the loop", func() {
			transports := []*fakeTransport{newFakeTransport(), newFakeTransport(), newFakeTransport()}
			for _, t := range transports {
				gw.Accept(t)
			}

			// Closing every connection's transport makes each send fail and
			// remove its connection while Broadcast is still iterating
			for _, t := range transports {
				Expect(t.Close()).To(Succeed())
			}

			var report gateway.BroadcastReport
			Expect(func() { report, _ = gw.Broadcast("x", nil) }).NotTo(Panic())
			Expect(report.Attempted).To(Equal(3))
			Expect(report.Delivered).To(Equal(0))
			Expect(gw.Len()).To(Equal(0))
		})

		It("returns an error for empty names and bad payloads", func() {
			gw.Accept(newFakeTransport())

			_, err := gw.Broadcast("", nil)
			Expect(err).To(MatchError(gateway.ErrEmptyEventName))

			_, err = gw.Broadcast("x", protocol.Payload(`{not json`))
			Expect(err).To(MatchError(protocol.ErrInvalidPayload))

			_, err = gw.Broadcast("a\xffb", nil)
			Expect(err).To(MatchError(gateway.ErrInvalidEventName))
		})
	})

	Describe("Remove()", func() {
		It("stops tracking and closes the connection", func() {
			transport := newFakeTransport()
			conn := gw.Accept(transport)

			Expect(gw.Remove(conn)).To(Succeed())
			Expect(gw.Len()).To(Equal(0))
			Expect(conn.IsOpen()).To(BeFalse())
			Expect(transport.IsClosed()).To(BeTrue())
		})
	})

	Describe("Shutdown()", func() {
		It("closes every connection", func() {
			conns := []*gateway.Connection{
				gw.Accept(newFakeTransport()),
				gw.Accept(newFakeTransport()),
			}

			Expect(gw.Shutdown()).To(Succeed())
			Expect(gw.Len()).To(Equal(0))

			for _, conn := range conns {
				Expect(conn.IsOpen()).To(BeFalse())
			}
		})
	})

	Describe("metrics", func() {
		It("tracks open connections and broadcast failures", func() {
			registry := prometheus.NewRegistry()
			gw = gateway.New(gateway.Options{Metrics: gateway.NewMetrics(registry)})

			gw.Accept(newFakeTransport())
			gw.Accept(newDeadTransport())
			Expect(metricValue(registry, "herald_connections")).To(Equal(2.0))

			_, err := gw.Broadcast("x", nil)
			Expect(err).To(Succeed())

			Expect(metricValue(registry, "herald_connections")).To(Equal(1.0))
			Expect(metricValue(registry, "herald_connections_accepted_total")).To(Equal(2.0))
			Expect(metricValue(registry, "herald_broadcast_failures_total")).To(Equal(1.0))
			Expect(metricValue(registry, "herald_events_sent_total")).To(Equal(1.0))
		})
	})
})
