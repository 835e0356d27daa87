package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/herald/protocol"
)

var _ = Describe("Codec", func() {
	Describe("Encode()", func() {
		It("writes the event name and payload", func() {
			frame := protocol.Encode(protocol.Event{
				Name:    "welcome",
				Payload: protocol.Payload(`{"message":"Connected !!!!"}`),
			})

			Expect(string(frame)).To(Equal(`{"event":"welcome","payload":{"message":"Connected !!!!"}}`))
		})

		It("omits the payload, id and ack when they are absent", func() {
			frame := protocol.Encode(protocol.Event{Name: "bare"})
			Expect(string(frame)).To(Equal(`{"event":"bare"}`))
		})

		It("writes the correlation id and ack flag", func() {
			frame := protocol.Encode(protocol.Event{
				Name:    "ping",
				Payload: protocol.Payload(`{"pong":true}`),
				ID:      7,
				HasID:   true,
				Ack:     true,
			})

			Expect(string(frame)).To(Equal(`{"event":"ping","payload":{"pong":true},"id":7,"ack":true}`))
		})

		It("keeps an id of zero", func() {
			frame := protocol.Encode(protocol.Event{Name: "zero", HasID: true})
			Expect(string(frame)).To(Equal(`{"event":"zero","id":0}`))
		})

		It("escapes awkward event names", func() {
			frame := protocol.Encode(protocol.Event{Name: `a"b\c`})

			e, err := protocol.Decode(frame)
			Expect(err).To(Succeed())
			Expect(e.Name).To(Equal(`a"b\c`))
		})

		It("never produces a multi-line frame", func() {
			frame := protocol.Encode(protocol.Event{
				Name:    "pretty",
				Payload: protocol.Payload("{\n  \"a\": [1,\r\n 2]\n}"),
			})

			Expect(string(frame)).NotTo(ContainSubstring("\n"))
			Expect(string(frame)).To(Equal(`{"event":"pretty","payload":{"a":[1,2]}}`))
		})

		It("leaves out payloads that aren't valid JSON", func() {
			frame := protocol.Encode(protocol.Event{
				Name:    "broken",
				Payload: protocol.Payload(`{bad`),
				ID:      3,
				HasID:   true,
			})

			Expect(string(frame)).To(Equal(`{"event":"broken","id":3}`))

			e, err := protocol.Decode(frame)
			Expect(err).To(Succeed())
			Expect(e).To(Equal(protocol.Event{Name: "broken", ID: 3, HasID: true}))
		})
	})

	Describe("Decode()", func() {
		It("parses a request carrying a correlation id", func() {
			e, err := protocol.Decode([]byte(`{"event":"ping","payload":{},"id":7}`))
			Expect(err).To(Succeed())
			Expect(e.Name).To(Equal("ping"))
			Expect(e.Payload.String()).To(Equal("{}"))
			Expect(e.HasID).To(BeTrue())
			Expect(e.ID).To(Equal(uint64(7)))
			Expect(e.Ack).To(BeFalse())
			Expect(e.WantsAck()).To(BeTrue())
		})

		It("parses an acknowledgement", func() {
			e, err := protocol.Decode([]byte(`{"event":"ping","payload":{"pong":true},"id":7,"ack":true}`))
			Expect(err).To(Succeed())
			Expect(e.Ack).To(BeTrue())
			Expect(e.WantsAck()).To(BeFalse())
			Expect(e.Payload.Get("pong").Bool()).To(BeTrue())
		})

		It("accepts any JSON value as a payload", func() {
			e, err := protocol.Decode([]byte(`{"event":"JSON","payload":"just a string"}`))
			Expect(err).To(Succeed())
			Expect(gjson.ParseBytes(e.Payload).String()).To(Equal("just a string"))
		})

		It("accepts ids beyond the float precision", func() {
			e, err := protocol.Decode([]byte(`{"event":"big","id":18446744073709551615}`))
			Expect(err).To(Succeed())
			Expect(e.ID).To(Equal(uint64(18446744073709551615)))
		})

		DescribeTable("rejects malformed frames with a DecodeError",
			func(frame string, reason error) {
				var (
					e   protocol.Event
					err error
				)

				Expect(func() { e, err = protocol.Decode([]byte(frame)) }).NotTo(Panic())
				Expect(e).To(Equal(protocol.Event{}))

				var decodeErr *protocol.DecodeError
				Expect(errors.As(err, &decodeErr)).To(BeTrue())
				Expect(err).To(MatchError(reason))
			},
			Entry("empty input", "", protocol.ErrMalformedFrame),
			Entry("garbage", "not json at all", protocol.ErrMalformedFrame),
			Entry("truncated object", `{"event":"ping"`, protocol.ErrMalformedFrame),
			Entry("binary", "\x00\xff\xfe", protocol.ErrMalformedFrame),
			Entry("array", `["ping",{}]`, protocol.ErrNotAnObject),
			Entry("string", `"ping"`, protocol.ErrNotAnObject),
			Entry("null", `null`, protocol.ErrNotAnObject),
			Entry("missing event", `{"payload":{}}`, protocol.ErrMissingEventName),
			Entry("empty event", `{"event":""}`, protocol.ErrMissingEventName),
			Entry("numeric event", `{"event":42}`, protocol.ErrMissingEventName),
			Entry("negative id", `{"event":"a","id":-1}`, protocol.ErrInvalidCorrelationID),
			Entry("fractional id", `{"event":"a","id":1.5}`, protocol.ErrInvalidCorrelationID),
			Entry("exponent id", `{"event":"a","id":1e3}`, protocol.ErrInvalidCorrelationID),
			Entry("string id", `{"event":"a","id":"7"}`, protocol.ErrInvalidCorrelationID),
			Entry("overflowing id", `{"event":"a","id":18446744073709551616}`, protocol.ErrInvalidCorrelationID),
			Entry("string ack", `{"event":"a","id":1,"ack":"yes"}`, protocol.ErrInvalidAckFlag),
			Entry("ack without id", `{"event":"a","ack":true}`, protocol.ErrInvalidAckFlag),
		)

		It("keeps only a bounded prefix of the offending frame", func() {
			frame := make([]byte, 4096)
			for i := range frame {
				frame[i] = 'x'
			}

			_, err := protocol.Decode(frame)

			var decodeErr *protocol.DecodeError
			Expect(errors.As(err, &decodeErr)).To(BeTrue())
			Expect(len(decodeErr.Frame)).To(BeNumerically("<=", 256))
		})
	})

	Describe("round trips", func() {
		DescribeTable("Decode(Encode(e)) == e",
			func(e protocol.Event) {
				decoded, err := protocol.Decode(protocol.Encode(e))
				Expect(err).To(Succeed())
				Expect(decoded).To(Equal(e))
			},
			Entry("name only", protocol.Event{Name: "bare"}),
			Entry("object payload", protocol.Event{Name: "JSON", Payload: protocol.Payload(`{"sensor":"temp","value":21.5}`)}),
			Entry("array payload", protocol.Event{Name: "list", Payload: protocol.Payload(`[1,2,3]`)}),
			Entry("null payload", protocol.Event{Name: "nothing", Payload: protocol.Payload(`null`)}),
			Entry("request", protocol.Event{Name: "atime", Payload: protocol.Payload(`{}`), ID: 3, HasID: true}),
			Entry("acknowledgement", protocol.Event{Name: "ping", Payload: protocol.Payload(`{"pong":true}`), ID: 7, HasID: true, Ack: true}),
			Entry("unicode name", protocol.Event{Name: "événement", Payload: protocol.Payload(`"ü"`)}),
		)
	})

	Describe("AckFor()", func() {
		It("copies the name and id and sets the ack flag", func() {
			req := protocol.Event{Name: "ping", ID: 7, HasID: true}
			ack := protocol.AckFor(req, protocol.Payload(`{"pong":true}`))

			Expect(ack).To(Equal(protocol.Event{
				Name:    "ping",
				Payload: protocol.Payload(`{"pong":true}`),
				ID:      7,
				HasID:   true,
				Ack:     true,
			}))
		})
	})
})
