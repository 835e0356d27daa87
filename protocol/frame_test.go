package protocol_test

import (
	"bytes"
	"io"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/herald/protocol"
)

var _ = Describe("Framing", func() {
	Describe("FrameReader", func() {
		It("splits a stream on newlines", func() {
			r := protocol.NewFrameReader(strings.NewReader("{\"event\":\"a\"}\n{\"event\":\"b\"}\r\n"), 0)

			frame, err := r.ReadFrame()
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal(`{"event":"a"}`))

			frame, err = r.ReadFrame()
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal(`{"event":"b"}`))

			_, err = r.ReadFrame()
			Expect(err).To(MatchError(io.EOF))
		})

		It("skips blank lines", func() {
			r := protocol.NewFrameReader(strings.NewReader("\n\r\n\n{\"event\":\"a\"}\n"), 0)

			frame, err := r.ReadFrame()
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal(`{"event":"a"}`))
		})

		It("returns an unexpected EOF for a trailing partial frame", func() {
			r := protocol.NewFrameReader(strings.NewReader(`{"event":"a"}`), 0)

			_, err := r.ReadFrame()
			Expect(err).To(MatchError(io.ErrUnexpectedEOF))
		})

		It("rejects frames longer than the maximum size", func() {
			r := protocol.NewFrameReader(strings.NewReader(strings.Repeat("x", 100)+"\n"), 10)

			_, err := r.ReadFrame()
			Expect(err).To(MatchError(protocol.ErrFrameTooLarge))
		})

		It("rejects oversized frames that overflow the read buffer", func() {
			r := protocol.NewFrameReader(strings.NewReader(strings.Repeat("x", 64*1024)), 8*1024)

			_, err := r.ReadFrame()
			Expect(err).To(MatchError(protocol.ErrFrameTooLarge))
		})

		It("reads frames larger than the read buffer when they fit the limit", func() {
			big := `{"event":"big","payload":"` + strings.Repeat("x", 10000) + `"}`
			r := protocol.NewFrameReader(strings.NewReader(big+"\n"), 0)

			frame, err := r.ReadFrame()
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal(big))
		})
	})

	Describe("WriteFrame()", func() {
		It("terminates the frame with a newline", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteFrame(w, []byte(`{"event":"a"}`))).To(Succeed())
			Expect(w.String()).To(Equal("{\"event\":\"a\"}\n"))
		})

		It("produces frames the FrameReader can read back", func() {
			w := bytes.NewBuffer([]byte{})
			e := protocol.Event{Name: "rtime", Payload: protocol.Payload(`{"time":"2020-01-01T00:00:00Z"}`), ID: 1, HasID: true}

			Expect(protocol.WriteFrame(w, protocol.Encode(e))).To(Succeed())

			frame, err := protocol.NewFrameReader(w, 0).ReadFrame()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(frame)
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(e))
		})
	})

	Describe("RemoveTerminator()", func() {
		It("does nothing if the data does not end in a terminator", func() {
			data := []byte("I am awesome data")
			Expect(protocol.RemoveTerminator(data)).To(Equal(data))
		})

		It("removes the trailing CR LF", func() {
			input := []byte("I am awesome data\r\n")
			output := []byte("I am awesome data")
			Expect(protocol.RemoveTerminator(input)).To(Equal(output))
		})

		It("copes with empty input", func() {
			Expect(protocol.RemoveTerminator([]byte{})).To(BeEmpty())
		})
	})
})
