package protocol

import (
	"bufio"
	"errors"
	"io"
)

const (
	// DefaultMaxFrameSize is used when a FrameReader is created without a limit
	DefaultMaxFrameSize = 64 * 1024
)

var (
	Terminal = []byte("\n")
)

// FrameReader splits a byte stream into `\n` delimited frames.
//
// To avoid denial of service attacks frames longer than maxSize are rejected
// with ErrFrameTooLarge. The stream is unusable after that and the connection
// should be dropped.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
}

func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize < 1 {
		maxSize = DefaultMaxFrameSize
	}

	return &FrameReader{
		r:       bufio.NewReader(r),
		maxSize: maxSize,
	}
}

// ReadFrame returns the next non-empty frame without its terminator.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var frame []byte

	for {
		chunk, err := f.r.ReadSlice('\n')
		frame = append(frame, chunk...)

		switch {
		case err == nil:
			frame = RemoveTerminator(frame)

			if len(frame) > f.maxSize {
				return nil, ErrFrameTooLarge
			}

			if len(frame) == 0 {
				// Blank lines are keepalives, skip them
				frame = frame[:0]
				continue
			}

			return frame, nil

		case errors.Is(err, bufio.ErrBufferFull):
			if len(frame) > f.maxSize {
				return nil, ErrFrameTooLarge
			}

		case errors.Is(err, io.EOF) && len(frame) > 0:
			return nil, io.ErrUnexpectedEOF

		default:
			return nil, err
		}
	}
}

// WriteFrame writes a single frame followed by the terminator in one Write call.
func WriteFrame(w io.Writer, frame []byte) error {
	b := make([]byte, 0, len(frame)+len(Terminal))
	b = append(b, frame...)
	b = append(b, Terminal...)

	_, err := w.Write(b)
	return err
}

// RemoveTerminator strips the trailing `\n` and an optional `\r` before it.
func RemoveTerminator(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	if len(data) > 0 && data[len(data)-1] == '\r' {
		// Remove the optional trailing \r
		data = data[:len(data)-1]
	}

	return data
}
