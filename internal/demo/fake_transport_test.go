package demo_test

import (
	"errors"
	"strconv"
	"sync"

	. "github.com/onsi/gomega"

	"github.com/luma/herald/protocol"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("closed")
	}

	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakeTransport) Events() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := make([]protocol.Event, 0, len(f.frames))
	for _, frame := range f.frames {
		e, err := protocol.Decode(frame)
		Expect(err).To(Succeed())
		events = append(events, e)
	}

	return events
}

// Named returns the events called name, in the order they were written.
func (f *fakeTransport) Named(name string) []protocol.Event {
	var named []protocol.Event
	for _, e := range f.Events() {
		if e.Name == name {
			named = append(named, e)
		}
	}

	return named
}

func uintString(n uint64) string {
	return strconv.FormatUint(n, 10)
}
