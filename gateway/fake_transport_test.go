package gateway_test

import (
	"errors"
	"sync"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luma/herald/protocol"
)

var errDeadTransport = errors.New("transport endpoint is not connected")

// fakeTransport records every frame written to it.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	writeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func newDeadTransport() *fakeTransport {
	return &fakeTransport{writeErr: errDeadTransport}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}

	if f.closed {
		return errDeadTransport
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

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
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

func (f *fakeTransport) LastEvent() protocol.Event {
	events := f.Events()
	Expect(events).NotTo(BeEmpty())

	return events[len(events)-1]
}

func frame(s string) []byte {
	return []byte(s)
}

// metricValue sums every series of the named counter or gauge.
func metricValue(registry *prometheus.Registry, name string) float64 {
	families, err := registry.Gather()
	Expect(err).To(Succeed())

	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}

		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}

	return total
}
