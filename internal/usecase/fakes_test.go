package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/sfu"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []events.Outbound
	closed bool
}

func (s *recordingSink) Send(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return runtime.ErrSinkClosed
	}

	if out, ok := frame.(events.Outbound); ok {
		s.frames = append(s.frames, out)
	}

	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

func (s *recordingSink) ofType(eventType string) []events.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Outbound
	for _, f := range s.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}

	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = nil
}

// attach registers a new connection of userID and returns it with its sink.
func attach(registry memory.ConnectionRegistry, userID uuid.UUID) (*runtime.Connection, *recordingSink) {
	sink := &recordingSink{}
	conn := runtime.NewConnection(userID, sink)
	registry.Register(conn)

	return conn, sink
}

// fakeRelay is an in-memory sfu.Capability that counts closed handles.
// failOnce("close "+handle, err) makes one Close of handle fail and leave it open.
type fakeRelay struct {
	mu sync.Mutex

	seq  int
	open map[string]string // handle -> producer for consumers, "" otherwise
	fail map[string]error  // operation -> error returned once

	// closes of handles that were still open
	closeCalls int
	closed     []string

	// keepConsumers stops Close of a producer from closing its consumers.
	keepConsumers bool

	// hook runs before an operation returns, outside the lock.
	hook func(op string)

	lost chan struct{}
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		open: make(map[string]string),
		fail: make(map[string]error),
		lost: make(chan struct{}),
	}
}

func (f *fakeRelay) failOnce(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fail[op] = err
}

func (f *fakeRelay) enter(op string) error {
	f.mu.Lock()
	err := f.fail[op]
	delete(f.fail, op)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(op)
	}

	return err
}

func (f *fakeRelay) newHandle(prefix, parent string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	h := fmt.Sprintf("%s%d", prefix, f.seq)
	f.open[h] = parent

	return h
}

func (f *fakeRelay) isOpen(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.open[handle]
	return ok
}

func (f *fakeRelay) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.open)
}

func (f *fakeRelay) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closeCalls
}

func (f *fakeRelay) RTPCapabilities() sfu.RTPCapabilities {
	return sfu.RTPCapabilities{Codecs: []sfu.RTPCodec{{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
}

func (f *fakeRelay) CreateTransport(_ context.Context, _ uuid.UUID) (sfu.TransportInfo, error) {
	if err := f.enter("createTransport"); err != nil {
		return sfu.TransportInfo{}, err
	}

	return sfu.TransportInfo{ID: f.newHandle(sfu.TransportPrefix, ""), Direction: "sendrecv"}, nil
}

func (f *fakeRelay) Connect(_ context.Context, transport string, params sfu.ConnectParams) (sfu.ConnectResult, error) {
	if err := f.enter("connect"); err != nil {
		return sfu.ConnectResult{}, err
	}

	if !f.isOpen(transport) {
		return sfu.ConnectResult{}, sfu.ErrNotFound
	}

	return sfu.ConnectResult{Type: "answer", SDP: "v=0 " + params.SDP}, nil
}

func (f *fakeRelay) Produce(_ context.Context, transport string, _ sfu.ProduceParams) (string, error) {
	if err := f.enter("produce"); err != nil {
		return "", err
	}

	if !f.isOpen(transport) {
		return "", sfu.ErrNotFound
	}

	return f.newHandle(sfu.ProducerPrefix, ""), nil
}

func (f *fakeRelay) Consume(_ context.Context, transport, producer string, _ sfu.RTPCapabilities) (sfu.ConsumerInfo, error) {
	if err := f.enter("consume"); err != nil {
		return sfu.ConsumerInfo{}, err
	}

	if !f.isOpen(transport) || !f.isOpen(producer) {
		return sfu.ConsumerInfo{}, sfu.ErrNotFound
	}

	return sfu.ConsumerInfo{
		ID:         f.newHandle(sfu.ConsumerPrefix, producer),
		ProducerID: producer,
		Kind:       "audio",
		Paused:     true,
	}, nil
}

func (f *fakeRelay) Resume(_ context.Context, consumer string) error {
	if err := f.enter("resume"); err != nil {
		return err
	}

	if !f.isOpen(consumer) {
		return sfu.ErrNotFound
	}

	return nil
}

func (f *fakeRelay) Close(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.fail["close "+handle]; ok {
		delete(f.fail, "close "+handle)
		return err
	}

	if _, ok := f.open[handle]; !ok {
		return nil
	}

	f.closeCalls++
	f.closed = append(f.closed, handle)

	delete(f.open, handle)
	if f.keepConsumers {
		return nil
	}

	for h, parent := range f.open {
		if parent == handle {
			delete(f.open, h)
		}
	}

	return nil
}

func (f *fakeRelay) Lost() <-chan struct{} {
	return f.lost
}
