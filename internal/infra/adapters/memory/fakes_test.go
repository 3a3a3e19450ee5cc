package memory

import (
	"sync"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

func (s *recordingSink) Send(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}
