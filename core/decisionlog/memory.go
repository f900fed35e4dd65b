package decisionlog

import (
	"context"
	"sync"
)

// MemoryStore keeps the last records in a ring buffer.
type MemoryStore struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
}

// NewMemoryStore returns a store holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{buf: make([]Record, capacity)}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = rec
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Query returns matching records, oldest first.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ordered []Record
	if s.full {
		ordered = append(ordered, s.buf[s.next:]...)
	}
	ordered = append(ordered, s.buf[:s.next]...)
	var res []Record
	for _, r := range ordered {
		if q.match(r) {
			res = append(res, r)
		}
	}
	return q.limit(res), nil
}

func (s *MemoryStore) Close() error { return nil }
