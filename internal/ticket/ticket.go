package ticket

import (
	"context"
	"sync"
	"time"
)

// Sequencer hands out the daily receipt sequence. Numbers restart at 1 each
// day; they are display-only and do not participate in sale identity.
type Sequencer interface {
	Next(ctx context.Context, day time.Time) (int64, error)
}

// CounterSequencer is the in-process fallback used when Redis is not
// configured. Numbers reset on restart, which is acceptable for a ticket
// label but means duplicates across restarts on the same day.
type CounterSequencer struct {
	mu      sync.Mutex
	day     string
	counter int64
}

func NewCounterSequencer() *CounterSequencer {
	return &CounterSequencer{}
}

func (s *CounterSequencer) Next(_ context.Context, day time.Time) (int64, error) {
	key := day.UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.day != key {
		s.day = key
		s.counter = 0
	}
	s.counter++
	return s.counter, nil
}
