package ticket

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCounterSequencerIncrementsWithinDay(t *testing.T) {
	seq := NewCounterSequencer()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for want := int64(1); want <= 3; want++ {
		got, err := seq.Next(context.Background(), day)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Fatalf("expected sequence %d, got %d", want, got)
		}
	}
}

func TestCounterSequencerResetsOnNewDay(t *testing.T) {
	seq := NewCounterSequencer()
	day1 := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	if _, err := seq.Next(context.Background(), day1); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := seq.Next(context.Background(), day1); err != nil {
		t.Fatalf("Next: %v", err)
	}

	got, err := seq.Next(context.Background(), day2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected sequence to reset to 1 on new day, got %d", got)
	}
}

func TestCounterSequencerConcurrentNoDuplicates(t *testing.T) {
	seq := NewCounterSequencer()
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	const workers = 20
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			n, err := seq.Next(context.Background(), day)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, workers)
	for n := range results {
		if seen[n] {
			t.Fatalf("duplicate ticket number %d", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct numbers, got %d", workers, len(seen))
	}
}
