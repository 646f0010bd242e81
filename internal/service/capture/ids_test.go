package capture

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestGenerator_Next(t *testing.T) {
	gen := NewGenerator()

	id := gen.Next()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("expected a UUID, got %q: %v", id, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected version 4, got %d", parsed.Version())
	}
	if gen.Issued() != 1 {
		t.Errorf("expected 1 issued, got %d", gen.Issued())
	}
}

func TestGenerator_ThreadSafety(t *testing.T) {
	gen := NewGenerator()
	numGoroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*perGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- gen.Next()
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate capture ID generated: %s", id)
		}
		seen[id] = true
	}

	expected := numGoroutines * perGoroutine
	if len(seen) != expected {
		t.Errorf("expected %d unique IDs, got %d", expected, len(seen))
	}
	if gen.Issued() != uint64(expected) {
		t.Errorf("expected %d issued, got %d", expected, gen.Issued())
	}
}
