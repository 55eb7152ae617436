package clock_test

import (
	"testing"
	"time"

	"pkt.systems/booksden/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := clock.NewManual(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Now()=%v want %v", got, start)
	}
	if got := m.Advance(25 * time.Hour); !got.Equal(start.Add(25 * time.Hour)) {
		t.Fatalf("Advance returned %v", got)
	}
	if got := m.Advance(-time.Hour); !got.Equal(start.Add(25 * time.Hour)) {
		t.Fatalf("negative advance moved the clock to %v", got)
	}
	m.Set(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Set did not rewind clock, got %v", got)
	}
}
