package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestPrefixedRoundTripsTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := "act_" + NewAt(at)
	if !strings.HasPrefix(Prefixed("act"), "act_") {
		t.Fatal("expected prefix")
	}
	got, ok := Time(id)
	if !ok {
		t.Fatalf("Time(%q) failed", id)
	}
	if !got.Equal(at) {
		t.Fatalf("Time() = %v, want %v", got, at)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected parse failure")
	}
}
