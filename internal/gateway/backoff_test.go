package gateway

import (
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second, 1.5)

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
	}

	// Never exceeds the cap.
	for i := 0; i < 20; i++ {
		if got := b.next(); got > 30*time.Second {
			t.Fatalf("delay exceeded cap: %v", got)
		}
	}
	if got := b.next(); got != 30*time.Second {
		t.Errorf("expected capped delay 30s, got %v", got)
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second, 1.5)
	for i := 0; i < 5; i++ {
		b.next()
	}
	b.reset()
	if got := b.next(); got != time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := newBackoff(0, 0, 0)
	if b.floor != defaultBackoffFloor || b.cap != defaultBackoffCap || b.factor != defaultBackoffFactor {
		t.Errorf("defaults not applied: %+v", b)
	}
}
