package clock

import (
	"testing"
	"time"
)

func TestManualNeverGoesBackwards(t *testing.T) {
	t.Parallel()
	m := NewManual(time.Second)
	m.Advance(-time.Hour)
	if got := m.Now(); got != time.Second {
		t.Fatalf("Now = %v after negative advance, want 1s", got)
	}
	m.Set(500 * time.Millisecond)
	if got := m.Now(); got != time.Second {
		t.Fatalf("Now = %v after backwards Set, want 1s", got)
	}
	if got := m.Advance(250 * time.Millisecond); got != 1250*time.Millisecond {
		t.Fatalf("Advance returned %v", got)
	}
}

func TestSystemIsMonotonic(t *testing.T) {
	t.Parallel()
	c := System()
	a := c.Now()
	b := c.Now()
	if b < a {
		t.Fatalf("system clock went backwards: %v then %v", a, b)
	}
}
