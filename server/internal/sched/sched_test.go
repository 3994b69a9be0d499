package sched

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func drain(s *Scheduler) []Fired {
	var out []Fired
	for {
		select {
		case f := <-s.C():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestArm_FiresAfterDuration(t *testing.T) {
	clk := NewFakeClock(t0)
	s := New(clk)
	defer s.Close()

	k := Key{Name: "modal", Entity: "critical-host"}
	if dl := s.Arm(k, 15*time.Second); !dl.Equal(t0.Add(15 * time.Second)) {
		t.Errorf("deadline: got %v", dl)
	}

	clk.Advance(14 * time.Second)
	if got := drain(s); len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}
	clk.Advance(time.Second)
	got := drain(s)
	if len(got) != 1 || got[0].Key != k {
		t.Fatalf("expected one expiry for %v, got %v", k, got)
	}
	if !s.Accept(got[0]) {
		t.Error("Accept: live expiry rejected")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending after accept: got %d, want 0", s.Pending())
	}
}

func TestRearm_DropsStaleExpiry(t *testing.T) {
	clk := NewFakeClock(t0)
	s := New(clk)
	defer s.Close()
	k := Key{Name: "minimize"}

	s.Arm(k, 10*time.Second)
	// Capture a stale generation by firing a first timer manually.
	stale := Fired{Key: k, Gen: 1}
	s.Arm(k, 10*time.Second)

	if s.Accept(stale) {
		t.Error("Accept: stale generation accepted after re-arm")
	}
	clk.Advance(10 * time.Second)
	got := drain(s)
	if len(got) != 1 {
		t.Fatalf("expected exactly the re-armed expiry, got %v", got)
	}
	if !s.Accept(got[0]) {
		t.Error("Accept: re-armed expiry rejected")
	}
}

func TestCancel(t *testing.T) {
	clk := NewFakeClock(t0)
	s := New(clk)
	defer s.Close()
	k := Key{Name: "repeat", Entity: "batch"}

	s.Arm(k, time.Second)
	if !s.Cancel(k) {
		t.Fatal("Cancel: expected armed timer")
	}
	if s.Cancel(k) {
		t.Error("Cancel twice: expected false")
	}
	clk.Advance(time.Minute)
	if got := drain(s); len(got) != 0 {
		t.Errorf("cancelled timer fired: %v", got)
	}
	if _, ok := s.Deadline(k); ok {
		t.Error("Deadline: expected none after cancel")
	}
}

func TestIndependentKeys(t *testing.T) {
	clk := NewFakeClock(t0)
	s := New(clk)
	defer s.Close()
	a := Key{Name: "modal", Entity: "disk"}
	b := Key{Name: "modal", Entity: "recovery"}

	s.Arm(a, 15*time.Second)
	s.Arm(b, 7*time.Second)
	clk.Advance(7 * time.Second)

	got := drain(s)
	if len(got) != 1 || got[0].Key != b {
		t.Fatalf("expected only %v, got %v", b, got)
	}
	if dl, ok := s.Deadline(a); !ok || !dl.Equal(t0.Add(15*time.Second)) {
		t.Errorf("Deadline(a): got %v %v", dl, ok)
	}
}

func TestRealClock(t *testing.T) {
	s := New(nil)
	defer s.Close()
	k := Key{Name: "tick"}
	s.Arm(k, 5*time.Millisecond)

	select {
	case f := <-s.C():
		if !s.Accept(f) {
			t.Error("Accept: rejected real expiry")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real timer never fired")
	}
}
