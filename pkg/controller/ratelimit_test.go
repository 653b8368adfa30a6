package controller

import (
	"testing"
	"time"
)

func TestSlidingWindowCapsAnyWindow(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := newSlidingWindow(30, time.Minute)
	l.now = func() time.Time { return clock }

	for i := 0; i < 30; i++ {
		if !l.Allow("agent-1") {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if l.Allow("agent-1") {
		t.Error("31st request within the window admitted")
	}

	// Another agent is unaffected.
	if !l.Allow("agent-2") {
		t.Error("independent agent throttled")
	}

	// 30 seconds later: still the same rolling window, still full.
	clock = clock.Add(30 * time.Second)
	if l.Allow("agent-1") {
		t.Error("request admitted while the rolling window is still full")
	}

	// Just past the window, capacity returns.
	clock = clock.Add(31 * time.Second)
	if !l.Allow("agent-1") {
		t.Error("request denied after the window rolled past")
	}
}

func TestSlidingWindowNeverExceedsLimitInAnyWindow(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	l := newSlidingWindow(30, time.Minute)
	l.now = func() time.Time { return clock }

	// Issue requests every second for five minutes; record admissions.
	var admitted []time.Time
	for i := 0; i < 300; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		if l.Allow("agent-1") {
			admitted = append(admitted, clock)
		}
	}

	// Property: every 60-second window holds at most 30 admissions.
	for i := range admitted {
		count := 0
		for j := i; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < time.Minute {
				count++
			}
		}
		if count > 30 {
			t.Fatalf("window starting %v admitted %d requests", admitted[i], count)
		}
	}
}

func TestSlidingWindowForget(t *testing.T) {
	l := newSlidingWindow(1, time.Minute)
	if !l.Allow("agent-1") {
		t.Fatal("first request denied")
	}
	if l.Allow("agent-1") {
		t.Fatal("limit not enforced")
	}
	l.Forget("agent-1")
	if !l.Allow("agent-1") {
		t.Error("history survived Forget")
	}
}
