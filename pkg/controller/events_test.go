package controller

import (
	"fmt"
	"testing"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

func TestEventRingBoundAndEviction(t *testing.T) {
	r := newEventRing(5)
	for i := 0; i < 12; i++ {
		r.Add(model.Event{Kind: model.EventKind(fmt.Sprintf("ev-%d", i))})
	}

	if r.Len() != 5 {
		t.Fatalf("ring length = %d, want 5", r.Len())
	}

	recent := r.Recent(0)
	if len(recent) != 5 {
		t.Fatalf("recent = %d events, want 5", len(recent))
	}
	// Newest first; oldest surviving entry is ev-7.
	if recent[0].Kind != "ev-11" || recent[4].Kind != "ev-7" {
		t.Errorf("eviction not oldest-first: first=%s last=%s", recent[0].Kind, recent[4].Kind)
	}
}

func TestEventRingRecentLimit(t *testing.T) {
	r := newEventRing(10)
	for i := 0; i < 4; i++ {
		r.Add(model.Event{Kind: model.EventKind(fmt.Sprintf("ev-%d", i))})
	}

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent(2) = %d events", len(recent))
	}
	if recent[0].Kind != "ev-3" || recent[1].Kind != "ev-2" {
		t.Errorf("order wrong: %v", recent)
	}
}
