package controller

import (
	"sync"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// maxStoredEvents bounds the fleet event buffer.
const maxStoredEvents = 1000

// eventRing keeps the last N events, evicting oldest-first. Critical
// sections are bounded: add and copy, nothing else.
type eventRing struct {
	mu  sync.Mutex
	buf []model.Event
	max int
}

func newEventRing(max int) *eventRing {
	return &eventRing{max: max}
}

func (r *eventRing) Add(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, ev)
	if len(r.buf) > r.max {
		r.buf = append(r.buf[:0], r.buf[len(r.buf)-r.max:]...)
	}
}

// Recent returns up to limit events, newest first.
func (r *eventRing) Recent(limit int) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.buf[i])
	}
	return out
}

// Len returns the current buffer length.
func (r *eventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
