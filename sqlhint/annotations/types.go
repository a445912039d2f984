// Package annotations provides a low-overhead event system for tracing hint
// resolution and hash table recycling. It is the logging channel of the
// module: components emit events into an optional Collector, and handlers
// decide where they go.
package annotations

import (
	"sync"
	"time"
)

// Event names, grouped by the component that emits them
const (
	// Hint pipeline
	HintParsed     = "hint/parsed"
	HintSkipped    = "hint/skipped"
	HintDropped    = "hint/dropped"
	HintResolved   = "hint/resolved"
	HintPropagated = "hint/propagated"

	// Hash table recycler
	RecyclerHit    = "recycler/hit"
	RecyclerMiss   = "recycler/miss"
	RecyclerWait   = "recycler/wait"
	RecyclerBuild  = "recycler/build"
	RecyclerBypass = "recycler/bypass"
	RecyclerFailed = "recycler/failed"
	RecyclerEvict  = "recycler/evict"
)

// Event is one recorded step. Instantaneous events have zero Latency.
type Event struct {
	Name    string
	Start   time.Time
	End     time.Time
	Latency time.Duration
	Data    map[string]interface{}
}

// Handler receives each event right after it is recorded
type Handler func(event Event)

// Collector accumulates events. A nil *Collector is valid and drops
// everything, so components can hold one unconditionally.
type Collector struct {
	enabled bool
	handler Handler
	events  []Event
	mu      sync.Mutex
}

// NewCollector returns a collector feeding handler. A nil handler disables it.
func NewCollector(handler Handler) *Collector {
	return &Collector{
		enabled: handler != nil,
		handler: handler,
		events:  make([]Event, 0, 64),
	}
}

// Enabled reports whether events are recorded
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled
}

// Add records an event and hands it to the handler
func (c *Collector) Add(event Event) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	// handlers may emit events of their own
	c.handler(event)
}

// AddEvent records an instantaneous event.
func (c *Collector) AddEvent(name string, data map[string]interface{}) {
	if !c.Enabled() {
		return
	}
	now := time.Now()
	c.Add(Event{Name: name, Start: now, End: now, Data: data})
}

// AddTiming records an event that began at start and ends now
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if !c.Enabled() {
		return
	}

	end := time.Now()
	c.Add(Event{
		Name:    name,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns a copy of the recorded events
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many events with the given name were recorded
func (c *Collector) Count(name string) int {
	n := 0
	for _, e := range c.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Reset forgets the recorded events
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
