package network

import (
	"container/heap"
)

// EventType represents the type of simulation event
type EventType int

const (
	// EventTypeSpikeDelivery is a recurrent spike reaching its target after the synaptic delay
	EventTypeSpikeDelivery EventType = iota
	// EventTypeNoise is one external Poisson input to a neuron
	EventTypeNoise
)

func (t EventType) String() string {
	switch t {
	case EventTypeSpikeDelivery:
		return "spike_delivery"
	case EventTypeNoise:
		return "noise"
	default:
		return "unknown"
	}
}

// Event is a discrete input to one neuron
type Event struct {
	TimeMs    float64
	Type      EventType
	Target    int
	Amplitude float64

	seq uint64
}

// EventQueue is a priority queue of events ordered by time. Events with
// equal times leave in scheduling order, which keeps runs with the same seed
// reproducible. It is owned by a single simulation and not safe for
// concurrent use.
type EventQueue struct {
	events []*Event
	seq    uint64
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	eq := &EventQueue{}
	heap.Init(eq)
	return eq
}

// Len returns the number of events in the queue
func (eq *EventQueue) Len() int {
	return len(eq.events)
}

// Less orders events by time, then by scheduling order
func (eq *EventQueue) Less(i, j int) bool {
	a, b := eq.events[i], eq.events[j]
	if a.TimeMs != b.TimeMs {
		return a.TimeMs < b.TimeMs
	}
	return a.seq < b.seq
}

// Swap swaps two events in the queue
func (eq *EventQueue) Swap(i, j int) {
	eq.events[i], eq.events[j] = eq.events[j], eq.events[i]
}

// Push adds an event to the queue
func (eq *EventQueue) Push(x any) {
	eq.events = append(eq.events, x.(*Event))
}

// Pop removes and returns the last event of the heap slice
func (eq *EventQueue) Pop() any {
	old := eq.events
	n := len(old)
	event := old[n-1]
	old[n-1] = nil
	eq.events = old[:n-1]
	return event
}

// Schedule adds an event to the queue
func (eq *EventQueue) Schedule(event *Event) {
	eq.seq++
	event.seq = eq.seq
	heap.Push(eq, event)
}

// Next removes and returns the earliest event, or nil when the queue is empty
func (eq *EventQueue) Next() *Event {
	if eq.Len() == 0 {
		return nil
	}
	return heap.Pop(eq).(*Event)
}

// Peek returns the earliest event without removing it
func (eq *EventQueue) Peek() *Event {
	if eq.Len() == 0 {
		return nil
	}
	return eq.events[0]
}

// Clear removes all events from the queue
func (eq *EventQueue) Clear() {
	eq.events = nil
	eq.seq = 0
}

// IsEmpty returns true if the queue is empty
func (eq *EventQueue) IsEmpty() bool {
	return eq.Len() == 0
}
