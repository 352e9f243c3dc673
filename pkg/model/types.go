// Package model defines the core domain types for lamportsim.
//
// A simulation is a set of processes that share no clock and talk only by
// discrete messages. Each process stamps its events with a Lamport counter:
// the counter advances before every local event and send, and on receipt it
// jumps to max(own, sent) + 1. The counters therefore respect causality:
// if event A happened before event B, counter(A) < counter(B).
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMessage is returned by a receive given a Message that no send
// could have produced.
var ErrInvalidMessage = errors.New("invalid message")

// ProcessID identifies a process. Uniqueness is the caller's concern.
type ProcessID string

// EventKind tags the variant of an Event.
type EventKind string

const (
	EventInternal EventKind = "internal"
	EventSend     EventKind = "send"
	EventReceive  EventKind = "receive"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventInternal, EventSend, EventReceive:
		return true
	}
	return false
}

// EventID names an event by its owning process and 1-based position in
// that process's history.
type EventID struct {
	ProcessID ProcessID `json:"process_id"`
	Seq       int       `json:"seq"`
}

func (id EventID) String() string { return fmt.Sprintf("%s#%d", id.ProcessID, id.Seq) }

// Event is a single entry in a process history. Counter is the clock value
// after the transition that produced it.
//
// Target, Payload and SentCounter are set for sends; Source, Payload and
// ReceivedSentCounter for receives. Internal events carry only the common
// fields.
type Event struct {
	Kind      EventKind `json:"kind"`
	Counter   int64     `json:"counter"`
	ProcessID ProcessID `json:"process_id"`
	Seq       int       `json:"seq"`

	Target              ProcessID `json:"target,omitempty"`
	Source              ProcessID `json:"source,omitempty"`
	Payload             string    `json:"payload,omitempty"`
	SentCounter         int64     `json:"sent_counter,omitempty"`
	ReceivedSentCounter int64     `json:"received_sent_counter,omitempty"`
}

// ID returns the event's identity.
func (e Event) ID() EventID { return EventID{ProcessID: e.ProcessID, Seq: e.Seq} }

// Message is what a send hands to the driver for delivery. It is a value
// and must be delivered to exactly one receive.
type Message struct {
	Source      ProcessID `json:"source"`
	Payload     string    `json:"payload"`
	SentCounter int64     `json:"sent_counter"`
}

// Validate rejects messages no send could have produced: every send ticks
// its clock first, so SentCounter is at least 1.
func (m Message) Validate() error {
	if m.Source == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidMessage)
	}
	if m.SentCounter < 1 {
		return fmt.Errorf("%w: sent counter %d from %s", ErrInvalidMessage, m.SentCounter, m.Source)
	}
	return nil
}

// Run describes an archived simulation run.
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
