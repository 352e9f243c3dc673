// Package process implements a clock-bearing process: one Lamport clock and
// one append-only event history, changed only through three transitions.
//
//	InternalEvent  IR1, then append an internal event
//	Send           IR1, then append a send and return the Message
//	Receive        IR2 with the message's counter, then append a receive
//
// Transitions on one Process are serialised by its own mutex. Separate
// processes share nothing and may run in parallel.
//
// The core does not detect duplicate delivery. Handing the same Message to
// Receive twice records two receives, so delivering each Message exactly
// once is the caller's obligation.
package process

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/daviddao/lamportsim/pkg/clock"
	"github.com/daviddao/lamportsim/pkg/model"
)

// Observer is notified after each committed transition, outside the
// process lock. Concurrent transitions on one process may therefore reach
// an observer in a different order than their counters.
type Observer interface {
	Observe(e model.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(model.Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e model.Event) { f(e) }

// Option configures a Process.
type Option func(*Process)

// WithLogger sets the logger used for transition tracing (Debug level).
func WithLogger(l *slog.Logger) Option {
	return func(p *Process) {
		if l != nil {
			p.log = l
		}
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(p *Process) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// Process owns a Lamport clock and the history of events it produced.
type Process struct {
	id        model.ProcessID
	log       *slog.Logger
	observers []Observer

	mu      sync.Mutex
	clk     clock.Clock
	history []model.Event
}

// New creates a process with its counter at 0 and an empty history.
func New(id model.ProcessID, opts ...Option) *Process {
	p := &Process{
		id:  id,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("process", string(id))
	return p
}

// ID returns the process identifier.
func (p *Process) ID() model.ProcessID { return p.id }

// Counter returns the current clock value.
func (p *Process) Counter() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clk.Value()
}

// Len returns the number of events in the history.
func (p *Process) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// History returns a copy of the event history in append order.
func (p *Process) History() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Event, len(p.history))
	copy(out, p.history)
	return out
}

// InternalEvent records a local event. It cannot fail.
func (p *Process) InternalEvent() model.Event {
	p.mu.Lock()
	e := p.appendLocked(model.Event{
		Kind:    model.EventInternal,
		Counter: p.clk.Tick(),
	})
	p.mu.Unlock()

	p.log.Debug("internal event", "counter", e.Counter)
	p.notify(e)
	return e
}

// Send records a send to target and returns the event together with the
// Message the caller must deliver. target is not checked.
func (p *Process) Send(target model.ProcessID, payload string) (model.Event, model.Message) {
	p.mu.Lock()
	ts := p.clk.Tick()
	e := p.appendLocked(model.Event{
		Kind:        model.EventSend,
		Counter:     ts,
		Target:      target,
		Payload:     payload,
		SentCounter: ts,
	})
	p.mu.Unlock()

	p.log.Debug("send", "target", string(target), "payload", payload, "counter", e.Counter)
	p.notify(e)
	return e, model.Message{Source: p.id, Payload: payload, SentCounter: ts}
}

// Receive applies IR2 for msg and records the receive. An invalid message
// returns an error wrapping model.ErrInvalidMessage and leaves the process
// unchanged.
func (p *Process) Receive(msg model.Message) (model.Event, error) {
	if err := msg.Validate(); err != nil {
		p.log.Warn("rejected message", "source", string(msg.Source), "sent_counter", msg.SentCounter)
		return model.Event{}, fmt.Errorf("%s receive: %w", p.id, err)
	}

	p.mu.Lock()
	e := p.appendLocked(model.Event{
		Kind:                model.EventReceive,
		Counter:             p.clk.Receive(msg.SentCounter),
		Source:              msg.Source,
		Payload:             msg.Payload,
		ReceivedSentCounter: msg.SentCounter,
	})
	p.mu.Unlock()

	p.log.Debug("receive", "source", string(msg.Source), "payload", msg.Payload,
		"sent_counter", msg.SentCounter, "counter", e.Counter)
	p.notify(e)
	return e, nil
}

// appendLocked stamps e with this process's identity and next sequence
// number and appends it. p.mu must be held.
func (p *Process) appendLocked(e model.Event) model.Event {
	e.ProcessID = p.id
	e.Seq = len(p.history) + 1
	p.history = append(p.history, e)
	return e
}

func (p *Process) notify(e model.Event) {
	for _, o := range p.observers {
		o.Observe(e)
	}
}
