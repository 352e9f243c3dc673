// Package driver issues operations against a set of processes and carries
// their messages between them.
//
// The core packages leave delivery to the caller. A Driver is one such
// caller: it keeps a FIFO queue per (source, target) channel, pops each
// Message exactly once and records which send every receive consumed, so
// that the run can be handed to the causal verifier afterwards.
package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daviddao/lamportsim/pkg/causal"
	"github.com/daviddao/lamportsim/pkg/logger"
	"github.com/daviddao/lamportsim/pkg/model"
	"github.com/daviddao/lamportsim/pkg/process"
)

var (
	ErrInvalidProcess   = errors.New("invalid process id")
	ErrUnknownProcess   = errors.New("unknown process")
	ErrDuplicateProcess = errors.New("duplicate process")
	ErrNoMessage        = errors.New("no message in flight")
	ErrUnknownOp        = errors.New("unknown operation")
)

type channel struct {
	from, to model.ProcessID
}

type inflight struct {
	msg  model.Message
	send model.EventID
}

// Driver owns a registry of processes and their in-flight messages.
type Driver struct {
	log  *slog.Logger
	opts []process.Option

	mu     sync.Mutex
	procs  map[model.ProcessID]*process.Process
	order  []model.ProcessID
	queues map[channel][]inflight
	pairs  map[model.EventID]model.EventID
}

// New creates an empty driver. opts are applied to every process it
// creates. A nil logger discards output.
func New(log *slog.Logger, opts ...process.Option) *Driver {
	if log == nil {
		log = logger.Discard()
	}
	return &Driver{
		log:    log,
		opts:   opts,
		procs:  make(map[model.ProcessID]*process.Process),
		queues: make(map[channel][]inflight),
		pairs:  make(map[model.EventID]model.EventID),
	}
}

// AddProcess creates and registers a process with counter 0.
func (d *Driver) AddProcess(id model.ProcessID) (*process.Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidProcess)
	}
	if _, ok := d.procs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProcess, id)
	}
	opts := append([]process.Option{process.WithLogger(d.log)}, d.opts...)
	p := process.New(id, opts...)
	d.procs[id] = p
	d.order = append(d.order, id)
	return p, nil
}

// Process returns the registered process with the given id.
func (d *Driver) Process(id model.ProcessID) (*process.Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupLocked(id)
}

// Processes returns the registered processes in creation order.
func (d *Driver) Processes() []*process.Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*process.Process, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.procs[id])
	}
	return out
}

// Internal records an internal event on id.
func (d *Driver) Internal(id model.ProcessID) (model.Event, error) {
	p, err := d.Process(id)
	if err != nil {
		return model.Event{}, err
	}
	e := p.InternalEvent()
	d.log.Info("internal event", "process", string(id), "counter", e.Counter)
	return e, nil
}

// Send has from send payload to to and queues the resulting Message on the
// (from, to) channel.
func (d *Driver) Send(from, to model.ProcessID, payload string) (model.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.lookupLocked(from)
	if err != nil {
		return model.Event{}, err
	}
	if _, err := d.lookupLocked(to); err != nil {
		return model.Event{}, err
	}
	e, msg := p.Send(to, payload)
	ch := channel{from, to}
	d.queues[ch] = append(d.queues[ch], inflight{msg: msg, send: e.ID()})
	d.log.Info("send", "from", string(from), "to", string(to), "payload", payload, "counter", e.Counter)
	return e, nil
}

// Deliver hands the oldest in-flight message on (from, to) to the receiver.
// The message leaves the queue only if the receive succeeds.
func (d *Driver) Deliver(from, to model.ProcessID) (model.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.lookupLocked(to)
	if err != nil {
		return model.Event{}, err
	}
	ch := channel{from, to}
	q := d.queues[ch]
	if len(q) == 0 {
		return model.Event{}, fmt.Errorf("%w: %s -> %s", ErrNoMessage, from, to)
	}
	head := q[0]
	e, err := p.Receive(head.msg)
	if err != nil {
		return model.Event{}, err
	}
	if len(q) == 1 {
		delete(d.queues, ch)
	} else {
		d.queues[ch] = q[1:]
	}
	d.pairs[e.ID()] = head.send
	d.log.Info("receive", "from", string(from), "to", string(to), "payload", head.msg.Payload,
		"sent_counter", head.msg.SentCounter, "counter", e.Counter)
	return e, nil
}

// InFlight returns the number of messages sent but not yet delivered.
func (d *Driver) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

// Events returns every recorded event, process by process in creation
// order, each process's events in history order.
func (d *Driver) Events() []model.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventsLocked()
}

// Pairs returns a copy of the receive → send pairing recorded so far.
func (d *Driver) Pairs() map[model.EventID]model.EventID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pairsLocked()
}

// Snapshot returns the histories and the pairing as of one instant. Every
// pair in the result names events that are in the result.
func (d *Driver) Snapshot() ([]model.Event, map[model.EventID]model.EventID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventsLocked(), d.pairsLocked()
}

// Verify runs the causal verifier over a consistent snapshot of the run.
// It may be called while other goroutines are still driving it.
func (d *Driver) Verify() []causal.Violation {
	return causal.CheckCausalOrder(d.Snapshot())
}

// eventsLocked requires d.mu. Deliver holds d.mu across Receive and the
// pair write, so histories read here agree with d.pairs. Internal does not
// take d.mu, but internal events never appear in a pair.
func (d *Driver) eventsLocked() []model.Event {
	var out []model.Event
	for _, id := range d.order {
		out = append(out, d.procs[id].History()...)
	}
	return out
}

func (d *Driver) pairsLocked() map[model.EventID]model.EventID {
	out := make(map[model.EventID]model.EventID, len(d.pairs))
	for r, s := range d.pairs {
		out[r] = s
	}
	return out
}

func (d *Driver) lookupLocked(id model.ProcessID) (*process.Process, error) {
	p, ok := d.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	return p, nil
}
