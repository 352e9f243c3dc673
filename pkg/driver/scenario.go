package driver

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/daviddao/lamportsim/pkg/model"
)

// Operation names accepted in a Step.
const (
	OpInternal = "internal"
	OpSend     = "send"
	OpReceive  = "receive"
)

// Step is one scripted operation. For a send, Peer is the target; for a
// receive, Peer is the sender whose oldest message Process takes.
type Step struct {
	Op      string          `mapstructure:"op" json:"op"`
	Process model.ProcessID `mapstructure:"process" json:"process"`
	Peer    model.ProcessID `mapstructure:"peer" json:"peer,omitempty"`
	Payload string          `mapstructure:"payload" json:"payload,omitempty"`
}

func (s Step) String() string {
	switch s.Op {
	case OpSend:
		return fmt.Sprintf("%s sends %q to %s", s.Process, s.Payload, s.Peer)
	case OpReceive:
		return fmt.Sprintf("%s receives from %s", s.Process, s.Peer)
	default:
		return fmt.Sprintf("%s %s", s.Process, s.Op)
	}
}

// Scenario is a named script over a fixed set of processes.
type Scenario struct {
	Name      string            `mapstructure:"name" json:"name"`
	Processes []model.ProcessID `mapstructure:"processes" json:"processes"`
	Steps     []Step            `mapstructure:"steps" json:"steps"`
}

// DefaultScenario is the classic three-process exchange. Final counters are
// P1=5, P2=4, P3=3.
func DefaultScenario() Scenario {
	return Scenario{
		Name:      "lamport-demo",
		Processes: []model.ProcessID{"P1", "P2", "P3"},
		Steps: []Step{
			{Op: OpInternal, Process: "P1"},
			{Op: OpSend, Process: "P2", Peer: "P3", Payload: "Mensagem 1"},
			{Op: OpReceive, Process: "P3", Peer: "P2"},
			{Op: OpSend, Process: "P1", Peer: "P2", Payload: "Mensagem 2"},
			{Op: OpInternal, Process: "P3"},
			{Op: OpReceive, Process: "P2", Peer: "P1"},
			{Op: OpSend, Process: "P2", Peer: "P1", Payload: "Mensagem 3"},
			{Op: OpReceive, Process: "P1", Peer: "P2"},
		},
	}
}

// LoadScenario reads a scenario from a YAML, JSON or TOML file; the format
// follows the extension.
func LoadScenario(path string) (Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := v.Unmarshal(&sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Validate checks that every step names a known operation and declared
// processes. It does not simulate delivery.
func (sc Scenario) Validate() error {
	if len(sc.Processes) == 0 {
		return fmt.Errorf("no processes declared")
	}
	known := make(map[model.ProcessID]bool, len(sc.Processes))
	for _, id := range sc.Processes {
		if id == "" {
			return fmt.Errorf("%w: empty id in processes", ErrInvalidProcess)
		}
		if known[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateProcess, id)
		}
		known[id] = true
	}
	for i, s := range sc.Steps {
		if s.Process == "" {
			return fmt.Errorf("step %d: %w: missing process", i+1, ErrInvalidProcess)
		}
		if !known[s.Process] {
			return fmt.Errorf("step %d: %w: %q", i+1, ErrUnknownProcess, s.Process)
		}
		switch s.Op {
		case OpInternal:
		case OpSend, OpReceive:
			if s.Peer == "" {
				return fmt.Errorf("step %d: %w: missing peer", i+1, ErrInvalidProcess)
			}
			if !known[s.Peer] {
				return fmt.Errorf("step %d: %w: peer %q", i+1, ErrUnknownProcess, s.Peer)
			}
		default:
			return fmt.Errorf("step %d: %w: %q", i+1, ErrUnknownOp, s.Op)
		}
	}
	return nil
}

// Apply performs one step and returns the event it produced.
func (d *Driver) Apply(s Step) (model.Event, error) {
	switch s.Op {
	case OpInternal:
		return d.Internal(s.Process)
	case OpSend:
		return d.Send(s.Process, s.Peer, s.Payload)
	case OpReceive:
		return d.Deliver(s.Peer, s.Process)
	}
	return model.Event{}, fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
}

// Run registers the scenario's processes and applies its steps in order.
// fn, if non-nil, is called after each successful step. Run stops at the
// first failing step.
func (d *Driver) Run(sc Scenario, fn func(Step, model.Event)) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	for _, id := range sc.Processes {
		if _, err := d.AddProcess(id); err != nil {
			return err
		}
	}
	d.log.Info("scenario start", "name", sc.Name, "processes", len(sc.Processes), "steps", len(sc.Steps))
	for i, s := range sc.Steps {
		e, err := d.Apply(s)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s, err)
		}
		if fn != nil {
			fn(s, e)
		}
	}
	d.log.Info("scenario done", "name", sc.Name, "in_flight", d.InFlight())
	return nil
}
