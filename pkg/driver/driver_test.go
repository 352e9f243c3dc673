package driver

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/daviddao/lamportsim/pkg/causal"
	"github.com/daviddao/lamportsim/pkg/model"
)

func runDefault(t *testing.T) *Driver {
	t.Helper()
	d := New(nil)
	if err := d.Run(DefaultScenario(), nil); err != nil {
		t.Fatalf("Run(default): %v", err)
	}
	return d
}

func counters(t *testing.T, d *Driver) map[model.ProcessID]int64 {
	t.Helper()
	out := make(map[model.ProcessID]int64)
	for _, p := range d.Processes() {
		out[p.ID()] = p.Counter()
	}
	return out
}

func TestDefaultScenario_StepByStep(t *testing.T) {
	d := New(nil)
	sc := DefaultScenario()
	var got []int64
	if err := d.Run(sc, func(_ Step, e model.Event) { got = append(got, e.Counter) }); err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 1, 2, 2, 3, 3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("per-step counters: got %v, want %v", got, want)
	}
}

func TestDefaultScenario_FinalCounters(t *testing.T) {
	d := runDefault(t)
	want := map[model.ProcessID]int64{"P1": 5, "P2": 4, "P3": 3}
	if got := counters(t, d); !reflect.DeepEqual(got, want) {
		t.Fatalf("final counters: got %v, want %v", got, want)
	}
	if n := d.InFlight(); n != 0 {
		t.Fatalf("in flight after run: %d, want 0", n)
	}
}

func TestDefaultScenario_NoViolations(t *testing.T) {
	d := runDefault(t)
	if v := d.Verify(); len(v) != 0 {
		t.Fatalf("default run: %d violations: %v", len(v), v)
	}
	if n := len(d.Pairs()); n != 3 {
		t.Fatalf("pairs: got %d, want 3", n)
	}
}

func TestDefaultScenario_Messages(t *testing.T) {
	d := runDefault(t)
	p2, _ := d.Process("P2")
	h := p2.History()
	if h[0].Kind != model.EventSend || h[0].Target != "P3" || h[0].SentCounter != 1 {
		t.Fatalf("P2 first event: %+v", h[0])
	}
	p1, _ := d.Process("P1")
	last := p1.History()[2]
	if last.Kind != model.EventReceive || last.Source != "P2" || last.ReceivedSentCounter != 4 || last.Counter != 5 {
		t.Fatalf("P1 final receive: %+v", last)
	}
}

func TestDefaultScenario_PairsMatchInferred(t *testing.T) {
	d := runDefault(t)
	if got, want := causal.MatchPairs(d.Events()), d.Pairs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("MatchPairs: got %v, want %v", got, want)
	}
}

func TestSendReceiveCausality(t *testing.T) {
	d := runDefault(t)
	index := make(map[model.EventID]model.Event)
	for _, e := range d.Events() {
		index[e.ID()] = e
	}
	for r, s := range d.Pairs() {
		recv, send := index[r], index[s]
		if recv.Counter < send.Counter+1 {
			t.Fatalf("%s counter %d < send %s counter %d + 1", r, recv.Counter, s, send.Counter)
		}
	}
}

func TestAddProcess_Duplicate(t *testing.T) {
	d := New(nil)
	if _, err := d.AddProcess("P1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddProcess("P1"); !errors.Is(err, ErrDuplicateProcess) {
		t.Fatalf("duplicate: err = %v, want ErrDuplicateProcess", err)
	}
}

func TestAddProcess_EmptyID(t *testing.T) {
	d := New(nil)
	_, err := d.AddProcess("")
	if !errors.Is(err, ErrInvalidProcess) {
		t.Fatalf("empty id: err = %v, want ErrInvalidProcess", err)
	}
	if errors.Is(err, ErrUnknownProcess) {
		t.Fatal("empty id should not be reported as unknown")
	}
}

func TestUnknownProcess(t *testing.T) {
	d := New(nil)
	d.AddProcess("P1")
	if _, err := d.Internal("P9"); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("Internal: err = %v", err)
	}
	if _, err := d.Send("P1", "P9", "x"); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("Send to unknown: err = %v", err)
	}
	if _, err := d.Deliver("P1", "P9"); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("Deliver to unknown: err = %v", err)
	}
}

func TestDeliver_EmptyChannel(t *testing.T) {
	d := New(nil)
	d.AddProcess("P1")
	d.AddProcess("P2")
	if _, err := d.Deliver("P1", "P2"); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("err = %v, want ErrNoMessage", err)
	}
	p2, _ := d.Process("P2")
	if p2.Counter() != 0 {
		t.Fatalf("failed delivery changed counter to %d", p2.Counter())
	}
}

func TestDeliver_FIFOPerChannelAndExactlyOnce(t *testing.T) {
	d := New(nil)
	d.AddProcess("A")
	d.AddProcess("B")
	d.Send("A", "B", "first")
	d.Send("A", "B", "second")
	if n := d.InFlight(); n != 2 {
		t.Fatalf("in flight: %d, want 2", n)
	}

	e1, err := d.Deliver("A", "B")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := d.Deliver("A", "B")
	if err != nil {
		t.Fatal(err)
	}
	if e1.Payload != "first" || e2.Payload != "second" {
		t.Fatalf("delivery order: %q, %q", e1.Payload, e2.Payload)
	}
	if _, err := d.Deliver("A", "B"); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("third delivery: err = %v, want ErrNoMessage", err)
	}
}

func TestRun_StopsAtFailingStep(t *testing.T) {
	sc := Scenario{
		Name:      "early-receive",
		Processes: []model.ProcessID{"P1", "P2"},
		Steps: []Step{
			{Op: OpReceive, Process: "P2", Peer: "P1"},
			{Op: OpInternal, Process: "P1"},
		},
	}
	d := New(nil)
	err := d.Run(sc, nil)
	if !errors.Is(err, ErrNoMessage) {
		t.Fatalf("err = %v, want ErrNoMessage", err)
	}
	p1, _ := d.Process("P1")
	if p1.Counter() != 0 {
		t.Fatal("steps after the failure were applied")
	}
}

func TestScenario_Validate(t *testing.T) {
	base := []model.ProcessID{"P1", "P2"}
	tests := []struct {
		name string
		sc   Scenario
		want error
	}{
		{"no processes", Scenario{}, nil},
		{"empty process id", Scenario{Processes: []model.ProcessID{"P1", ""}}, ErrInvalidProcess},
		{"step without process", Scenario{Processes: base, Steps: []Step{{Op: OpInternal}}}, ErrInvalidProcess},
		{"send without peer", Scenario{Processes: base, Steps: []Step{{Op: OpSend, Process: "P1"}}}, ErrInvalidProcess},
		{"duplicate process", Scenario{Processes: []model.ProcessID{"P1", "P1"}}, ErrDuplicateProcess},
		{"unknown step process", Scenario{Processes: base, Steps: []Step{{Op: OpInternal, Process: "P3"}}}, ErrUnknownProcess},
		{"unknown peer", Scenario{Processes: base, Steps: []Step{{Op: OpSend, Process: "P1", Peer: "P3"}}}, ErrUnknownProcess},
		{"unknown op", Scenario{Processes: base, Steps: []Step{{Op: "teleport", Process: "P1"}}}, ErrUnknownOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sc.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if err := DefaultScenario().Validate(); err != nil {
		t.Fatalf("default scenario invalid: %v", err)
	}
}

func TestLoadScenario_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping.yaml")
	yaml := `name: ping-pong
processes: [A, B]
steps:
  - op: send
    process: A
    peer: B
    payload: ping
  - op: receive
    process: B
    peer: A
  - op: send
    process: B
    peer: A
    payload: pong
  - op: receive
    process: A
    peer: B
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if sc.Name != "ping-pong" || len(sc.Processes) != 2 || len(sc.Steps) != 4 {
		t.Fatalf("decoded scenario: %+v", sc)
	}
	if sc.Steps[0].Payload != "ping" || sc.Steps[0].Peer != "B" {
		t.Fatalf("first step: %+v", sc.Steps[0])
	}

	d := New(nil)
	if err := d.Run(sc, nil); err != nil {
		t.Fatal(err)
	}
	want := map[model.ProcessID]int64{"A": 4, "B": 3}
	if got := counters(t, d); !reflect.DeepEqual(got, want) {
		t.Fatalf("counters: got %v, want %v", got, want)
	}
}

func TestLoadScenario_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"processes":["A"],"steps":[{"op":"jump","process":"A"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScenario(path); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("err = %v, want ErrUnknownOp", err)
	}
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestVerify_ConcurrentWithDelivery(t *testing.T) {
	d := New(nil)
	for _, id := range []model.ProcessID{"A", "B"} {
		if _, err := d.AddProcess(id); err != nil {
			t.Fatal(err)
		}
	}

	const rounds = 300
	done := make(chan error, 1)
	go func() {
		for range rounds {
			if _, err := d.Send("A", "B", "x"); err != nil {
				done <- err
				return
			}
			if _, err := d.Deliver("A", "B"); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for checks := 0; ; checks++ {
		if vs := d.Verify(); len(vs) != 0 {
			t.Fatalf("check %d: got %d violations on a correct run, first: %s", checks, len(vs), vs[0])
		}
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
			if vs := d.Verify(); len(vs) != 0 {
				t.Fatalf("final: got %v", vs)
			}
			if got := len(d.Pairs()); got != rounds {
				t.Fatalf("pairs: got %d, want %d", got, rounds)
			}
			return
		default:
		}
	}
}

func TestSnapshot_PairsReferenceSnapshotEvents(t *testing.T) {
	d := New(nil)
	if err := d.Run(DefaultScenario(), nil); err != nil {
		t.Fatal(err)
	}
	events, pairs := d.Snapshot()
	ids := make(map[model.EventID]bool, len(events))
	for _, e := range events {
		ids[e.ID()] = true
	}
	for r, s := range pairs {
		if !ids[r] || !ids[s] {
			t.Fatalf("pair %s <- %s names an event outside the snapshot", r, s)
		}
	}
	if len(events) != 8 || len(pairs) != 3 {
		t.Fatalf("snapshot: got %d events and %d pairs, want 8 and 3", len(events), len(pairs))
	}
}
