// Package causal checks recorded histories against Lamport's clock
// condition and orders them totally.
//
// Event A causally precedes event B (A → B) when both belong to the same
// process and A was appended first, or when A is a send and B the receive
// of its message. The clock condition demands counter(A) < counter(B) for
// every such pair; longer chains follow by transitivity.
//
// All functions here are pure. They keep no state and never modify their
// inputs, so concurrent calls on independent snapshots are safe.
package causal

import (
	"fmt"
	"sort"

	"github.com/daviddao/lamportsim/pkg/clock"
	"github.com/daviddao/lamportsim/pkg/model"
)

// ViolationKind classifies a verifier finding.
type ViolationKind string

const (
	// ViolationProcessOrder: a later event of a process has a counter not
	// greater than an earlier one.
	ViolationProcessOrder ViolationKind = "process_order"
	// ViolationSendReceive: a receive's counter is not greater than its
	// matched send's.
	ViolationSendReceive ViolationKind = "send_receive"
	// ViolationBadPair: a pairing names an event that is missing from the
	// input, or that is not a send/receive of the right shape.
	ViolationBadPair ViolationKind = "bad_pair"
)

// Violation is one pair of events that breaks the clock condition. For
// ViolationBadPair the missing side is left zero.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Before model.Event   `json:"before"`
	After  model.Event   `json:"after"`
	Detail string        `json:"detail,omitempty"`
}

func (v Violation) String() string {
	switch v.Kind {
	case ViolationBadPair:
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	default:
		return fmt.Sprintf("%s: %s (counter %d) -> %s (counter %d)",
			v.Kind, v.Before.ID(), v.Before.Counter, v.After.ID(), v.After.Counter)
	}
}

// CheckCausalOrder returns every pair of events in events that violates the
// clock condition. pairs maps each receive to the send it consumed. A nil
// result means the histories are consistent.
//
// Violations are reported in a stable order: process-order findings by
// process ID and position, then pairing findings by receive ID.
func CheckCausalOrder(events []model.Event, pairs map[model.EventID]model.EventID) []Violation {
	var out []Violation

	byProc := make(map[model.ProcessID][]model.Event)
	index := make(map[model.EventID]model.Event, len(events))
	for _, e := range events {
		byProc[e.ProcessID] = append(byProc[e.ProcessID], e)
		index[e.ID()] = e
	}

	procs := make([]model.ProcessID, 0, len(byProc))
	for pid := range byProc {
		procs = append(procs, pid)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i] < procs[j] })

	for _, pid := range procs {
		h := byProc[pid]
		sort.SliceStable(h, func(i, j int) bool { return h[i].Seq < h[j].Seq })
		for i := 0; i < len(h); i++ {
			for j := i + 1; j < len(h); j++ {
				if h[i].Seq == h[j].Seq {
					continue
				}
				if h[i].Counter >= h[j].Counter {
					out = append(out, Violation{Kind: ViolationProcessOrder, Before: h[i], After: h[j]})
				}
			}
		}
	}

	recvIDs := make([]model.EventID, 0, len(pairs))
	for r := range pairs {
		recvIDs = append(recvIDs, r)
	}
	sort.Slice(recvIDs, func(i, j int) bool { return idLess(recvIDs[i], recvIDs[j]) })

	for _, rid := range recvIDs {
		sid := pairs[rid]
		recv, okR := index[rid]
		send, okS := index[sid]
		switch {
		case !okR || !okS:
			out = append(out, Violation{
				Kind: ViolationBadPair, Before: send, After: recv,
				Detail: fmt.Sprintf("pair %s <- %s references an unknown event", rid, sid),
			})
		case send.Kind != model.EventSend || recv.Kind != model.EventReceive:
			out = append(out, Violation{
				Kind: ViolationBadPair, Before: send, After: recv,
				Detail: fmt.Sprintf("pair %s <- %s is %s <- %s, want receive <- send", rid, sid, recv.Kind, send.Kind),
			})
		case send.Counter >= recv.Counter:
			out = append(out, Violation{Kind: ViolationSendReceive, Before: send, After: recv})
		}
	}
	return out
}

// TotalOrder returns a copy of events sorted by (Counter, ProcessID). Events
// of one process never share a counter, so the order is fully determined.
func TotalOrder(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return clock.TotalOrderLess(out[i].Counter, string(out[i].ProcessID), out[j].Counter, string(out[j].ProcessID))
	})
	return out
}

// MatchPairs reconstructs the receive → send pairing from the events
// themselves. A receive matches the send of its Source whose SentCounter
// equals the receive's ReceivedSentCounter and whose Target is the
// receiver. Receives with no such send are left out; CheckCausalOrder
// cannot judge them.
func MatchPairs(events []model.Event) map[model.EventID]model.EventID {
	type key struct {
		from    model.ProcessID
		to      model.ProcessID
		counter int64
	}
	sends := make(map[key]model.EventID)
	for _, e := range events {
		if e.Kind == model.EventSend {
			sends[key{e.ProcessID, e.Target, e.SentCounter}] = e.ID()
		}
	}
	pairs := make(map[model.EventID]model.EventID)
	for _, e := range events {
		if e.Kind != model.EventReceive {
			continue
		}
		if sid, ok := sends[key{e.Source, e.ProcessID, e.ReceivedSentCounter}]; ok {
			pairs[e.ID()] = sid
		}
	}
	return pairs
}

func idLess(a, b model.EventID) bool {
	if a.ProcessID != b.ProcessID {
		return a.ProcessID < b.ProcessID
	}
	return a.Seq < b.Seq
}
