package main

import (
	"fmt"
	"io"

	"github.com/daviddao/lamportsim/pkg/causal"
	"github.com/daviddao/lamportsim/pkg/model"
)

// traceLine renders one transition the way it is printed while a scenario
// runs, e.g. "P2 -> P3: 'Mensagem 1' -> counter = 1".
func traceLine(e model.Event) string {
	switch e.Kind {
	case model.EventSend:
		return fmt.Sprintf("%s -> %s: '%s' -> counter = %d", e.ProcessID, e.Target, e.Payload, e.Counter)
	case model.EventReceive:
		return fmt.Sprintf("%s <- %s: '%s' -> counter = %d", e.ProcessID, e.Source, e.Payload, e.Counter)
	default:
		return fmt.Sprintf("%s: internal event -> counter = %d", e.ProcessID, e.Counter)
	}
}

// historyLine renders an event inside a per-process history dump.
func historyLine(e model.Event) string {
	switch e.Kind {
	case model.EventSend:
		return fmt.Sprintf("#%d send     counter=%d to=%s payload=%q sent_counter=%d",
			e.Seq, e.Counter, e.Target, e.Payload, e.SentCounter)
	case model.EventReceive:
		return fmt.Sprintf("#%d receive  counter=%d from=%s payload=%q received_sent_counter=%d",
			e.Seq, e.Counter, e.Source, e.Payload, e.ReceivedSentCounter)
	default:
		return fmt.Sprintf("#%d internal counter=%d", e.Seq, e.Counter)
	}
}

// printHistory writes "=== History P1 ===" followed by the events.
func printHistory(w io.Writer, pid model.ProcessID, events []model.Event) {
	fmt.Fprintf(w, "\n=== History %s ===\n", pid)
	if len(events) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s\n", historyLine(e))
	}
}

// printTotalOrder lists events in (counter, process) order.
func printTotalOrder(w io.Writer, events []model.Event) {
	fmt.Fprintln(w, "\n=== Total order (counter, process) ===")
	for i, e := range causal.TotalOrder(events) {
		fmt.Fprintf(w, "  %2d. (%d, %s) %s\n", i+1, e.Counter, e.ProcessID, e.Kind)
	}
}

// printAnalysis writes the verifier verdict.
func printAnalysis(w io.Writer, violations []causal.Violation) {
	fmt.Fprintln(w, "\n=== Causal order analysis ===")
	if len(violations) == 0 {
		fmt.Fprintln(w, "No violations. Every counter respects:")
		fmt.Fprintln(w, "  1. If A -> B in the same process, then L(A) < L(B)")
		fmt.Fprintln(w, "  2. If A is a send and B its receive, then L(A) < L(B)")
		fmt.Fprintln(w, "  3. The total order is given by the pair (counter, process id)")
		return
	}
	fmt.Fprintf(w, "%d violation(s):\n", len(violations))
	for _, v := range violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
}
