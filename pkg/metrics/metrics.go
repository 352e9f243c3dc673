package metrics

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daviddao/lamportsim/pkg/causal"
	"github.com/daviddao/lamportsim/pkg/model"
	"github.com/daviddao/lamportsim/pkg/process"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	// highest counter seen per process; guards the counter gauge, since
	// observers of one process may be called out of order.
	highMu sync.Mutex
	high   = make(map[string]int64)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lamportsim",
			Subsystem: "process",
			Name:      "transitions_total",
			Help:      "Number of clock transitions by process and event kind.",
		}, []string{"process", "kind"},
	)
	counter = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lamportsim",
			Subsystem: "process",
			Name:      "counter",
			Help:      "Current Lamport counter of each process.",
		}, []string{"process"},
	)
	receiveJump = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lamportsim",
			Subsystem: "process",
			Name:      "receive_advance",
			Help:      "How far a receive moved the counter past the message's sent counter.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"process"},
	)
	violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lamportsim",
			Subsystem: "verifier",
			Name:      "violations_total",
			Help:      "Causal-order violations reported by the verifier.",
		}, []string{"kind"},
	)
	verifications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lamportsim",
			Subsystem: "verifier",
			Name:      "runs_total",
			Help:      "Number of verifier runs.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{transitions, counter, receiveJump, violations, verifications}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers below no-op until Register has succeeded.

// RecordEvent counts one committed transition.
func RecordEvent(e model.Event) {
	if !regOK.Load() {
		return
	}
	pid := string(e.ProcessID)
	transitions.WithLabelValues(pid, string(e.Kind)).Inc()
	raiseCounter(pid, e.Counter)
	if e.Kind == model.EventReceive {
		receiveJump.WithLabelValues(pid).Observe(float64(e.Counter - e.ReceivedSentCounter))
	}
}

// raiseCounter sets the counter gauge only when v exceeds what it holds.
func raiseCounter(pid string, v int64) {
	highMu.Lock()
	defer highMu.Unlock()
	if v <= high[pid] {
		return
	}
	high[pid] = v
	counter.WithLabelValues(pid).Set(float64(v))
}

// RecordVerification counts a verifier run and its findings.
func RecordVerification(vs []causal.Violation) {
	if !regOK.Load() {
		return
	}
	verifications.Inc()
	for _, v := range vs {
		violations.WithLabelValues(string(v.Kind)).Inc()
	}
}

// Observer returns a process.Observer that records every transition.
func Observer() process.Observer {
	return process.ObserverFunc(RecordEvent)
}
