package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/daviddao/lamportsim/pkg/causal"
	"github.com/daviddao/lamportsim/pkg/driver"
	"github.com/daviddao/lamportsim/pkg/metrics"
	"github.com/daviddao/lamportsim/pkg/model"
	"github.com/daviddao/lamportsim/pkg/process"
	"github.com/daviddao/lamportsim/pkg/store"
)

type runFlags struct {
	scenario    string
	archive     bool
	jsonOut     bool
	metricsAddr string
}

// processReport is the JSON shape of one process after a run.
type processReport struct {
	ID      model.ProcessID `json:"id"`
	Counter int64           `json:"counter"`
	History []model.Event   `json:"history"`
}

type runReport struct {
	Scenario   string             `json:"scenario"`
	RunID      string             `json:"run_id,omitempty"`
	Processes  []processReport    `json:"processes"`
	TotalOrder []model.Event      `json:"total_order"`
	Violations []causal.Violation `json:"violations"`
}

func (a *app) runCommand() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and verify its causal order",
		Long: `Run a scenario (the built-in three-process demo by default), print every
clock transition, each process's history, the total order and the causal
analysis. Exits with status 3 when violations are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cmdRun(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.scenario, "scenario", "", "scenario file (yaml, json or toml); default is the built-in demo")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "archive the run in the trace database")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "JSON output")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address after the run until interrupted")
	_ = a.v.BindPFlag("metrics.addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func (a *app) cmdRun(ctx context.Context, f *runFlags) error {
	sc := driver.DefaultScenario()
	if f.scenario != "" {
		var err error
		if sc, err = driver.LoadScenario(f.scenario); err != nil {
			return err
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.log.Warn("metrics registration failed", "err", err)
	}

	d := driver.New(a.log, process.WithObserver(metrics.Observer()))
	if !f.jsonOut {
		fmt.Fprintf(a.stdout, "=== Scenario %s ===\n", sc.Name)
	}
	err := d.Run(sc, func(_ driver.Step, e model.Event) {
		if !f.jsonOut {
			fmt.Fprintln(a.stdout, traceLine(e))
		}
	})
	if err != nil {
		return err
	}
	if n := d.InFlight(); n > 0 {
		a.log.Warn("messages left undelivered", "count", n)
	}

	events, pairs := d.Snapshot()
	violations := causal.CheckCausalOrder(events, pairs)
	metrics.RecordVerification(violations)

	var runID string
	if f.archive {
		err := a.withStore(func(s store.StoreInterface) error {
			run, err := s.SaveRun(sc.Name, events, pairs)
			if err != nil {
				return err
			}
			runID = run.ID
			return nil
		})
		if err != nil {
			a.log.Error("archive failed", "err", err)
			return fmt.Errorf("archive run: %w", err)
		}
		a.log.Info("run archived", "run_id", runID, "events", len(events))
	}

	if f.jsonOut {
		rep := runReport{
			Scenario:   sc.Name,
			RunID:      runID,
			TotalOrder: causal.TotalOrder(events),
			Violations: violations,
		}
		for _, p := range d.Processes() {
			rep.Processes = append(rep.Processes, processReport{ID: p.ID(), Counter: p.Counter(), History: p.History()})
		}
		if err := a.printJSON(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(a.stdout, "\n=== Final summary ===")
		for _, p := range d.Processes() {
			fmt.Fprintf(a.stdout, "  %s: counter = %d\n", p.ID(), p.Counter())
		}
		for _, p := range d.Processes() {
			printHistory(a.stdout, p.ID(), p.History())
		}
		printTotalOrder(a.stdout, events)
		printAnalysis(a.stdout, violations)
		if runID != "" {
			fmt.Fprintf(a.stdout, "\narchived as run %s\n", runID)
		}
	}

	if addr := a.v.GetString("metrics.addr"); addr != "" {
		if err := a.serveMetrics(ctx, addr); err != nil {
			return err
		}
	}

	if len(violations) > 0 {
		return errViolations
	}
	return nil
}

// serveMetrics serves /metrics on addr until ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Fprintf(a.stderr, "serving metrics on %s/metrics (Ctrl-C to stop)\n", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
