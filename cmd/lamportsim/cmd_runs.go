package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/lamportsim/pkg/store"
)

func (a *app) runsCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived runs",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.withStore(func(s store.StoreInterface) error {
				return a.cmdRuns(s, jsonOut)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

type runSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Events    int64     `json:"events"`
}

func (a *app) cmdRuns(s store.StoreInterface, jsonOut bool) error {
	runs, err := s.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	out := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, runSummary{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt, Events: s.CountEvents(r.ID)})
	}

	if jsonOut {
		return a.printJSON(map[string]any{"runs": out, "count": len(out)})
	}
	if len(out) == 0 {
		fmt.Fprintln(a.stdout, "no archived runs")
		return nil
	}
	for _, r := range out {
		fmt.Fprintf(a.stdout, "%s  %-20s  %3d events  %s\n", r.ID, r.Name, r.Events, r.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}
