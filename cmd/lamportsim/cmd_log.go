package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/lamportsim/pkg/model"
	"github.com/daviddao/lamportsim/pkg/store"
)

func (a *app) logCommand() *cobra.Command {
	var pid string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "log <run-id>",
		Short: "Dump an archived run",
		Long: `Print an archived run's events in Lamport total order, or one process's
history in append order with --process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withStore(func(s store.StoreInterface) error {
				return a.cmdLog(s, args[0], model.ProcessID(pid), jsonOut)
			})
		},
	}
	cmd.Flags().StringVar(&pid, "process", "", "show only this process's history")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

func (a *app) cmdLog(s store.StoreInterface, runID string, pid model.ProcessID, jsonOut bool) error {
	if _, err := s.GetRun(runID); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	var events []model.Event
	var err error
	if pid != "" {
		events, err = s.ListProcessEvents(runID, pid)
	} else {
		events, err = s.ListEvents(runID)
	}
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	if jsonOut {
		return a.printJSON(map[string]any{"events": events, "count": len(events)})
	}
	if pid != "" {
		printHistory(a.stdout, pid, events)
		return nil
	}
	if len(events) == 0 {
		fmt.Fprintln(a.stdout, "no events")
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(a.stdout, "[%d] %s\n", e.Counter, traceLine(e))
	}
	return nil
}
