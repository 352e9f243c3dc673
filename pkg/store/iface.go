// iface.go defines the StoreInterface for dependency injection and testing.
//
// The CLI depends on StoreInterface rather than *Store so that tests can
// substitute an in-memory fake.
package store

import "github.com/daviddao/lamportsim/pkg/model"

// StoreInterface defines the full set of trace archive operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Runs ---

	// CreateRun registers a new run under a fresh ID.
	CreateRun(name string) (*model.Run, error)

	// GetRun retrieves a run by ID.
	GetRun(id string) (*model.Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns() ([]model.Run, error)

	// DeleteRun removes a run and everything archived under it.
	DeleteRun(id string) error

	// SaveRun archives events and pairing under a new run.
	SaveRun(name string, events []model.Event, pairs map[model.EventID]model.EventID) (*model.Run, error)

	// --- Events ---

	// InsertEvents appends events to a run.
	InsertEvents(runID string, events []model.Event) error

	// ListEvents returns a run's events in Lamport total order.
	ListEvents(runID string) ([]model.Event, error)

	// ListProcessEvents returns one process's history in append order.
	ListProcessEvents(runID string, pid model.ProcessID) ([]model.Event, error)

	// CountEvents returns the number of events in a run.
	CountEvents(runID string) int64

	// --- Pairs ---

	// InsertPairs stores the receive → send pairing of a run.
	InsertPairs(runID string, pairs map[model.EventID]model.EventID) error

	// ListPairs returns the stored pairing of a run.
	ListPairs(runID string) (map[model.EventID]model.EventID, error)
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
