package store

import "github.com/cuemby/slurmlet/pkg/types"

// ListFilter narrows List to jobs matching a status. A zero value (empty
// Status) returns every job.
type ListFilter struct {
	Status types.JobStatus
}

// Store is the persistent job table: single writer for RUNNING-state
// mutations (the daemon), free reads, append-only inserts from any client.
type Store interface {
	// InsertPending atomically allocates an id and appends a PENDING job.
	InsertPending(job *types.Job) (int64, error)

	// List returns jobs matching filter, ordered by id ascending.
	List(filter ListFilter) ([]*types.Job, error)

	// Get returns a job by id, or ErrNotFound.
	Get(id int64) (*types.Job, error)

	// UpdateStatus loads the job, applies mutate, and conditionally
	// transitions its status. No transition leaves a terminal status
	// (ErrInvalidTransition), except that cancelling an already-CANCELLED
	// job is a no-op success. Transitioning to CANCELLED only succeeds
	// from PENDING; other transitions out of PENDING or RUNNING are not
	// checked further, the daemon being the state machine's sole writer
	// for them.
	UpdateStatus(id int64, status types.JobStatus, mutate func(*types.Job)) error

	// SetCurrentCPUs updates the current_cpus field of a running elastic job.
	SetCurrentCPUs(id int64, cpus int) error

	// SetNodes updates the persisted node assignment of a job.
	SetNodes(id int64, nodes []string) error

	// ReconcileOrphans marks every RUNNING row FAILED (a crashed daemon
	// cannot have live children under its new process) and returns the
	// number of rows fixed up. Called once at daemon startup.
	ReconcileOrphans() (int, error)

	Close() error
}
