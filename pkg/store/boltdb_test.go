package store

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/slurmlet/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "slurmlet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertPendingAssignsMonotonicIDs(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.InsertPending(&types.Job{Command: "echo 1", CPUs: 1, MemMB: 1})
	require.NoError(t, err)
	id2, err := s.InsertPending(&types.Job{Command: "echo 2", CPUs: 1, MemMB: 1})
	require.NoError(t, err)

	require.Equal(t, int64(1), id1)
	require.Equal(t, int64(2), id2)

	job, err := s.Get(id1)
	require.NoError(t, err)
	require.Equal(t, types.JobPending, job.Status)
	require.Equal(t, "echo 1", job.Command)
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelOnlyFromPending(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertPending(&types.Job{Command: "sleep 1", CPUs: 1, MemMB: 1})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(id, types.JobCancelled, nil))
	job, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, job.Status)

	// Cancelling an already-cancelled job is idempotent.
	require.NoError(t, s.UpdateStatus(id, types.JobCancelled, nil))
	job, err = s.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, job.Status)
}

func TestCannotCancelRunningJob(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertPending(&types.Job{Command: "sleep 1", CPUs: 1, MemMB: 1})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(id, types.JobRunning, func(j *types.Job) {
		j.StartTime = 100
	}))

	err = s.UpdateStatus(id, types.JobCancelled, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReconcileOrphansFailsRunningRows(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertPending(&types.Job{Command: "sleep 1", CPUs: 1, MemMB: 1})
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(id, types.JobRunning, func(j *types.Job) { j.StartTime = 1 }))

	count, err := s.ReconcileOrphans()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	job, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, job.Status)
	require.Equal(t, -1, job.ReturnCode)
}

func TestListFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	_, err := s.InsertPending(&types.Job{Command: "a", CPUs: 1, MemMB: 1})
	require.NoError(t, err)
	id2, err := s.InsertPending(&types.Job{Command: "b", CPUs: 1, MemMB: 1})
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(id2, types.JobCancelled, nil))

	pending, err := s.List(ListFilter{Status: types.JobPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "a", pending[0].Command)

	all, err := s.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSetCurrentCPUsAndNodes(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertPending(&types.Job{Command: "a", CPUs: 2, MemMB: 1, IsElastic: true, MinCPUs: 1, MaxCPUs: 4})
	require.NoError(t, err)

	require.NoError(t, s.SetCurrentCPUs(id, 3))
	require.NoError(t, s.SetNodes(id, []string{"node1", "node2"}))

	job, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, 3, job.CurrentCPUs)
	require.Equal(t, "node1,node2", job.Nodes)
}
