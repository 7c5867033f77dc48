package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/slurmlet/pkg/resources"
	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/supervisor"
	"github.com/cuemby/slurmlet/pkg/topology"
	"github.com/cuemby/slurmlet/pkg/types"
)

func newTestScheduler(t *testing.T) (*Scheduler, store.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "slurmlet.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	model := resources.NewModel(4, 4096)
	sup := supervisor.New(filepath.Join(dir, "logs"))

	sched := New(Config{
		Store:          st,
		Model:          model,
		Supervisor:     sup,
		ElasticEnabled: false,
		PollInterval:   time.Second,
	})
	return sched, st
}

func TestTickAdmitsPendingJob(t *testing.T) {
	sched, st := newTestScheduler(t)

	id, err := st.InsertPending(&types.Job{Command: "true", CPUs: 1, MemMB: 64})
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	if err := sched.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	job, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != types.JobRunning {
		t.Fatalf("expected RUNNING, got %s", job.Status)
	}
	if job.Pid == 0 {
		t.Fatal("expected a nonzero pid")
	}
}

func TestTickReapsCompletedJob(t *testing.T) {
	sched, st := newTestScheduler(t)

	id, err := st.InsertPending(&types.Job{Command: "true", CPUs: 1, MemMB: 64})
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	if err := sched.Tick(); err != nil {
		t.Fatalf("first Tick: %v", err)
	}

	// Give the child a moment to exit before reaping.
	time.Sleep(100 * time.Millisecond)

	if err := sched.Tick(); err != nil {
		t.Fatalf("second Tick: %v", err)
	}

	job, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != types.JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.ReturnCode != 0 {
		t.Fatalf("expected return code 0, got %d", job.ReturnCode)
	}
}

func TestTickMarksNonZeroExitFailed(t *testing.T) {
	sched, st := newTestScheduler(t)

	id, err := st.InsertPending(&types.Job{Command: "false", CPUs: 1, MemMB: 64})
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	if err := sched.Tick(); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := sched.Tick(); err != nil {
		t.Fatalf("second Tick: %v", err)
	}

	job, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != types.JobFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.ReturnCode == 0 {
		t.Fatal("expected a nonzero return code")
	}
}

func TestTickWritesControlFileForElasticJob(t *testing.T) {
	sched, st := newTestScheduler(t)

	id, err := st.InsertPending(&types.Job{
		Command: "sleep 30", CPUs: 2, MemMB: 64,
		IsElastic: true, MinCPUs: 1, MaxCPUs: 4,
	})
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	if err := sched.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	t.Cleanup(func() {
		if h, ok := sched.handles[id]; ok {
			_ = sched.supervisor.Kill(h.Pid)
		}
	})

	job, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != types.JobRunning {
		t.Fatalf("expected RUNNING, got %s", job.Status)
	}
	if job.CurrentCPUs != 2 {
		t.Fatalf("expected current cpus 2, got %d", job.CurrentCPUs)
	}

	state, err := supervisor.ReadControlFile(job.ControlFile)
	if err != nil {
		t.Fatalf("ReadControlFile: %v", err)
	}
	if state.CPUs != 2 || state.MinCPUs != 1 || state.MaxCPUs != 4 {
		t.Fatalf("unexpected control file state: %+v", state)
	}
}

func TestTickAssignsTopologyNodes(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "slurmlet.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sched := New(Config{
		Store:        st,
		Model:        resources.NewModel(8, 8192),
		Supervisor:   supervisor.New(filepath.Join(dir, "logs")),
		Tree:         topology.Default(8),
		PollInterval: time.Second,
	})

	id, err := st.InsertPending(&types.Job{Command: "true", CPUs: 4, MemMB: 64})
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	if err := sched.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	job, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// All four nodes come from a single leaf switch: max pairwise distance 0.
	if job.Nodes != "node1,node2,node3,node4" {
		t.Fatalf("expected node1,node2,node3,node4, got %q", job.Nodes)
	}
}

func TestTickLeavesInfeasibleJobPending(t *testing.T) {
	sched, st := newTestScheduler(t)

	id, err := st.InsertPending(&types.Job{Command: "true", CPUs: 100, MemMB: 64})
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	if err := sched.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	job, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != types.JobPending {
		t.Fatalf("expected job to remain PENDING, got %s", job.Status)
	}
}
