package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/slurmlet/pkg/types"
)

func TestCPUListString(t *testing.T) {
	got := cpuListString([]int{0, 1, 2})
	if got != "0,1,2" {
		t.Fatalf("expected 0,1,2, got %q", got)
	}
}

func TestWrapCommandWithoutAffinity(t *testing.T) {
	s := &Supervisor{logDir: t.TempDir()}
	name, args := s.wrapCommand("echo hi", 100, []int{0})
	if name != "/bin/sh" {
		t.Fatalf("expected /bin/sh, got %q", name)
	}
	if len(args) != 2 || args[0] != "-c" {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(args[1], "ulimit -v 102400") {
		t.Fatalf("expected ulimit clause in %q", args[1])
	}
	if !strings.Contains(args[1], "echo hi") {
		t.Fatalf("expected command in %q", args[1])
	}
}

func TestWrapCommandWithAffinity(t *testing.T) {
	s := &Supervisor{logDir: t.TempDir(), affinityPath: "/usr/bin/taskset"}
	name, args := s.wrapCommand("echo hi", 100, []int{0, 1})
	if name != "/usr/bin/taskset" {
		t.Fatalf("expected taskset, got %q", name)
	}
	if args[0] != "-c" || args[1] != "0,1" {
		t.Fatalf("unexpected affinity args: %v", args)
	}
}

func TestWriteAndRemoveControlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job_1.control")

	err := WriteControlFile(path, ControlFileState{
		CPUs: 2, MemMB: 1024, MinCPUs: 1, MaxCPUs: 4, Status: "RUNNING", ScaleEvent: 123.5,
	})
	if err != nil {
		t.Fatalf("WriteControlFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "CPUS=2") {
		t.Fatalf("expected CPUS=2 in %q", data)
	}
	if !strings.Contains(string(data), "STATUS=RUNNING") {
		t.Fatalf("expected STATUS=RUNNING in %q", data)
	}

	if err := RemoveControlFile(path); err != nil {
		t.Fatalf("RemoveControlFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected control file to be removed")
	}

	// Removing an already-removed file is not an error.
	if err := RemoveControlFile(path); err != nil {
		t.Fatalf("expected no error removing missing file, got %v", err)
	}
}

func TestControlFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job_7.control")
	want := ControlFileState{
		CPUs: 6, MemMB: 2048, MinCPUs: 2, MaxCPUs: 8, Status: "RUNNING", ScaleEvent: 1700000000.25,
	}
	if err := WriteControlFile(path, want); err != nil {
		t.Fatalf("WriteControlFile: %v", err)
	}
	got, err := ReadControlFile(path)
	if err != nil {
		t.Fatalf("ReadControlFile: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestJobEnvElasticVsPlain(t *testing.T) {
	plain := &types.Job{CPUs: 2}
	env := jobEnv(plain)
	for _, e := range env {
		if strings.HasPrefix(e, "SLURMLET_") {
			t.Fatalf("plain job should not get elastic env vars, got %v", env)
		}
	}

	elastic := &types.Job{IsElastic: true, CurrentCPUs: 3, MinCPUs: 1, MaxCPUs: 4, ControlFile: "/tmp/x.control"}
	env = jobEnv(elastic)
	found := false
	for _, e := range env {
		if e == "SLURMLET_ELASTIC=1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SLURMLET_ELASTIC=1 in %v", env)
	}
}
