// Package supervisor launches and reaps slurmlet job processes: each job
// runs as a plain OS process in its own process group, with an optional
// CPU-affinity wrapper and a memory rlimit, and is reaped with a
// non-blocking wait at the top of every scheduler tick.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cuemby/slurmlet/pkg/log"
	"github.com/cuemby/slurmlet/pkg/types"
	"github.com/rs/zerolog"
)

// Handle tracks one launched child process.
type Handle struct {
	JobID   int64
	Pid     int
	Cmd     *exec.Cmd
	Stdout  *os.File
	Stderr  *os.File
	CPUs    int
}

// Result is what Reap reports about a process that has exited.
type Result struct {
	JobID         int64
	ReturnCode    int
	ExitSignal    int
	CPUUserTime   float64
	CPUSystemTime float64
}

// Supervisor launches and reaps slurmlet children.
type Supervisor struct {
	logDir       string
	logger       zerolog.Logger
	affinityPath string // resolved path to taskset, empty if unavailable
}

// New creates a Supervisor that writes job logs under logDir. The
// CPU-affinity tool is resolved once at construction, not on every launch;
// on hosts without taskset jobs run unpinned, with only the thread-count
// environment that every job receives.
func New(logDir string) *Supervisor {
	s := &Supervisor{
		logDir: logDir,
		logger: log.WithComponent("supervisor"),
	}
	_ = os.MkdirAll(logDir, 0755)
	if path, err := exec.LookPath("taskset"); err == nil {
		s.affinityPath = path
	}
	return s
}

func (s *Supervisor) outPath(jobID int64) string {
	return filepath.Join(s.logDir, fmt.Sprintf("job_%d.out", jobID))
}

func (s *Supervisor) errPath(jobID int64) string {
	return filepath.Join(s.logDir, fmt.Sprintf("job_%d.err", jobID))
}

// OutPath returns the absolute stdout log path for a job.
func (s *Supervisor) OutPath(jobID int64) string { return s.outPath(jobID) }

// ErrPath returns the absolute stderr log path for a job.
func (s *Supervisor) ErrPath(jobID int64) string { return s.errPath(jobID) }

// Launch spawns job's command under the given CPU set, applying the memory
// cap and the affinity or thread-env policy.
func (s *Supervisor) Launch(job *types.Job, cpus []int) (*Handle, error) {
	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stdout, err := os.Create(s.outPath(job.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout log: %w", err)
	}
	stderr, err := os.Create(s.errPath(job.ID))
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr log: %w", err)
	}

	name, args := s.wrapCommand(job.Command, job.MemMB, cpus)

	cmd := exec.Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), jobEnv(job)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	allocatedCPUs := job.CPUs
	if job.IsElastic {
		allocatedCPUs = job.CurrentCPUs
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	s.logger.Info().Int64("job_id", job.ID).Int("pid", cmd.Process.Pid).Ints("cpus", cpus).Msg("launched job")

	return &Handle{
		JobID:  job.ID,
		Pid:    cmd.Process.Pid,
		Cmd:    cmd,
		Stdout: stdout,
		Stderr: stderr,
		CPUs:   allocatedCPUs,
	}, nil
}

// wrapCommand returns the shell invocation for a job's command: a
// `ulimit -v` address-space cap applied in-shell (Go's exec has no
// between-fork-and-exec hook to call syscall.Setrlimit on the child
// directly), wrapped with taskset when it is resolvable on $PATH so the
// child is pinned to its assigned CPUs.
func (s *Supervisor) wrapCommand(command string, memMB int64, cpus []int) (string, []string) {
	memKB := memMB * 1024
	shellCmd := fmt.Sprintf("ulimit -v %d 2>/dev/null; %s", memKB, command)

	if s.affinityPath == "" || len(cpus) == 0 {
		return "/bin/sh", []string{"-c", shellCmd}
	}
	cpuList := cpuListString(cpus)
	return s.affinityPath, []string{"-c", cpuList, "/bin/sh", "-c", shellCmd}
}

func cpuListString(cpus []int) string {
	out := ""
	for i, c := range cpus {
		if i > 0 {
			out += ","
		}
		out += strconv.Itoa(c)
	}
	return out
}

// jobEnv builds the per-job environment: the initial thread-count hints
// for every job, plus the elastic control variables for elastic jobs only.
func jobEnv(job *types.Job) []string {
	cpus := job.CPUs
	if job.IsElastic {
		cpus = job.CurrentCPUs
	}
	env := []string{
		fmt.Sprintf("OMP_NUM_THREADS=%d", cpus),
		fmt.Sprintf("MKL_NUM_THREADS=%d", cpus),
		fmt.Sprintf("NUMEXPR_NUM_THREADS=%d", cpus),
	}
	if job.IsElastic {
		env = append(env,
			"SLURMLET_ELASTIC=1",
			fmt.Sprintf("SLURMLET_CURRENT_CPUS=%d", job.CurrentCPUs),
			fmt.Sprintf("SLURMLET_MIN_CPUS=%d", job.MinCPUs),
			fmt.Sprintf("SLURMLET_MAX_CPUS=%d", job.MaxCPUs),
			fmt.Sprintf("SLURMLET_CONTROL_FILE=%s", job.ControlFile),
		)
	}
	return env
}

// Signal sends USR1 to a child's process group to notify of a control-file
// change. Failure is non-fatal; the control file remains authoritative.
func (s *Supervisor) Signal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGUSR1)
}

// Kill terminates a job's process group. Neither the scheduler loop nor
// daemon shutdown calls it, since cancellation of running jobs is
// unsupported; the scheduler tests use it to clean up long-running children.
func (s *Supervisor) Kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
