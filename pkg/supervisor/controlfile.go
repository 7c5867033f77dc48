package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ControlFileState is the content written to a job's control file: one
// KEY=VALUE per line, CPUS carrying the current allocation the job should
// adapt to and SCALE_EVENT the epoch time of the last delta.
type ControlFileState struct {
	CPUs       int
	MemMB      int64
	MinCPUs    int
	MaxCPUs    int
	Status     string
	ScaleEvent float64
}

// ControlFilePath returns the absolute control-file path for an elastic job.
func (s *Supervisor) ControlFilePath(jobID int64) string {
	return filepath.Join(s.logDir, fmt.Sprintf("job_%d.control", jobID))
}

// WriteControlFile atomically rewrites a job's control file (write temp +
// rename), so a reader never observes a torn file.
func WriteControlFile(path string, state ControlFileState) error {
	content := fmt.Sprintf(
		"CPUS=%d\nMEM_MB=%d\nMIN_CPUS=%d\nMAX_CPUS=%d\nSTATUS=%s\nSCALE_EVENT=%f\n",
		state.CPUs, state.MemMB, state.MinCPUs, state.MaxCPUs, state.Status, state.ScaleEvent,
	)

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.New().String()))

	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write temp control file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename control file into place: %w", err)
	}
	return nil
}

// ReadControlFile parses a control file back into its fields. Jobs (and
// tests) use this to observe the daemon's current allocation; unknown keys
// are ignored.
func ReadControlFile(path string) (ControlFileState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ControlFileState{}, err
	}
	var state ControlFileState
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "CPUS":
			state.CPUs, _ = strconv.Atoi(value)
		case "MEM_MB":
			state.MemMB, _ = strconv.ParseInt(value, 10, 64)
		case "MIN_CPUS":
			state.MinCPUs, _ = strconv.Atoi(value)
		case "MAX_CPUS":
			state.MaxCPUs, _ = strconv.Atoi(value)
		case "STATUS":
			state.Status = value
		case "SCALE_EVENT":
			state.ScaleEvent, _ = strconv.ParseFloat(value, 64)
		}
	}
	return state, nil
}

// RemoveControlFile deletes a job's control file on termination; a missing
// file is not an error.
func RemoveControlFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
