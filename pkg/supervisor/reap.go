package supervisor

import (
	"syscall"
)

// Reap performs a non-blocking wait on h's pid. Returns (result, true) if
// the child has exited, (zero, false) if it's still running.
func (s *Supervisor) Reap(h *Handle) (Result, bool) {
	var ws syscall.WaitStatus
	var rusage syscall.Rusage

	pid, err := syscall.Wait4(h.Pid, &ws, syscall.WNOHANG, &rusage)
	if err != nil || pid == 0 {
		return Result{}, false
	}

	h.Stdout.Close()
	h.Stderr.Close()

	result := Result{
		JobID:         h.JobID,
		CPUUserTime:   rusageSeconds(rusage.Utime),
		CPUSystemTime: rusageSeconds(rusage.Stime),
	}

	switch {
	case ws.Exited():
		result.ReturnCode = ws.ExitStatus()
	case ws.Signaled():
		result.ReturnCode = -int(ws.Signal())
		result.ExitSignal = int(ws.Signal())
	default:
		result.ReturnCode = -1
	}

	s.logger.Info().
		Int64("job_id", h.JobID).
		Int("return_code", result.ReturnCode).
		Msg("reaped job")

	return result, true
}

func rusageSeconds(tv syscall.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}
