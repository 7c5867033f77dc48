// Package elastic is slurmlet's scale-down/scale-up controller: once per
// tick, between reap and admission, it relieves pressure for a blocked
// higher-priority pending job by shrinking elastic running jobs, then
// grants spare capacity to elastic running jobs while utilization stays
// below threshold.
package elastic

import (
	"sort"
	"time"

	"github.com/cuemby/slurmlet/pkg/log"
	"github.com/cuemby/slurmlet/pkg/resources"
	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/supervisor"
	"github.com/cuemby/slurmlet/pkg/types"
	"github.com/rs/zerolog"
)

// ScaleEvent records one applied CPU delta, for the scheduler loop to log
// and count via pkg/metrics.
type ScaleEvent struct {
	JobID   int64
	OldCPUs int
	NewCPUs int
}

// Controller runs the elastic scale-down/scale-up passes.
type Controller struct {
	threshold  float64 // percent, 0-100
	store      store.Store
	supervisor *supervisor.Supervisor
	logger     zerolog.Logger
}

// New creates a Controller with the given utilization threshold (percent).
func New(threshold float64, st store.Store, sup *supervisor.Supervisor) *Controller {
	return &Controller{
		threshold:  threshold,
		store:      st,
		supervisor: sup,
		logger:     log.WithComponent("elastic"),
	}
}

// Tick runs the scale-down pass then the scale-up pass. Deltas are applied
// one CPU at a time so each step re-checks fit and utilization.
func (c *Controller) Tick(pending []*types.Job, running []*types.Job, model *resources.Model) []ScaleEvent {
	var events []ScaleEvent
	events = append(events, c.scaleDown(pending, running, model)...)
	events = append(events, c.scaleUp(running, model)...)
	return events
}

// scaleDown is the pressure-relief pass: if a PENDING job outranks the
// highest-priority RUNNING elastic job and doesn't currently fit, shrink
// elastic jobs one CPU at a time (priority ASC, current_cpus DESC) until
// it fits or no further reduction is possible.
func (c *Controller) scaleDown(pending []*types.Job, running []*types.Job, model *resources.Model) []ScaleEvent {
	elastic := elasticRunning(running)
	if len(elastic) == 0 || len(pending) == 0 {
		return nil
	}

	maxElasticPriority := elastic[0].Priority
	for _, j := range elastic {
		if j.Priority > maxElasticPriority {
			maxElasticPriority = j.Priority
		}
	}

	var events []ScaleEvent
	for _, job := range pending {
		if job.Priority <= maxElasticPriority {
			continue
		}
		cpus := job.CPUs
		for {
			availCPUs, availMem := model.Available()
			if cpus <= availCPUs && job.MemMB <= availMem {
				break
			}
			sort.SliceStable(elastic, func(i, j int) bool {
				if elastic[i].Priority != elastic[j].Priority {
					return elastic[i].Priority < elastic[j].Priority
				}
				return elastic[i].CurrentCPUs > elastic[j].CurrentCPUs
			})
			reduced := false
			for _, e := range elastic {
				if e.CurrentCPUs > e.MinCPUs {
					ev, ok := c.applyDelta(e, e.CurrentCPUs-1, model)
					if ok {
						events = append(events, ev)
						reduced = true
						break
					}
				}
			}
			if !reduced {
				break
			}
		}
	}
	return events
}

// scaleUp is the grant pass: while utilization stays below threshold and
// some elastic job has headroom, grant one CPU at a time (priority DESC,
// current_cpus ASC). Memory is fixed and never scaled.
func (c *Controller) scaleUp(running []*types.Job, model *resources.Model) []ScaleEvent {
	var events []ScaleEvent
	for {
		if model.Utilization() >= c.threshold {
			return events
		}
		availCPUs, _ := model.Available()
		if availCPUs <= 0 {
			return events
		}

		elastic := elasticRunning(running)
		var candidates []*types.Job
		for _, j := range elastic {
			if j.CurrentCPUs < j.MaxCPUs {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) == 0 {
			return events
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority > candidates[j].Priority
			}
			return candidates[i].CurrentCPUs < candidates[j].CurrentCPUs
		})

		target := candidates[0]
		ev, ok := c.applyDelta(target, target.CurrentCPUs+1, model)
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

// applyDelta applies a CPU change to job j: updates the in-memory
// reservation and the store, rewrites the control file, and signals the
// process group. If the control-file write fails, the change is rolled
// back in memory and the store and the scale event is dropped.
func (c *Controller) applyDelta(j *types.Job, newCPUs int, model *resources.Model) (ScaleEvent, bool) {
	oldCPUs := j.CurrentCPUs

	model.SetCPUs(j.ID, newCPUs)
	if err := c.store.SetCurrentCPUs(j.ID, newCPUs); err != nil {
		model.SetCPUs(j.ID, oldCPUs)
		c.logger.Error().Err(err).Int64("job_id", j.ID).Msg("failed to persist scale delta")
		return ScaleEvent{}, false
	}

	path := c.supervisor.ControlFilePath(j.ID)
	err := supervisor.WriteControlFile(path, supervisor.ControlFileState{
		CPUs:       newCPUs,
		MemMB:      j.MemMB,
		MinCPUs:    j.MinCPUs,
		MaxCPUs:    j.MaxCPUs,
		Status:     string(types.JobRunning),
		ScaleEvent: nowEpoch(),
	})
	if err != nil {
		model.SetCPUs(j.ID, oldCPUs)
		_ = c.store.SetCurrentCPUs(j.ID, oldCPUs)
		c.logger.Error().Err(err).Int64("job_id", j.ID).Msg("control file write failed, scale event dropped")
		return ScaleEvent{}, false
	}

	j.CurrentCPUs = newCPUs

	// Best-effort: the job polls the control file, which is authoritative.
	if j.Pid != 0 {
		_ = c.supervisor.Signal(j.Pid)
	}

	c.logger.Info().Int64("job_id", j.ID).Int("old_cpus", oldCPUs).Int("new_cpus", newCPUs).Msg("applied scale delta")

	return ScaleEvent{JobID: j.ID, OldCPUs: oldCPUs, NewCPUs: newCPUs}, true
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func elasticRunning(running []*types.Job) []*types.Job {
	var out []*types.Job
	for _, j := range running {
		if j.IsElastic {
			out = append(out, j)
		}
	}
	return out
}
