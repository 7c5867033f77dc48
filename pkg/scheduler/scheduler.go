// Package scheduler is slurmlet's tick driver: each tick reaps finished
// children, runs the elastic controller, then admits pending jobs. The
// loop is single-threaded; every mutation of the running set happens
// inside a tick.
package scheduler

import (
	"sync"
	"time"

	"github.com/cuemby/slurmlet/pkg/elastic"
	"github.com/cuemby/slurmlet/pkg/log"
	"github.com/cuemby/slurmlet/pkg/metrics"
	"github.com/cuemby/slurmlet/pkg/placement"
	"github.com/cuemby/slurmlet/pkg/resources"
	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/supervisor"
	"github.com/cuemby/slurmlet/pkg/topology"
	"github.com/cuemby/slurmlet/pkg/types"
	"github.com/rs/zerolog"
)

// Config bundles what the scheduler needs to start a tick loop.
type Config struct {
	Store          store.Store
	Model          *resources.Model
	Supervisor     *supervisor.Supervisor
	Tree           *topology.Tree // nil when topology is disabled
	ElasticEnabled bool
	ElasticThresh  float64
	PollInterval   time.Duration
}

// Scheduler drives the reap -> elastic -> admit tick loop.
type Scheduler struct {
	store      store.Store
	model      *resources.Model
	supervisor *supervisor.Supervisor
	tree       *topology.Tree
	elastic    *elastic.Controller
	enabled    bool
	interval   time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}

	handles map[int64]*supervisor.Handle
}

// New builds a Scheduler from cfg. The handles map is managed entirely
// internally: there is no warm handoff across daemon restarts, and
// crashed-daemon recovery is handled once by store.ReconcileOrphans at
// startup.
func New(cfg Config) *Scheduler {
	var ec *elastic.Controller
	if cfg.ElasticEnabled {
		ec = elastic.New(cfg.ElasticThresh, cfg.Store, cfg.Supervisor)
	}
	return &Scheduler{
		store:      cfg.Store,
		model:      cfg.Model,
		supervisor: cfg.Supervisor,
		tree:       cfg.Tree,
		elastic:    ec,
		enabled:    cfg.ElasticEnabled,
		interval:   cfg.PollInterval,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
		handles:    make(map[int64]*supervisor.Handle),
	}
}

// Start begins the scheduler loop in a new goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.tick(); err != nil {
				s.logger.Error().Err(err).Msg("scheduling tick failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// tick performs one reap -> elastic -> admit cycle. Exported as Tick for
// callers (and tests) that want to drive the loop manually instead of via
// Start/Stop.
func (s *Scheduler) Tick() error {
	return s.tick()
}

func (s *Scheduler) tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingTickDuration)

	s.reap()

	running, err := s.store.List(store.ListFilter{Status: types.JobRunning})
	if err != nil {
		return err
	}
	pending, err := s.store.List(store.ListFilter{Status: types.JobPending})
	if err != nil {
		return err
	}

	placement.Sort(pending)

	if s.enabled && s.elastic != nil {
		events := s.elastic.Tick(pending, running, s.model)
		for _, ev := range events {
			metrics.ElasticScaleEventsTotal.Inc()
			s.logger.Info().Int64("job_id", ev.JobID).Int("old_cpus", ev.OldCPUs).Int("new_cpus", ev.NewCPUs).Msg("elastic scale event")
		}
	}

	admitted := placement.Admit(pending, s.model, s.tree)
	for _, job := range admitted {
		s.launch(job)
	}

	return nil
}

func (s *Scheduler) reap() {
	for id, h := range s.handles {
		result, done := s.supervisor.Reap(h)
		if !done {
			continue
		}

		status := types.JobCompleted
		if result.ReturnCode != 0 {
			status = types.JobFailed
		}

		err := s.store.UpdateStatus(id, status, func(j *types.Job) {
			j.ReturnCode = result.ReturnCode
			j.ExitSignal = result.ExitSignal
			j.CPUUserTime = result.CPUUserTime
			j.CPUSystemTime = result.CPUSystemTime
			j.EndTime = nowEpoch()
			j.Runtime = j.EndTime - j.StartTime
			j.Pid = 0
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("job_id", id).Msg("failed to persist reap result")
		}

		if job, gerr := s.store.Get(id); gerr == nil && job.IsElastic {
			_ = supervisor.RemoveControlFile(s.supervisor.ControlFilePath(id))
		}

		s.model.Release(id)
		delete(s.handles, id)

		metrics.JobsCompletedTotal.WithLabelValues(string(status)).Inc()
		s.logger.Info().Int64("job_id", id).Str("status", string(status)).Msg("job finished")
	}
}

func (s *Scheduler) launch(job *types.Job) {
	var cpus []int
	if s.tree != nil {
		for _, name := range job.NodeList() {
			if n, ok := s.tree.Node(name); ok {
				cpus = append(cpus, n.CPUIndex)
			}
		}
	}

	if job.IsElastic {
		job.CurrentCPUs = job.CPUs
		job.ControlFile = s.supervisor.ControlFilePath(job.ID)

		// Written before the spawn so the child can read it immediately.
		err := supervisor.WriteControlFile(job.ControlFile, supervisor.ControlFileState{
			CPUs:    job.CurrentCPUs,
			MemMB:   job.MemMB,
			MinCPUs: job.MinCPUs,
			MaxCPUs: job.MaxCPUs,
			Status:  string(types.JobRunning),
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to write initial control file")
		}
	}

	h, err := s.supervisor.Launch(job, cpus)
	if err != nil {
		s.model.Release(job.ID)
		if job.IsElastic {
			_ = supervisor.RemoveControlFile(job.ControlFile)
		}
		_ = s.store.UpdateStatus(job.ID, types.JobFailed, func(j *types.Job) {
			j.ReturnCode = -1
			j.Comment = "launch failed: " + err.Error()
			j.EndTime = nowEpoch()
		})
		metrics.JobsCompletedTotal.WithLabelValues(string(types.JobFailed)).Inc()
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to launch job")
		return
	}

	s.handles[job.ID] = h

	err = s.store.UpdateStatus(job.ID, types.JobRunning, func(j *types.Job) {
		j.StartTime = nowEpoch()
		j.WaitTime = j.StartTime - j.SubmitTime
		j.Pid = h.Pid
		j.StdoutPath = s.supervisor.OutPath(job.ID)
		j.StderrPath = s.supervisor.ErrPath(job.ID)
		if job.IsElastic {
			j.CurrentCPUs = job.CurrentCPUs
			j.ControlFile = job.ControlFile
		}
		j.Nodes = job.Nodes
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to persist running state")
	}

	metrics.JobsAdmittedTotal.Inc()
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
