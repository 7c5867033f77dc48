// Package client is the thin, store-backed API the CLI drives. The client
// and the daemon never talk directly: both sides mediate exclusively
// through the shared persistent store, so Client here is a convenience
// wrapper over pkg/store rather than a network stub.
package client

import (
	"fmt"
	"time"

	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/types"
)

// Client wraps a Store with the validation and defaulting the CLI needs.
type Client struct {
	store store.Store
}

// New opens (or creates) the store at dbPath and wraps it as a Client.
func New(dbPath string) (*Client, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: st}, nil
}

// Close releases the underlying store handle.
func (c *Client) Close() error {
	return c.store.Close()
}

// SubmitRequest is the validated input to Submit.
type SubmitRequest struct {
	Command    string
	CPUs       int
	MemMB      int64
	Priority   int
	IsElastic  bool
	MinCPUs    int
	MaxCPUs    int
	User       string
	SubmitHost string
}

// Submit validates req and appends a PENDING job; validation failures
// make no store mutation.
func (c *Client) Submit(req SubmitRequest) (int64, error) {
	if req.Command == "" {
		return 0, fmt.Errorf("command must not be empty")
	}
	if req.CPUs <= 0 {
		return 0, fmt.Errorf("--cpus must be positive")
	}
	if req.MemMB <= 0 {
		return 0, fmt.Errorf("--mem must be positive")
	}
	if req.IsElastic {
		if req.MinCPUs <= 0 || req.MaxCPUs < req.MinCPUs {
			return 0, fmt.Errorf("elastic jobs require 0 < min-cpus <= max-cpus")
		}
		if req.CPUs < req.MinCPUs || req.CPUs > req.MaxCPUs {
			return 0, fmt.Errorf("--cpus must be within [min-cpus, max-cpus] for elastic jobs")
		}
	}

	job := &types.Job{
		Command:    req.Command,
		CPUs:       req.CPUs,
		MemMB:      req.MemMB,
		Priority:   req.Priority,
		IsElastic:  req.IsElastic,
		MinCPUs:    req.MinCPUs,
		MaxCPUs:    req.MaxCPUs,
		User:       req.User,
		SubmitHost: req.SubmitHost,
		SubmitTime: nowEpoch(),
	}
	return c.store.InsertPending(job)
}

// Queue lists jobs, optionally filtered by status.
func (c *Client) Queue(status types.JobStatus) ([]*types.Job, error) {
	return c.store.List(store.ListFilter{Status: status})
}

// Show returns a single job by id.
func (c *Client) Show(id int64) (*types.Job, error) {
	return c.store.Get(id)
}

// Cancel cancels a PENDING job; any other live status is rejected.
// Cancelling an already-CANCELLED job is a no-op that reports success
// with a warning rather than an error.
func (c *Client) Cancel(id int64) (alreadyCancelled bool, err error) {
	job, err := c.store.Get(id)
	if err != nil {
		return false, err
	}
	if job.Status == types.JobCancelled {
		return true, nil
	}
	err = c.store.UpdateStatus(id, types.JobCancelled, func(j *types.Job) {
		j.EndTime = nowEpoch()
	})
	return false, err
}

// Stats is an aggregate snapshot of queue state for the `stats` command:
// per-status counts, the resources held by RUNNING jobs, and wait/runtime
// averages over COMPLETED jobs.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int

	RunningCPUs  int
	RunningMemMB int64

	AvgWaitSec    float64
	AvgRuntimeSec float64
	TotalCPUTime  float64
}

// Stats aggregates every job row in one pass.
func (c *Client) Stats() (Stats, error) {
	jobs, err := c.store.List(store.ListFilter{})
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	var waitSum, runtimeSum float64
	for _, j := range jobs {
		switch j.Status {
		case types.JobPending:
			s.Pending++
		case types.JobRunning:
			s.Running++
			s.RunningCPUs += j.AllocatedCPUs()
			s.RunningMemMB += j.MemMB
		case types.JobCompleted:
			s.Completed++
			waitSum += j.WaitTime
			runtimeSum += j.Runtime
			s.TotalCPUTime += j.CPUUserTime + j.CPUSystemTime
		case types.JobFailed:
			s.Failed++
		case types.JobCancelled:
			s.Cancelled++
		}
	}
	if s.Completed > 0 {
		s.AvgWaitSec = waitSum / float64(s.Completed)
		s.AvgRuntimeSec = runtimeSum / float64(s.Completed)
	}
	return s, nil
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
