// Package placement is slurmlet's admission and placement policy: pure
// functions over a pending job slice and a resource model, kept free of
// store and process concerns so they're unit-testable without bbolt or a
// live scheduler.
package placement

import (
	"sort"

	"github.com/cuemby/slurmlet/pkg/resources"
	"github.com/cuemby/slurmlet/pkg/topology"
	"github.com/cuemby/slurmlet/pkg/types"
)

// Sort orders pending in place by (priority DESC, submit_time ASC, id ASC),
// the admission order.
func Sort(pending []*types.Job) {
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.SubmitTime != b.SubmitTime {
			return a.SubmitTime < b.SubmitTime
		}
		return a.ID < b.ID
	})
}

// Feasible reports whether a job's resource request fits in the model's
// current headroom. The check is against the submitted CPUs field for
// every job, elastic or not: MinCPUs is a floor the elastic controller
// respects later, never a substitute for the requested allocation.
func Feasible(job *types.Job, model *resources.Model) bool {
	availCPUs, availMem := model.Available()
	return job.CPUs <= availCPUs && job.MemMB <= availMem
}

// SelectNodes chooses the node set for a job when topology is active,
// delegating to the tree's minimax algorithm; returns (nil, true) when
// tree is nil, meaning topology is disabled and no node assignment applies.
func SelectNodes(job *types.Job, model *resources.Model, tree *topology.Tree) ([]string, bool) {
	if tree == nil {
		return nil, true
	}
	k := job.CPUs
	used := model.UsedNodes()
	free := make(map[string]bool)
	for _, n := range tree.Nodes() {
		if !used[n] {
			free[n] = true
		}
	}
	return tree.SelectNodes(k, free)
}

// Admit walks pending (already Sorted) and returns the ordered subset to
// launch this tick. Jobs that don't currently fit or can't get a node set
// are skipped, not blocking the queue behind them: admission is
// opportunistic, with no backfill reservation held for a blocked
// higher-priority job. Admitted jobs are reserved against model as
// they're chosen, so later candidates in the same tick see reduced
// headroom.
func Admit(pending []*types.Job, model *resources.Model, tree *topology.Tree) []*types.Job {
	var admitted []*types.Job
	for _, job := range pending {
		if !Feasible(job, model) {
			continue
		}
		nodes, ok := SelectNodes(job, model, tree)
		if !ok {
			continue
		}
		model.Reserve(job.ID, job.CPUs, job.MemMB, nodes)
		job.SetNodeList(nodes)
		admitted = append(admitted, job)
	}
	return admitted
}
