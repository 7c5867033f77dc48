// Package resources is slurmlet's in-process model of cluster capacity:
// total CPUs/memory, a map of what's currently reserved by running jobs,
// and, when topology is enabled, the set of reserved nodes the placement
// package subtracts from the tree to find free ones.
package resources

import (
	"sync"
)

// Reservation is what a single running job holds.
type Reservation struct {
	CPUs  int
	MemMB int64
	Nodes []string
}

// Model tracks total and used CPU/memory across running jobs.
type Model struct {
	mu sync.RWMutex

	totalCPUs  int
	totalMemMB int64
	running    map[int64]*Reservation
}

// NewModel creates a resource model with the given total capacity.
func NewModel(totalCPUs int, totalMemMB int64) *Model {
	return &Model{
		totalCPUs:  totalCPUs,
		totalMemMB: totalMemMB,
		running:    make(map[int64]*Reservation),
	}
}

// TotalCPUs returns total CPU capacity.
func (m *Model) TotalCPUs() int { return m.totalCPUs }

// TotalMemMB returns total memory capacity in MB.
func (m *Model) TotalMemMB() int64 { return m.totalMemMB }

// Reserve records that jobID holds cpus/memMB/nodes. Callers must have
// already checked Available(); Reserve does not itself enforce capacity.
func (m *Model) Reserve(jobID int64, cpus int, memMB int64, nodes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[jobID] = &Reservation{CPUs: cpus, MemMB: memMB, Nodes: nodes}
}

// Release frees jobID's reservation, if any.
func (m *Model) Release(jobID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, jobID)
}

// SetCPUs updates the CPU portion of an existing reservation (used by the
// elastic controller to apply a scale delta).
func (m *Model) SetCPUs(jobID int64, cpus int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.running[jobID]; ok {
		r.CPUs = cpus
	}
}

// UsedCPUs sums CPUs across all current reservations.
func (m *Model) UsedCPUs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, r := range m.running {
		total += r.CPUs
	}
	return total
}

// UsedMemMB sums memory across all current reservations.
func (m *Model) UsedMemMB() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, r := range m.running {
		total += r.MemMB
	}
	return total
}

// Available returns the CPU and memory headroom at this instant.
func (m *Model) Available() (cpus int, memMB int64) {
	used := m.UsedCPUs()
	usedMem := m.UsedMemMB()
	return m.totalCPUs - used, m.totalMemMB - usedMem
}

// Utilization returns max(usedCPU/total, usedMem/total) * 100, the metric
// the elastic controller's scale-up pass compares against its threshold.
func (m *Model) Utilization() float64 {
	cpuUtil := 0.0
	if m.totalCPUs > 0 {
		cpuUtil = float64(m.UsedCPUs()) / float64(m.totalCPUs) * 100
	}
	memUtil := 0.0
	if m.totalMemMB > 0 {
		memUtil = float64(m.UsedMemMB()) / float64(m.totalMemMB) * 100
	}
	if cpuUtil > memUtil {
		return cpuUtil
	}
	return memUtil
}

// ReservationFor returns a copy of jobID's reservation, if any.
func (m *Model) ReservationFor(jobID int64) (Reservation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.running[jobID]
	if !ok {
		return Reservation{}, false
	}
	return *r, true
}

// UsedNodes returns the union of all nodes currently reserved across
// running jobs, for the topology package to subtract from the full set.
func (m *Model) UsedNodes() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	used := make(map[string]bool)
	for _, r := range m.running {
		for _, n := range r.Nodes {
			used[n] = true
		}
	}
	return used
}

// RunningJobIDs returns the ids currently holding a reservation.
func (m *Model) RunningJobIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}
