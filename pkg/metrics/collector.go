package metrics

import (
	"time"

	"github.com/cuemby/slurmlet/pkg/resources"
	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/types"
)

// Collector periodically syncs the resource model and job queue into the
// package-level gauges.
type Collector struct {
	model  *resources.Model
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over model and st.
func NewCollector(model *resources.Model, st store.Store) *Collector {
	return &Collector{model: model, store: st, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	CPUsTotal.Set(float64(c.model.TotalCPUs()))
	CPUsUsed.Set(float64(c.model.UsedCPUs()))
	MemTotalMB.Set(float64(c.model.TotalMemMB()))
	MemUsedMB.Set(float64(c.model.UsedMemMB()))
	UtilizationPercent.Set(c.model.Utilization())

	for _, status := range []types.JobStatus{
		types.JobPending, types.JobRunning, types.JobCompleted, types.JobFailed, types.JobCancelled,
	} {
		jobs, err := c.store.List(store.ListFilter{Status: status})
		if err != nil {
			continue
		}
		JobsTotal.WithLabelValues(string(status)).Set(float64(len(jobs)))
	}
}
