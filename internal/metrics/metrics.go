// Package metrics implements the control plane's process-global counters
// and gauges (component B) and their Prometheus exposition.
package metrics

import (
	"sort"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every atomic counter/gauge the control plane tracks. All
// fields are accessed only through atomic operations; the struct itself
// carries no lock.
type Metrics struct {
	jobsTotal        atomic.Uint64
	jobsDurationSecs atomic.Uint64
	jobsTokensTotal  atomic.Uint64
	failuresTotal    atomic.Uint64

	activeSandboxes atomic.Int64
	peakSandboxes   atomic.Int64
	allocatedCPU    atomic.Uint64 // cpu_cores * 1000, integer millicores
	allocatedMemMB  atomic.Int64

	reapedIdle         atomic.Uint64
	reapedLifetime     atomic.Uint64
	garbageCollected   atomic.Uint64
	gcContainerRemoved atomic.Uint64
	gcImageRemoved     atomic.Uint64
	gcS3Cleaned        atomic.Uint64
	snapshotUploaded   atomic.Uint64
	snapshotCommitted  atomic.Uint64
}

// New returns a fresh, zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordJob(durationSecs uint64, tokens uint64, failed bool) {
	m.jobsTotal.Add(1)
	m.jobsDurationSecs.Add(durationSecs)
	m.jobsTokensTotal.Add(tokens)
	if failed {
		m.failuresTotal.Add(1)
	}
}

// IncActiveSandboxes bumps the active-sandbox gauge on creation and raises
// the peak gauge if this is a new high-water mark. Every call must be
// balanced by a DecActiveSandboxes call on that sandbox's teardown path.
func (m *Metrics) IncActiveSandboxes() {
	active := m.activeSandboxes.Add(1)
	for {
		peak := m.peakSandboxes.Load()
		if active <= peak || m.peakSandboxes.CompareAndSwap(peak, active) {
			break
		}
	}
}

// DecActiveSandboxes decrements the active-sandbox gauge, saturating at
// zero, mirroring AddCPUCores/AddMemoryMB. Called from every sandbox
// teardown path (Delete, and the reaper's idle/lifetime paths that call
// it) so the gauge reflects sandboxes that still exist.
func (m *Metrics) DecActiveSandboxes() {
	for {
		cur := m.activeSandboxes.Load()
		if cur <= 0 {
			return
		}
		if m.activeSandboxes.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// AddCPUCores adjusts the allocated-CPU gauge by delta cores (may be
// negative), saturating at zero.
func (m *Metrics) AddCPUCores(deltaMillicores int64) {
	saturatingAddUint64(&m.allocatedCPU, deltaMillicores)
}

// AddMemoryMB adjusts the allocated-memory gauge by delta MB, saturating at
// zero on a delete-before-create race during restart.
func (m *Metrics) AddMemoryMB(deltaMB int64) {
	for {
		cur := m.allocatedMemMB.Load()
		next := cur + deltaMB
		if next < 0 {
			next = 0
		}
		if m.allocatedMemMB.CompareAndSwap(cur, next) {
			return
		}
	}
}

func saturatingAddUint64(v *atomic.Uint64, delta int64) {
	for {
		cur := v.Load()
		signedNext := int64(cur) + delta
		var next uint64
		if signedNext < 0 {
			next = 0
		} else {
			next = uint64(signedNext)
		}
		if v.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (m *Metrics) IncReapedIdle()         { m.reapedIdle.Add(1) }
func (m *Metrics) IncReapedLifetime()     { m.reapedLifetime.Add(1) }
func (m *Metrics) IncGarbageCollected()   { m.garbageCollected.Add(1) }
func (m *Metrics) IncGCContainerRemoved() { m.gcContainerRemoved.Add(1) }
func (m *Metrics) IncGCImageRemoved()     { m.gcImageRemoved.Add(1) }
func (m *Metrics) IncGCS3Cleaned()        { m.gcS3Cleaned.Add(1) }
func (m *Metrics) IncSnapshotUploaded()   { m.snapshotUploaded.Add(1) }
func (m *Metrics) IncSnapshotCommitted()  { m.snapshotCommitted.Add(1) }

// Snapshot returns an ordered list of (name, value) pairs for every counter
// and gauge, suitable for diagnostics dumps independent of Prometheus.
func (m *Metrics) Snapshot() []struct {
	Name  string
	Value uint64
} {
	pairs := []struct {
		Name  string
		Value uint64
	}{
		{"jobs_total", m.jobsTotal.Load()},
		{"jobs_duration_seconds_total", m.jobsDurationSecs.Load()},
		{"jobs_tokens_total", m.jobsTokensTotal.Load()},
		{"failures_total", m.failuresTotal.Load()},
		{"active_sandboxes", uint64(m.activeSandboxes.Load())},
		{"peak_sandboxes", uint64(m.peakSandboxes.Load())},
		{"allocated_cpu_millicores", m.allocatedCPU.Load()},
		{"allocated_memory_mb", uint64(m.allocatedMemMB.Load())},
		{"reaped_idle", m.reapedIdle.Load()},
		{"reaped_lifetime", m.reapedLifetime.Load()},
		{"garbage_collected", m.garbageCollected.Load()},
		{"gc_container_removed", m.gcContainerRemoved.Load()},
		{"gc_image_removed", m.gcImageRemoved.Load()},
		{"gc_s3_cleaned", m.gcS3Cleaned.Load()},
		{"snapshot_uploaded", m.snapshotUploaded.Load()},
		{"snapshot_committed", m.snapshotCommitted.Load()},
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

// Collector adapts Metrics to prometheus.Collector so its atomic counters
// can be scraped through the standard /metrics exposition, each named with
// the sandbox_ prefix.
type Collector struct {
	m *Metrics
}

// NewCollector wraps m for registration with a prometheus.Registerer.
func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamically described in Collect; Prometheus permits unchecked collectors.
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, pair := range c.m.Snapshot() {
		desc := prometheus.NewDesc("sandbox_"+pair.Name, "sandbox control plane metric "+pair.Name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(pair.Value))
	}
}

// MustRegister registers m's collector against reg, panicking on failure —
// called once at process startup.
func MustRegister(reg prometheus.Registerer, m *Metrics) {
	reg.MustRegister(NewCollector(m))
}
