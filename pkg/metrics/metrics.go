// Package metrics exposes engine counters and gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "volbrick"

// Metrics groups the collectors updated by the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Scheduled      prometheus.Gauge
	Culled         prometheus.Counter
	Uploads        *prometheus.CounterVec
	UploadFailures *prometheus.CounterVec
	Evictions      prometheus.Counter
	Resident       prometheus.Gauge
	HistoryDepth   prometheus.Gauge
	HistoryBytes   prometheus.Gauge
	LevelSwitches  prometheus.Counter
	ActiveLevel    prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_bricks",
			Help:      "Bricks selected for the last frame",
		}),
		Culled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "culled_bricks_total",
			Help:      "Bricks rejected by the quota selection",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Brick textures uploaded",
		}, []string{"component"}),
		UploadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Brick textures that could not be allocated",
		}, []string{"component"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Resident bricks evicted from the texture cache",
		}),
		Resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_bricks",
			Help:      "Bricks with an uploaded texture",
		}),
		HistoryDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mask_history_depth",
			Help:      "Snapshots held by the mask history",
		}),
		HistoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mask_history_bytes",
			Help:      "Memory held by mask snapshots",
		}),
		LevelSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_switches_total",
			Help:      "Pyramid level changes",
		}),
		ActiveLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_level",
			Help:      "Index of the active pyramid level, -1 without a pyramid",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Scheduled, m.Culled, m.Uploads, m.UploadFailures, m.Evictions,
		m.Resident, m.HistoryDepth, m.HistoryBytes, m.LevelSwitches, m.ActiveLevel,
	}
}

// ObserveFrame records one scheduled frame.
func (m *Metrics) ObserveFrame(selected, total int) {
	if m == nil {
		return
	}
	m.Scheduled.Set(float64(selected))
	if total > selected {
		m.Culled.Add(float64(total - selected))
	}
}

// ObserveUpload records an upload attempt of component.
func (m *Metrics) ObserveUpload(component string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.UploadFailures.WithLabelValues(component).Inc()
		return
	}
	m.Uploads.WithLabelValues(component).Inc()
}

// ObserveEviction records one cache eviction.
func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

// SetResident records the resident brick count.
func (m *Metrics) SetResident(n int) {
	if m == nil {
		return
	}
	m.Resident.Set(float64(n))
}

// ObserveHistory records the mask history footprint.
func (m *Metrics) ObserveHistory(depth, bytes int) {
	if m == nil {
		return
	}
	m.HistoryDepth.Set(float64(depth))
	m.HistoryBytes.Set(float64(bytes))
}

// ObserveLevel records a pyramid level change.
func (m *Metrics) ObserveLevel(level int) {
	if m == nil {
		return
	}
	m.LevelSwitches.Inc()
	m.ActiveLevel.Set(float64(level))
}
