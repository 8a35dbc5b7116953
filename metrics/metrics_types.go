// Package metrics wraps a common.Stats snapshot from either engine as
// prometheus gauges. It is pull-based: Gather returns the current metric
// families for a caller to expose however it likes (a /metrics HTTP
// handler, a scrape shim, a test assertion). Starting an HTTP listener is
// the network front-end's job and is out of scope here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds the gauges/counters derived from common.Stats, one set
// per engine label ("lsm" or "btree") so both engines can share a process
// without clobbering each other's series.
type Registry struct {
	KeysTotal   *prometheus.GaugeVec
	WriteTotal  *prometheus.GaugeVec
	ReadTotal   *prometheus.GaugeVec
	FlushTotal  *prometheus.GaugeVec
	CompactTotal *prometheus.GaugeVec
	SplitTotal  *prometheus.GaugeVec
	WriteAmp    *prometheus.GaugeVec
	SpaceAmp    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewRegistry creates a Registry with all metrics initialized against a
// fresh, process-local prometheus.Registry (not the global DefaultRegisterer,
// so tests and multiple engines in the same process never collide).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{registry: reg}
	r.initGauges()
	return r
}

func (r *Registry) initGauges() {
	r.KeysTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_keys_total",
			Help: "Number of live keys in the engine.",
		},
		[]string{"engine"},
	)
	r.WriteTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_write_total",
			Help: "Number of Put/Delete calls accepted by the engine.",
		},
		[]string{"engine"},
	)
	r.ReadTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_read_total",
			Help: "Number of Get calls served by the engine.",
		},
		[]string{"engine"},
	)
	r.FlushTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_flush_total",
			Help: "Number of memtable flushes to SSTable (LSM only).",
		},
		[]string{"engine"},
	)
	r.CompactTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_compact_total",
			Help: "Number of full compactions run (LSM only).",
		},
		[]string{"engine"},
	)
	r.SplitTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_split_total",
			Help: "Number of page splits performed (B-Tree only).",
		},
		[]string{"engine"},
	)
	r.WriteAmp = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_write_amp",
			Help: "Bytes written to disk per byte of caller payload.",
		},
		[]string{"engine"},
	)
	r.SpaceAmp = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dualkv_space_amp",
			Help: "On-disk size per byte of live logical data.",
		},
		[]string{"engine"},
	)
}

// Gather returns the current metric families, the same shape a /metrics
// HTTP handler would render.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}
