package metrics

import "github.com/arkatz-dev/dualkv/common"

// Observe updates every gauge for engine (expected to be "lsm" or "btree")
// from a fresh common.Stats snapshot. It's safe to call repeatedly; each
// call simply overwrites the prior values for that engine's label.
func (r *Registry) Observe(engine string, stats common.Stats) {
	r.KeysTotal.WithLabelValues(engine).Set(float64(stats.NumKeys))
	r.WriteTotal.WithLabelValues(engine).Set(float64(stats.WriteCount))
	r.ReadTotal.WithLabelValues(engine).Set(float64(stats.ReadCount))
	r.FlushTotal.WithLabelValues(engine).Set(float64(stats.FlushCount))
	r.CompactTotal.WithLabelValues(engine).Set(float64(stats.CompactCount))
	r.SplitTotal.WithLabelValues(engine).Set(float64(stats.SplitCount))
	r.WriteAmp.WithLabelValues(engine).Set(stats.WriteAmp)
	r.SpaceAmp.WithLabelValues(engine).Set(stats.SpaceAmp)
}
