package metrics

import (
	"testing"

	"github.com/arkatz-dev/dualkv/common"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.KeysTotal)
	require.NotNil(t, r.WriteTotal)
	require.NotNil(t, r.ReadTotal)
	require.NotNil(t, r.FlushTotal)
	require.NotNil(t, r.CompactTotal)
	require.NotNil(t, r.SplitTotal)
	require.NotNil(t, r.WriteAmp)
	require.NotNil(t, r.SpaceAmp)
}

func TestObserveAndGather(t *testing.T) {
	r := NewRegistry()

	r.Observe("lsm", common.Stats{
		NumKeys:      42,
		WriteCount:   10,
		ReadCount:    5,
		FlushCount:   2,
		CompactCount: 1,
		WriteAmp:     3.5,
		SpaceAmp:     1.2,
	})
	r.Observe("btree", common.Stats{
		NumKeys:    7,
		WriteCount: 3,
		ReadCount:  1,
		SplitCount: 4,
		WriteAmp:   1.0,
		SpaceAmp:   1.4,
	})

	families, err := r.Gather()
	require.NoError(t, err)

	byName := make(map[string]bool)
	for _, f := range families {
		byName[f.GetName()] = true
	}

	for _, name := range []string{
		"dualkv_keys_total",
		"dualkv_write_total",
		"dualkv_read_total",
		"dualkv_flush_total",
		"dualkv_compact_total",
		"dualkv_split_total",
		"dualkv_write_amp",
		"dualkv_space_amp",
	} {
		require.True(t, byName[name], "missing metric family %s", name)
	}

	keysVal, err := r.KeysTotal.GetMetricWithLabelValues("lsm")
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, keysVal.Write(&m))
	require.Equal(t, float64(42), m.GetGauge().GetValue())
}
