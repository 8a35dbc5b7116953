package benchmark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatencyHistogramEmptyStats(t *testing.T) {
	h := NewLatencyHistogram()
	stats := h.Stats()
	require.Equal(t, LatencyStats{}, stats)
}

func TestLatencyHistogramRecordAndPercentiles(t *testing.T) {
	h := NewLatencyHistogram()
	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}

	stats := h.Stats()
	require.Equal(t, 1*time.Millisecond, stats.Min)
	require.Equal(t, 100*time.Millisecond, stats.Max)
	require.Equal(t, 50*time.Millisecond, stats.P50)
	require.Equal(t, 95*time.Millisecond, stats.P95)
	require.Equal(t, 99*time.Millisecond, stats.P99)
}

func TestLatencyHistogramConcurrentRecord(t *testing.T) {
	h := NewLatencyHistogram()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(n int) {
			for j := 0; j < 50; j++ {
				h.Record(time.Duration(n+j) * time.Microsecond)
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	stats := h.Stats()
	require.Greater(t, stats.Max, time.Duration(0))
}
