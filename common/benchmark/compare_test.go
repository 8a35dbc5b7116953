package benchmark

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardWorkloadsAreWellFormed(t *testing.T) {
	configs := StandardWorkloads()
	require.NotEmpty(t, configs)
	for _, c := range configs {
		require.NotEmpty(t, c.Name)
		require.Greater(t, c.NumKeys, 0)
		require.Greater(t, c.Duration.Seconds(), 0.0)
	}
}

func TestQuickWorkloadsAreWellFormed(t *testing.T) {
	configs := QuickWorkloads()
	require.NotEmpty(t, configs)
	for _, c := range configs {
		require.NotEmpty(t, c.Name)
		require.Greater(t, c.PreloadKeys, 0)
	}
}

func TestNewComparisonSuiteDefaultsToStandardWorkloads(t *testing.T) {
	cs := NewComparisonSuite()
	require.Equal(t, StandardWorkloads(), cs.configs)
}

func TestComparisonSuiteSetWorkloadsOverridesDefaults(t *testing.T) {
	cs := NewComparisonSuite()
	custom := QuickWorkloads()
	cs.SetWorkloads(custom)
	require.Equal(t, custom, cs.configs)
}
