package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestCreateFresh(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)
	require.Equal(t, 0, m.SSTableCount())

	id, err := m.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)
}

func TestManifestAddAndOrdering(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)

	require.NoError(t, m.AddSSTable("sst-000000.dat"))
	require.NoError(t, m.AddSSTable("sst-000001.dat"))
	require.NoError(t, m.AddSSTable("sst-000002.dat"))

	require.Equal(t, []string{"sst-000000.dat", "sst-000001.dat", "sst-000002.dat"}, m.SSTablesOldestToNewest())
	require.Equal(t, []string{"sst-000002.dat", "sst-000001.dat", "sst-000000.dat"}, m.SSTablesNewestFirst())
}

func TestManifestReplaceAllWith(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)

	require.NoError(t, m.AddSSTable("sst-000000.dat"))
	require.NoError(t, m.AddSSTable("sst-000001.dat"))

	require.NoError(t, m.ReplaceAllWith("sst-000002.dat"))
	require.Equal(t, []string{"sst-000002.dat"}, m.SSTablesOldestToNewest())
}

func TestManifestPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)

	_, err = m.NextID()
	require.NoError(t, err)
	require.NoError(t, m.AddSSTable("sst-000000.dat"))

	reloaded, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"sst-000000.dat"}, reloaded.SSTablesOldestToNewest())

	id, err := reloaded.NextID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id, "nextSstId must survive the reload")
}
