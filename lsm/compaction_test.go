package lsm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeTestSSTable(t *testing.T, dir, name string, entries []Entry) {
	t.Helper()
	require.NoError(t, WriteSSTable(filepath.Join(dir, "sst", name), entries, 4))
}

func TestCompactNewestWinsAndDropsTombstones(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sst"), 0755))

	manifest, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)

	// Oldest table: a=1, b=2
	writeTestSSTable(t, dir, "sst-000000.dat", []Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	})
	require.NoError(t, manifest.AddSSTable("sst-000000.dat"))

	// Newer table: a=99 (shadows), c=tombstone (no earlier value, drops)
	writeTestSSTable(t, dir, "sst-000001.dat", []Entry{
		{Key: "a", Value: []byte("99")},
		{Key: "c", Tombstone: true},
	})
	require.NoError(t, manifest.AddSSTable("sst-000001.dat"))

	// Newest table: b=tombstone (shadows b=2)
	writeTestSSTable(t, dir, "sst-000002.dat", []Entry{
		{Key: "b", Tombstone: true},
	})
	require.NoError(t, manifest.AddSSTable("sst-000002.dat"))

	n, err := Compact(dir, manifest, 4, zerolog.Nop())
	require.NoError(t, err)
	require.Greater(t, n, int64(0))

	require.Equal(t, 1, manifest.SSTableCount())

	sst, err := OpenSSTable(filepath.Join(dir, "sst", manifest.SSTablesOldestToNewest()[0]))
	require.NoError(t, err)

	got, err := sst.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 1, "only 'a' survives: b is tombstoned and c never had a value to begin with")
	require.Equal(t, "a", got[0].Key)
	require.Equal(t, []byte("99"), got[0].Value)
}

func TestCompactSingleTableIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sst"), 0755))

	manifest, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)
	writeTestSSTable(t, dir, "sst-000000.dat", []Entry{{Key: "a", Value: []byte("1")}})
	require.NoError(t, manifest.AddSSTable("sst-000000.dat"))

	n, err := Compact(dir, manifest, 4, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
	require.Equal(t, []string{"sst-000000.dat"}, manifest.SSTablesOldestToNewest())
}

func TestCompactRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sst"), 0755))

	manifest, err := LoadOrCreateManifest(dir)
	require.NoError(t, err)
	// Reserve ids 0 and 1 for the two hand-written tables, as a flush
	// would, so the compacted table gets a fresh name.
	for i := 0; i < 2; i++ {
		_, err := manifest.NextID()
		require.NoError(t, err)
	}
	writeTestSSTable(t, dir, "sst-000000.dat", []Entry{{Key: "a", Value: []byte("1")}})
	require.NoError(t, manifest.AddSSTable("sst-000000.dat"))
	writeTestSSTable(t, dir, "sst-000001.dat", []Entry{{Key: "b", Value: []byte("2")}})
	require.NoError(t, manifest.AddSSTable("sst-000001.dat"))

	_, err = Compact(dir, manifest, 4, zerolog.Nop())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "sst", "sst-000000.dat"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "sst", "sst-000001.dat"))
	require.True(t, os.IsNotExist(err))
}
