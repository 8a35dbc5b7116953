package btree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetaCreateFresh(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateMeta(dir, DefaultPageSize)
	require.NoError(t, err)

	require.Equal(t, uint32(0), m.RootPageID)
	require.Equal(t, uint32(1), m.NextPageID)
	require.Equal(t, DefaultPageSize, m.PageSize)
	require.Equal(t, uint32(MetaMagic), m.Magic)
}

func TestMetaAllocPageID(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateMeta(dir, DefaultPageSize)
	require.NoError(t, err)

	id1 := m.AllocPageID()
	id2 := m.AllocPageID()
	require.Equal(t, uint32(1), id1)
	require.Equal(t, uint32(2), id2)
	require.Equal(t, uint32(3), m.NextPageID)
}

func TestMetaPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreateMeta(dir, DefaultPageSize)
	require.NoError(t, err)

	m.RootPageID = 7
	m.NextPageID = 12
	require.NoError(t, m.PersistAtomically())

	reloaded, err := LoadOrCreateMeta(dir, DefaultPageSize)
	require.NoError(t, err)
	require.Equal(t, uint32(7), reloaded.RootPageID)
	require.Equal(t, uint32(12), reloaded.NextPageID)
}

func TestMetaBadMagicIsCorruption(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrCreateMeta(dir, DefaultPageSize) // creates the file
	require.NoError(t, err)

	path := filepath.Join(dir, "meta.txt")
	require.NoError(t, os.WriteFile(path, []byte("rootPageId=0\nnextPageId=1\npageSize=4096\nversion=1\nmagic=1\n"), 0644))

	_, err = LoadOrCreateMeta(dir, DefaultPageSize)
	require.Error(t, err)
}
