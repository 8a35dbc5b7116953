package lsm

import (
	"testing"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/arkatz-dev/dualkv/common/testutil"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := testutil.TempDir(t)
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1 << 20 // large, so tests control flushing explicitly
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnginePutGet(t *testing.T) {
	db := openTestEngine(t)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestEngineGetMissingKey(t *testing.T) {
	db := openTestEngine(t)

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestEngineEmptyKeyRejected(t *testing.T) {
	db := openTestEngine(t)

	require.ErrorIs(t, db.Put(nil, []byte("v")), common.ErrKeyEmpty)
	require.ErrorIs(t, db.Delete(nil), common.ErrKeyEmpty)
	_, err := db.Get(nil)
	require.ErrorIs(t, err, common.ErrKeyEmpty)
}

func TestEngineOverwrite(t *testing.T) {
	db := openTestEngine(t)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("a"), []byte("2")))

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestEngineDelete(t *testing.T) {
	db := openTestEngine(t)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Delete([]byte("a")))

	_, err := db.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestEngineDeleteThenFlushKeepsTombstoneShadowing(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1"))) // flushes immediately
	require.NoError(t, db.Delete([]byte("a")))           // flushes again, tombstone in its own sstable

	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, common.ErrKeyNotFound, "a newer-table tombstone must shadow an older value")
}

func TestEngineFlushPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1
	db, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Close())

	db2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestEngineWALRecoversUnflushedWrites(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1 << 20

	common.SuppressWALReset.Store(true)
	defer common.SuppressWALReset.Store(false)

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	// Simulate a crash: don't flush the memtable, just drop the handle.
	require.NoError(t, db.wal.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	v, err = db2.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestEngineCompactDropsTombstonesAndDedups(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1
	cfg.CompactTrigger = 100 // disable automatic trigger; compact manually
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1"))) // flush 1
	require.NoError(t, db.Put([]byte("a"), []byte("2"))) // flush 2, newest-wins
	require.NoError(t, db.Put([]byte("b"), []byte("x"))) // flush 3
	require.NoError(t, db.Delete([]byte("b")))           // flush 4, tombstone

	require.NoError(t, db.Compact())

	stats := db.Stats()
	require.Equal(t, 1, stats.NumSegments, "full compaction must merge every live sstable into one")

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, err = db.Get([]byte("b"))
	require.ErrorIs(t, err, common.ErrKeyNotFound, "a tombstone with no earlier value must leave no trace after compaction")
}

func TestEngineAutoCompactTriggersAtThreshold(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1
	cfg.CompactTrigger = 3
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.NoError(t, db.Put([]byte("c"), []byte("3")))

	stats := db.Stats()
	require.Equal(t, int64(1), stats.CompactCount)
	require.Equal(t, 1, stats.NumSegments)
}

func TestEngineStatsAmplification(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemFlushBytes = 1
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	stats := db.Stats()
	require.Equal(t, int64(1), stats.NumKeys)
	require.Greater(t, stats.WriteAmp, 0.0, "WAL + SSTable writes must exceed the logical payload")
	require.Greater(t, stats.SpaceAmp, 0.0)
}

func TestEngineSync(t *testing.T) {
	db := openTestEngine(t)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Sync())
}
