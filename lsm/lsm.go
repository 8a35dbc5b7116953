// Package lsm implements the log-structured merge storage engine: a
// MemTable fed by an append-only WAL, flushed to immutable SSTables that
// are merged by a full compactor.
package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures an Engine. Open validates it before doing anything else,
// so a caller loading one from YAML (see the config package) doesn't need a
// separate validation step.
type Config struct {
	DataDir string `yaml:"dataDir" validate:"required"`

	// MemFlushBytes is the byte-size threshold (MemTable.ApproxBytes) that
	// triggers a flush.
	MemFlushBytes int `yaml:"memFlushBytes" validate:"required,min=1"`

	// CompactTrigger is the live-SSTable count that triggers full
	// compaction.
	CompactTrigger int `yaml:"compactTrigger" validate:"required,min=2"`

	// SparseEvery is the sparse-index period: every Nth data record gets
	// an index entry.
	SparseEvery int `yaml:"sparseEvery" validate:"required,min=1"`

	Logger zerolog.Logger `yaml:"-" validate:"-"`
}

// DefaultConfig returns sane defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		MemFlushBytes:  4096,
		CompactTrigger: 4,
		SparseEvery:    defaultSparseEvery,
		Logger:         log.Logger,
	}
}

// Engine is the LSM storage engine. All mutating and read operations hold
// a single mutex: there is no internal parallelism (spec.md §5).
type Engine struct {
	config   Config
	dataDir  string
	mu       sync.Mutex
	mem      *MemTable
	wal      *WAL
	manifest *Manifest
	logger   zerolog.Logger

	compacting bool

	writeCount   int64
	readCount    int64
	flushCount   int64
	compactCount int64

	// userBytes and diskBytes feed WriteAmp/SpaceAmp in Stats: userBytes is
	// the logical payload callers have written (key+value), diskBytes is
	// what the engine actually wrote durably (WAL records plus flushed/
	// compacted SSTable bytes).
	userBytes int64
	diskBytes int64
}

// Open creates a new engine, or opens and recovers an existing one at
// config.DataDir.
func Open(config Config) (*Engine, error) {
	if config.SparseEvery <= 0 {
		config.SparseEvery = defaultSparseEvery
	}
	if err := common.ValidateStruct(config); err != nil {
		return nil, errors.Wrap(err, "lsm: invalid config")
	}
	logger := config.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = log.Logger
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "lsm: create data dir")
	}
	if err := os.MkdirAll(filepath.Join(config.DataDir, "sst"), 0755); err != nil {
		return nil, errors.Wrap(err, "lsm: create sst dir")
	}

	wal, err := OpenWAL(filepath.Join(config.DataDir, "wal.log"))
	if err != nil {
		return nil, err
	}
	wal.SetLogger(logger)

	manifest, err := LoadOrCreateManifest(config.DataDir)
	if err != nil {
		wal.Close()
		return nil, err
	}

	e := &Engine{
		config:   config,
		dataDir:  config.DataDir,
		mem:      NewMemTable(),
		wal:      wal,
		manifest: manifest,
		logger:   logger,
	}

	applied, err := e.recoverFromWAL()
	if err != nil {
		wal.Close()
		return nil, err
	}
	if applied > 0 {
		e.logger.Info().Int("records", applied).Str("dataDir", config.DataDir).Msg("lsm: recovered from WAL")
	}

	e.logger.Info().Str("dataDir", config.DataDir).Int("liveSstables", manifest.SSTableCount()).Msg("lsm: engine opened")
	return e, nil
}

func (e *Engine) recoverFromWAL() (int, error) {
	entries, err := e.wal.Replay()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.Tombstone {
			e.mem.Delete(entry.Key)
		} else {
			e.mem.Put(entry.Key, entry.Value)
		}
	}
	return len(entries), nil
}

// Put inserts or overwrites key with value.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) == 0 {
		return common.ErrKeyEmpty
	}
	k := string(key)

	n, err := e.wal.Append(k, value, false)
	if err != nil {
		return errors.Wrap(err, "lsm: put")
	}
	e.mem.Put(k, value)
	e.writeCount++
	e.userBytes += int64(len(key) + len(value))
	e.diskBytes += int64(n)

	e.logger.Debug().Str("key", k).Int("valueLen", len(value)).Msg("lsm: put")
	return e.maybeFlushAndCompact()
}

// Delete writes a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) == 0 {
		return common.ErrKeyEmpty
	}
	k := string(key)

	n, err := e.wal.Append(k, nil, true)
	if err != nil {
		return errors.Wrap(err, "lsm: delete")
	}
	e.mem.Delete(k)
	e.writeCount++
	e.userBytes += int64(len(key))
	e.diskBytes += int64(n)

	e.logger.Debug().Str("key", k).Msg("lsm: delete")
	return e.maybeFlushAndCompact()
}

func (e *Engine) maybeFlushAndCompact() error {
	if e.mem.ApproxBytes() >= e.config.MemFlushBytes || e.mem.IsFull() {
		if err := e.flush(); err != nil {
			return err
		}
		if err := e.maybeCompact(); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up key, checking the MemTable first and then live SSTables
// newest to oldest.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) == 0 {
		return nil, common.ErrKeyEmpty
	}
	k := string(key)
	e.readCount++
	e.logger.Debug().Str("key", k).Msg("lsm: get")

	if v, tombstone, found := e.mem.Get(k); found {
		if tombstone {
			return nil, common.ErrKeyNotFound
		}
		return v, nil
	}

	for _, name := range e.manifest.SSTablesNewestFirst() {
		sst, err := OpenSSTable(filepath.Join(e.dataDir, "sst", name))
		if err != nil {
			return nil, err
		}
		v, tombstone, found, err := sst.Get(k)
		if err != nil {
			return nil, err
		}
		if found {
			if tombstone {
				return nil, common.ErrKeyNotFound
			}
			return v, nil
		}
	}

	return nil, common.ErrKeyNotFound
}

// flush writes the MemTable to a new SSTable and resets the WAL. Caller
// must hold e.mu. A no-op if the MemTable is empty.
func (e *Engine) flush() error {
	if e.mem.Size() == 0 {
		return nil
	}

	id, err := e.manifest.NextID()
	if err != nil {
		return errors.Wrap(err, "lsm: allocate flush sstable id")
	}

	name := sstableFileName(id)
	out := filepath.Join(e.dataDir, "sst", name)
	tmp := out + "." + uuid.NewString() + ".tmp"

	if err := WriteSSTable(tmp, e.mem.Snapshot(), e.config.SparseEvery); err != nil {
		return errors.Wrap(err, "lsm: write flushed sstable")
	}
	if fi, err := os.Stat(tmp); err == nil {
		e.diskBytes += fi.Size()
	}
	if err := os.Rename(tmp, out); err != nil {
		return errors.Wrap(err, "lsm: rename flushed sstable")
	}
	if err := e.manifest.AddSSTable(name); err != nil {
		return errors.Wrap(err, "lsm: add flushed sstable to manifest")
	}

	e.mem.Clear()
	e.flushCount++

	if !common.SuppressWALReset.Load() {
		if err := e.wal.Reset(); err != nil {
			return errors.Wrap(err, "lsm: reset WAL after flush")
		}
	}

	e.logger.Info().Str("sstable", name).Msg("lsm: flushed memtable")
	return nil
}

// maybeCompact runs full compaction if the live-table count has reached
// the configured trigger and no compaction is already running. Caller
// must hold e.mu (single-writer model: this reentrancy guard only protects
// against the unusual case of a compaction invoked recursively).
func (e *Engine) maybeCompact() error {
	if e.compacting {
		return nil
	}
	if e.manifest.SSTableCount() < e.config.CompactTrigger {
		return nil
	}

	e.compacting = true
	defer func() { e.compacting = false }()

	before := e.manifest.SSTableCount()
	n, err := Compact(e.dataDir, e.manifest, e.config.SparseEvery, e.logger)
	if err != nil {
		return errors.Wrap(err, "lsm: compact")
	}
	e.diskBytes += n
	e.compactCount++
	e.logger.Info().Int("sstablesBefore", before).Int("sstablesAfter", e.manifest.SSTableCount()).Msg("lsm: compacted")
	return nil
}

// Compact manually triggers full compaction, regardless of whether
// CompactTrigger has been reached. Useful for tests and demos.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := Compact(e.dataDir, e.manifest, e.config.SparseEvery, e.logger)
	if err != nil {
		return errors.Wrap(err, "lsm: compact")
	}
	e.diskBytes += n
	e.compactCount++
	return nil
}

// Sync forces the WAL to durable storage. Every Put/Delete already fsyncs
// its WAL record before returning, so this mainly exists to satisfy
// common.StorageEngine.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wal.Sync()
}

// Close flushes any remaining MemTable contents and closes the WAL.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mem.Size() > 0 {
		if err := e.flush(); err != nil {
			return err
		}
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	e.logger.Info().Str("dataDir", e.dataDir).Msg("lsm: engine closed")
	return nil
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() common.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var totalDiskSize int64
	sstDir := filepath.Join(e.dataDir, "sst")
	for _, name := range e.manifest.SSTablesOldestToNewest() {
		if fi, err := os.Stat(filepath.Join(sstDir, name)); err == nil {
			totalDiskSize += fi.Size()
		}
	}

	numKeys, logicalBytes, err := e.countLiveKeys()
	if err != nil {
		e.logger.Warn().Err(err).Msg("lsm: stats key count failed")
	}

	var writeAmp, spaceAmp float64
	if e.userBytes > 0 {
		writeAmp = float64(e.diskBytes) / float64(e.userBytes)
	}
	if logicalBytes > 0 {
		spaceAmp = float64(totalDiskSize) / float64(logicalBytes)
	}

	return common.Stats{
		NumKeys:       numKeys,
		NumSegments:   e.manifest.SSTableCount(),
		TotalDiskSize: totalDiskSize,
		WriteCount:    e.writeCount,
		ReadCount:     e.readCount,
		FlushCount:    e.flushCount,
		CompactCount:  e.compactCount,
		WriteAmp:      writeAmp,
		SpaceAmp:      spaceAmp,
	}
}

// countLiveKeys walks the MemTable and every live SSTable newest-first, the
// same shadowing rule Get and Compact use, to report a point-in-time count
// of non-tombstoned keys and their total key+value bytes (the logical data
// size SpaceAmp is measured against). Caller must hold e.mu.
func (e *Engine) countLiveKeys() (numKeys, logicalBytes int64, err error) {
	seen := make(map[string]bool, 1024)

	for _, entry := range e.mem.Snapshot() {
		seen[entry.Key] = true
		if !entry.Tombstone {
			numKeys++
			logicalBytes += int64(len(entry.Key) + len(entry.Value))
		}
	}

	for _, name := range e.manifest.SSTablesNewestFirst() {
		sst, err := OpenSSTable(filepath.Join(e.dataDir, "sst", name))
		if err != nil {
			return 0, 0, err
		}
		entries, err := sst.ReadAll()
		if err != nil {
			return 0, 0, err
		}
		for _, entry := range entries {
			if seen[entry.Key] {
				continue
			}
			seen[entry.Key] = true
			if !entry.Tombstone {
				numKeys++
				logicalBytes += int64(len(entry.Key) + len(entry.Value))
			}
		}
	}

	return numKeys, logicalBytes, nil
}

func sstableFileName(id uint64) string {
	return fmt.Sprintf("sst-%06d.dat", id)
}
