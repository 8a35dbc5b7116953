package lsm

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WAL is the LSM engine's append-only log of logical put/delete records.
// Record format: [keyLen:int32 BE][valLen:int32 BE][keyBytes][valBytes?].
// valLen == -1 encodes a tombstone (no value bytes follow); valLen == 0
// encodes a present empty value, and that distinction is preserved through
// the whole stack (memtable, sstable).
//
// Every Append fsyncs before returning: the writer-facing durability
// contract is that a successful Put/Delete is durable before it returns.
type WAL struct {
	file   *os.File
	path   string
	logger zerolog.Logger
}

const (
	minKeyLen = 1
	maxKeyLen = 1e7
	maxValLen = 1e8
)

// OpenWAL opens or creates the WAL file at path in append mode.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "lsm: open WAL")
	}
	return &WAL{file: f, path: path, logger: log.Logger}, nil
}

// SetLogger overrides the WAL's logger, used by Engine.Open to share its
// own configured logger instead of zerolog's global default.
func (w *WAL) SetLogger(logger zerolog.Logger) {
	w.logger = logger
}

// Append writes one record and fsyncs before returning. It returns the
// number of bytes physically written, used by the engine to track write
// amplification.
func (w *WAL) Append(key string, value []byte, tombstone bool) (int, error) {
	keyLen := int32(len(key))
	var valLen int32
	if tombstone {
		valLen = -1
	} else {
		valLen = int32(len(value))
	}

	buf := make([]byte, 8+len(key)+len(value))
	binary.BigEndian.PutUint32(buf[0:4], uint32(keyLen))
	binary.BigEndian.PutUint32(buf[4:8], uint32(valLen))
	copy(buf[8:], key)
	if !tombstone {
		copy(buf[8+len(key):], value)
	}

	if _, err := w.file.Write(buf); err != nil {
		return 0, errors.Wrap(err, "lsm: append WAL record")
	}
	if err := w.file.Sync(); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Sync forces the WAL file to disk.
func (w *WAL) Sync() error {
	return w.file.Sync()
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Reset truncates the WAL to zero bytes, the checkpoint step that runs
// only after the WAL's effects are durably reflected in the stable store.
func (w *WAL) Reset() error {
	if err := w.file.Truncate(0); err != nil {
		return errors.Wrap(err, "lsm: truncate WAL")
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// ReplayEntry is one record recovered from a WAL replay.
type ReplayEntry struct {
	Key       string
	Value     []byte
	Tombstone bool
}

// Replay reads records from offset 0 until EOF and returns them in file
// order; applying them is the caller's job.
// A record whose header, key, or value would extend past EOF is a torn
// tail: the natural result of a crash mid-append. Replay stops cleanly
// there, with no error, discarding that last partial record. A record
// whose lengths fall outside the sanity bounds is corruption, not a torn
// tail, and fails the replay.
func (w *WAL) Replay() ([]ReplayEntry, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "lsm: seek WAL")
	}

	var entries []ReplayEntry
	header := make([]byte, 8)
	for {
		n, err := io.ReadFull(w.file, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err == io.ErrUnexpectedEOF {
			// Torn tail: fewer than 8 header bytes remain.
			w.logger.Warn().Str("wal", w.path).Msg("lsm: torn WAL tail discarded (partial record header)")
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "lsm: read WAL header")
		}

		keyLen := int32(binary.BigEndian.Uint32(header[0:4]))
		valLen := int32(binary.BigEndian.Uint32(header[4:8]))

		if keyLen < minKeyLen || keyLen > maxKeyLen {
			return nil, common.NewCorruptionError("lsm-wal", "key length out of bounds")
		}
		if valLen < -1 || valLen > maxValLen {
			return nil, common.NewCorruptionError("lsm-wal", "value length out of bounds")
		}

		tombstone := valLen == -1
		dataLen := int(keyLen)
		if !tombstone {
			dataLen += int(valLen)
		}

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(w.file, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Torn tail: the record's key/value bytes didn't fully land.
				w.logger.Warn().Str("wal", w.path).Msg("lsm: torn WAL tail discarded (partial record body)")
				break
			}
			return nil, errors.Wrap(err, "lsm: read WAL record body")
		}

		key := string(data[:keyLen])
		var value []byte
		if !tombstone {
			value = make([]byte, valLen)
			copy(value, data[keyLen:])
		}

		entries = append(entries, ReplayEntry{Key: key, Value: value, Tombstone: tombstone})
	}

	return entries, nil
}
