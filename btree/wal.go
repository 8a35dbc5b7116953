package btree

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minWALPageSize = 1
	maxWALPageSize = 1_000_000
)

// PageRecord is one replayed WAL-B record: the full image of page PageID
// that its commit writes to the page file.
type PageRecord struct {
	PageID   uint32
	PageSize int
	Data     []byte
}

// WAL is the B-Tree's write-ahead log: a sequence of full page-image
// records, each guarded by a CRC32. Unlike the LSM WAL, every append
// reopens the file; callers batch several AppendPage calls and then make
// one Sync call to make the whole batch durable before applying it to the
// page file.
type WAL struct {
	path   string
	logger zerolog.Logger
}

// OpenWAL ensures the log file exists and returns a handle to it.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open wal")
	}
	f.Close()
	return &WAL{path: path, logger: log.Logger}, nil
}

// SetLogger overrides the WAL's logger, used by Engine.Open to share its
// own configured logger instead of zerolog's global default.
func (w *WAL) SetLogger(logger zerolog.Logger) {
	w.logger = logger
}

// AppendPage appends one page-image record: [pageId:4][pageSize:4][data][crc32:4].
func (w *WAL) AppendPage(id uint32, data []byte) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "btree: open wal for append")
	}
	defer f.Close()

	buf := make([]byte, 8+len(data)+4)
	binary.BigEndian.PutUint32(buf[0:4], id)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:8+len(data)], data)
	crc := crc32.ChecksumIEEE(buf[0 : 8+len(data)])
	binary.BigEndian.PutUint32(buf[8+len(data):], crc)

	if _, err := f.Write(buf); err != nil {
		return errors.Wrap(err, "btree: append wal record")
	}
	return nil
}

// Sync fsyncs the log file. fsync on any open descriptor for a regular
// file flushes all of that file's dirty pages regardless of which
// descriptor wrote them, so reopening here is safe.
func (w *WAL) Sync() error {
	f, err := os.OpenFile(w.path, os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "btree: open wal for sync")
	}
	defer f.Close()
	return f.Sync()
}

// Reset truncates the log to zero length.
func (w *WAL) Reset() error {
	return os.Truncate(w.path, 0)
}

// Close is a no-op: WAL never holds the file open between calls.
func (w *WAL) Close() error {
	return nil
}

// Replay reads records sequentially. It stops cleanly, without error, the
// moment a header, payload, or CRC would cross EOF, or the recomputed CRC
// doesn't match the stored one — all symptoms of a commit that was
// interrupted mid-append. A sanity-bound violation (an impossible
// pageSize) is a hard corruption error instead, since it can't be
// produced by a torn write.
func (w *WAL) Replay() ([]PageRecord, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "btree: open wal for replay")
	}
	defer f.Close()

	var records []PageRecord
	for {
		header := make([]byte, 8)
		n, err := io.ReadFull(f, header)
		if err != nil {
			if n > 0 {
				w.logger.Warn().Str("wal", w.path).Msg("btree: torn WAL tail discarded (partial record header)")
			}
			break // clean EOF or torn header
		}

		id := binary.BigEndian.Uint32(header[0:4])
		pageSize := binary.BigEndian.Uint32(header[4:8])
		if pageSize < minWALPageSize || pageSize > maxWALPageSize {
			return nil, common.NewCorruptionError("btree-wal", "page size out of bounds")
		}

		data := make([]byte, pageSize)
		if _, err := io.ReadFull(f, data); err != nil {
			w.logger.Warn().Str("wal", w.path).Msg("btree: torn WAL tail discarded (partial page image)")
			break // torn payload
		}

		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(f, crcBuf); err != nil {
			w.logger.Warn().Str("wal", w.path).Msg("btree: torn WAL tail discarded (partial crc)")
			break // torn crc
		}
		storedCRC := binary.BigEndian.Uint32(crcBuf)

		full := make([]byte, 8+len(data))
		copy(full, header)
		copy(full[8:], data)
		if crc32.ChecksumIEEE(full) != storedCRC {
			w.logger.Warn().Str("wal", w.path).Uint32("pageId", id).Msg("btree: torn WAL tail discarded (crc mismatch)")
			break // crc mismatch: treat like a torn tail, not a hard error
		}

		records = append(records, PageRecord{PageID: id, PageSize: int(pageSize), Data: data})
	}

	return records, nil
}
