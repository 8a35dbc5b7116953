package lsm

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/pkg/errors"
)

const (
	sstableFooterMagic = 0x5A7A0B1E
	sstableFooterSize  = 16 // indexOffset(8) + indexCount(4) + magic(4)

	// defaultSparseEvery is the build-time period of the sparse index:
	// every Nth data record gets an index entry.
	defaultSparseEvery = 4
)

type indexEntry struct {
	key    string
	offset int64
}

// WriteSSTable writes entries (already key-sorted, as produced by
// MemTable.Snapshot or the compactor's merge) to path: a data section,
// a sparse index, and a fixed 16-byte footer. It fsyncs before returning.
// The caller is responsible for the write-tmp/rename-atomically dance.
func WriteSSTable(path string, entries []Entry, sparseEvery int) error {
	if sparseEvery <= 0 {
		sparseEvery = defaultSparseEvery
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "lsm: create sstable")
	}
	defer f.Close()

	var offset int64
	index := make([]indexEntry, 0, len(entries)/sparseEvery+1)

	for i, e := range entries {
		if i%sparseEvery == 0 {
			index = append(index, indexEntry{key: e.Key, offset: offset})
		}

		n, werr := writeDataRecord(f, e)
		if werr != nil {
			return errors.Wrap(werr, "lsm: write sstable data record")
		}
		offset += n
	}

	indexOffset := offset
	for _, ie := range index {
		n, werr := writeIndexEntry(f, ie)
		if werr != nil {
			return errors.Wrap(werr, "lsm: write sstable index entry")
		}
		offset += n
	}

	footer := make([]byte, sstableFooterSize)
	binary.BigEndian.PutUint64(footer[0:8], uint64(indexOffset))
	binary.BigEndian.PutUint32(footer[8:12], uint32(len(index)))
	binary.BigEndian.PutUint32(footer[12:16], uint32(sstableFooterMagic))
	if _, err := f.Write(footer); err != nil {
		return errors.Wrap(err, "lsm: write sstable footer")
	}

	return f.Sync()
}

func writeDataRecord(w io.Writer, e Entry) (int64, error) {
	keyLen := int32(len(e.Key))
	var valLen int32
	if e.Tombstone {
		valLen = -1
	} else {
		valLen = int32(len(e.Value))
	}

	buf := make([]byte, 8+len(e.Key)+len(e.Value))
	binary.BigEndian.PutUint32(buf[0:4], uint32(keyLen))
	binary.BigEndian.PutUint32(buf[4:8], uint32(valLen))
	copy(buf[8:], e.Key)
	if !e.Tombstone {
		copy(buf[8+len(e.Key):], e.Value)
	}

	n, err := w.Write(buf)
	return int64(n), err
}

func writeIndexEntry(w io.Writer, ie indexEntry) (int64, error) {
	buf := make([]byte, 4+len(ie.key)+8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(ie.key)))
	copy(buf[4:], ie.key)
	binary.BigEndian.PutUint64(buf[4+len(ie.key):], uint64(ie.offset))

	n, err := w.Write(buf)
	return int64(n), err
}

// SSTable is an immutable, key-sorted file produced by a flush or a
// compaction. Its sparse index is loaded into memory when the table is
// opened; data records are read on demand (open-read-close per Get, per
// the single-writer resource model).
type SSTable struct {
	Path        string
	index       []indexEntry
	indexOffset int64
}

// OpenSSTable loads the footer and sparse index of the SSTable at path.
func OpenSSTable(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "lsm: open sstable")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "lsm: stat sstable")
	}
	size := stat.Size()
	if size < sstableFooterSize {
		return nil, common.NewCorruptionError("sstable", "file smaller than footer")
	}

	footer := make([]byte, sstableFooterSize)
	if _, err := f.ReadAt(footer, size-sstableFooterSize); err != nil {
		return nil, errors.Wrap(err, "lsm: read sstable footer")
	}

	indexOffset := int64(binary.BigEndian.Uint64(footer[0:8]))
	indexCount := binary.BigEndian.Uint32(footer[8:12])
	magic := binary.BigEndian.Uint32(footer[12:16])

	if magic != sstableFooterMagic {
		return nil, common.NewCorruptionError("sstable", "bad footer magic")
	}
	if indexOffset < 0 || indexOffset > size-sstableFooterSize {
		return nil, common.NewCorruptionError("sstable", "index offset out of bounds")
	}

	index := make([]indexEntry, 0, indexCount)
	r := io.NewSectionReader(f, indexOffset, size-sstableFooterSize-indexOffset)
	for i := uint32(0); i < indexCount; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, common.NewCorruptionError("sstable", "index entry truncated")
		}
		keyLen := binary.BigEndian.Uint32(lenBuf[:])

		rest := make([]byte, int(keyLen)+8)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, common.NewCorruptionError("sstable", "index entry truncated")
		}
		key := string(rest[:keyLen])
		off := int64(binary.BigEndian.Uint64(rest[keyLen:]))
		index = append(index, indexEntry{key: key, offset: off})
	}

	return &SSTable{Path: path, index: index, indexOffset: indexOffset}, nil
}

// Get searches for key, returning its value/tombstone state and whether it
// was found at all. It reopens the file for the scan and closes it before
// returning.
func (s *SSTable) Get(key string) (value []byte, tombstone bool, found bool, err error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, false, false, errors.Wrap(err, "lsm: open sstable for get")
	}
	defer f.Close()

	// Binary search for the greatest index key <= target; default to
	// offset 0 if every index key is greater than target.
	i := sort.Search(len(s.index), func(i int) bool {
		return s.index[i].key > key
	})
	var startOffset int64
	if i > 0 {
		startOffset = s.index[i-1].offset
	}

	r := io.NewSectionReader(f, startOffset, s.indexOffset-startOffset)
	for {
		e, n, rerr := readDataRecord(r)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, false, false, rerr
		}
		if e.Key == key {
			return e.Value, e.Tombstone, true, nil
		}
		if e.Key > key {
			// Keys are sorted: once we've passed the target it cannot
			// appear later in the data section.
			break
		}
		_ = n
	}

	return nil, false, false, nil
}

// ReadAll performs a sequential scan of the entire data section, in
// key-sorted order. Used by the compactor to merge SSTables.
func (s *SSTable) ReadAll() ([]Entry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "lsm: open sstable for readall")
	}
	defer f.Close()

	r := io.NewSectionReader(f, 0, s.indexOffset)
	var entries []Entry
	for {
		e, _, rerr := readDataRecord(r)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readDataRecord reads one [kLen][vLen][kBytes][vBytes?] record from r.
// A header that would cross into the index section, or any length outside
// sanity bounds, is a corruption error — not a torn tail: SSTables are
// immutable once written, there is no crash-mid-write case to tolerate
// here (that's the WAL's job).
func readDataRecord(r io.Reader) (Entry, int64, error) {
	var header [8]byte
	n, err := io.ReadFull(r, header[:])
	if err == io.EOF {
		return Entry{}, 0, io.EOF
	}
	if err != nil {
		return Entry{}, 0, common.NewCorruptionError("sstable", "data record header truncated")
	}

	keyLen := int32(binary.BigEndian.Uint32(header[0:4]))
	valLen := int32(binary.BigEndian.Uint32(header[4:8]))
	if keyLen < minKeyLen || keyLen > maxKeyLen {
		return Entry{}, 0, common.NewCorruptionError("sstable", "key length out of bounds")
	}
	if valLen < -1 || valLen > maxValLen {
		return Entry{}, 0, common.NewCorruptionError("sstable", "value length out of bounds")
	}

	tombstone := valLen == -1
	dataLen := int(keyLen)
	if !tombstone {
		dataLen += int(valLen)
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return Entry{}, 0, common.NewCorruptionError("sstable", "data record body truncated")
	}

	e := Entry{Key: string(data[:keyLen]), Tombstone: tombstone}
	if !tombstone {
		e.Value = make([]byte, valLen)
		copy(e.Value, data[keyLen:])
	}

	total := int64(8 + dataLen)
	_ = n
	return e, total, nil
}
