package btree

import (
	"io"
	"os"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/pkg/errors"
)

// DefaultPageSize is used when a Config does not specify one.
const DefaultPageSize = 4096

// DefaultMaxKeysPerPage is used when a Config does not specify one. It is
// deliberately well below what a 4KB page can hold so that split tests
// don't need to construct near-page-size keys and values.
const DefaultMaxKeysPerPage = 64

// PageFile is fixed-size-page random access storage: page id N lives at
// byte offset N*pageSize. Every read and write addresses a whole page;
// there is no partial-page I/O.
type PageFile struct {
	file     *os.File
	pageSize int
}

// OpenPageFile opens (creating if necessary) the page file at path.
func OpenPageFile(path string, pageSize int) (*PageFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open page file")
	}
	return &PageFile{file: f, pageSize: pageSize}, nil
}

// ReadPage returns the raw pageSize-byte buffer at id. Reading a page
// that has never been written (at or past EOF) is an error: the B-Tree
// never reads a page it hasn't first allocated and written via Meta.
func (pf *PageFile) ReadPage(id uint32) ([]byte, error) {
	buf := make([]byte, pf.pageSize)
	off := int64(id) * int64(pf.pageSize)

	n, err := pf.file.ReadAt(buf, off)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(err, "btree: page %d does not exist", id)
		}
		return nil, errors.Wrapf(err, "btree: read page %d", id)
	}
	if n != pf.pageSize {
		return nil, common.NewCorruptionError("pagefile", "short page read")
	}
	return buf, nil
}

// WritePage writes a pageSize-byte buffer at id, extending the file with
// an implicit hole if id is past the current end.
func (pf *PageFile) WritePage(id uint32, buf []byte) error {
	if len(buf) != pf.pageSize {
		return errors.New("btree: page buffer size mismatch")
	}
	off := int64(id) * int64(pf.pageSize)
	if _, err := pf.file.WriteAt(buf, off); err != nil {
		return errors.Wrapf(err, "btree: write page %d", id)
	}
	return nil
}

// Sync fsyncs the underlying file.
func (pf *PageFile) Sync() error {
	return pf.file.Sync()
}

// Close closes the underlying file.
func (pf *PageFile) Close() error {
	return pf.file.Close()
}
