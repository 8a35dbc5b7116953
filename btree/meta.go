package btree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MetaMagic sentinels a well-formed meta file, distinguishing it from
// garbage left by some unrelated process.
const MetaMagic = 0xBEEFBEEF

const metaFileName = "meta.txt"

// Meta is the B-Tree engine's checkpoint: the current root page, the next
// page id to allocate, and the page size the tree was built with. Like
// the LSM manifest, it's a small text file rewritten atomically.
type Meta struct {
	path string

	RootPageID uint32
	NextPageID uint32
	PageSize   int
	Version    int
	Magic      uint32
}

// LoadOrCreateMeta loads dataDir/meta.txt, or bootstraps a fresh one with
// an empty root at page 0 and the next free id at 1.
func LoadOrCreateMeta(dataDir string, pageSize int) (*Meta, error) {
	path := filepath.Join(dataDir, metaFileName)
	m := &Meta{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		m.RootPageID = 0
		m.NextPageID = 1
		m.PageSize = pageSize
		m.Version = 1
		m.Magic = MetaMagic
		if perr := m.PersistAtomically(); perr != nil {
			return nil, perr
		}
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "btree: open meta")
	}
	defer f.Close()

	values := map[string]uint64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		v, perr := strconv.ParseUint(parts[1], 10, 64)
		if perr != nil {
			return nil, errors.Wrapf(perr, "btree: parse meta field %s", parts[0])
		}
		values[parts[0]] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "btree: scan meta")
	}

	magic, ok := values["magic"]
	if !ok || uint32(magic) != MetaMagic {
		return nil, common.NewCorruptionError("btree-meta", "bad or missing magic")
	}

	m.RootPageID = uint32(values["rootPageId"])
	m.NextPageID = uint32(values["nextPageId"])
	m.PageSize = int(values["pageSize"])
	m.Version = int(values["version"])
	m.Magic = uint32(magic)
	return m, nil
}

// AllocPageID reserves the next page id. It only updates the in-memory
// counter; the caller is responsible for calling PersistAtomically as
// part of its commit once the page itself has been written durably.
func (m *Meta) AllocPageID() uint32 {
	id := m.NextPageID
	m.NextPageID++
	return id
}

// PersistAtomically rewrites the meta file: write a uuid-suffixed tmp
// file, fsync, close, then rename over the canonical path.
func (m *Meta) PersistAtomically() error {
	tmp := m.path + "." + uuid.NewString() + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "btree: create meta tmp")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "rootPageId=%d\n", m.RootPageID)
	fmt.Fprintf(&b, "nextPageId=%d\n", m.NextPageID)
	fmt.Fprintf(&b, "pageSize=%d\n", m.PageSize)
	fmt.Fprintf(&b, "version=%d\n", m.Version)
	fmt.Fprintf(&b, "magic=%d\n", m.Magic)

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "btree: write meta tmp")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "btree: fsync meta tmp")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "btree: close meta tmp")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "btree: rename meta tmp")
	}
	return nil
}
