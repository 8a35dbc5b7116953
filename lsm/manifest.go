package lsm

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Manifest is the LSM engine's directory of live SSTables: a text file
// with one directive per line, "nextSstId=<int>" followed by zero or more
// "sst=<filename>" lines in creation (= append) order. It is rewritten
// atomically — write to a sibling .tmp file, then rename over the
// canonical path — after every mutation.
type Manifest struct {
	path       string
	nextSstID  uint64
	sstables   []string // oldest first
}

const manifestFileName = "manifest.txt"

// LoadOrCreateManifest loads dataDir/manifest.txt, or creates a fresh one
// (nextSstId=0, no tables) if it doesn't exist yet.
func LoadOrCreateManifest(dataDir string) (*Manifest, error) {
	path := filepath.Join(dataDir, manifestFileName)

	m := &Manifest{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if perr := m.persist(); perr != nil {
			return nil, perr
		}
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lsm: open manifest")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "nextSstId="):
			v, perr := strconv.ParseUint(strings.TrimPrefix(line, "nextSstId="), 10, 64)
			if perr != nil {
				return nil, errors.Wrap(perr, "lsm: parse manifest nextSstId")
			}
			m.nextSstID = v
		case strings.HasPrefix(line, "sst="):
			m.sstables = append(m.sstables, strings.TrimPrefix(line, "sst="))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "lsm: scan manifest")
	}

	return m, nil
}

// NextID allocates and persists the next SSTable id.
func (m *Manifest) NextID() (uint64, error) {
	id := m.nextSstID
	m.nextSstID++
	if err := m.persist(); err != nil {
		m.nextSstID--
		return 0, err
	}
	return id, nil
}

// AddSSTable appends name to the live-table list and persists the change.
func (m *Manifest) AddSSTable(name string) error {
	m.sstables = append(m.sstables, name)
	return m.persist()
}

// ReplaceAllWith swaps the entire live-table list for a single name, used
// by full compaction.
func (m *Manifest) ReplaceAllWith(name string) error {
	old := m.sstables
	m.sstables = []string{name}
	if err := m.persist(); err != nil {
		m.sstables = old
		return err
	}
	return nil
}

// SSTablesOldestToNewest returns live table names in creation order.
func (m *Manifest) SSTablesOldestToNewest() []string {
	out := make([]string, len(m.sstables))
	copy(out, m.sstables)
	return out
}

// SSTablesNewestFirst returns live table names newest first.
func (m *Manifest) SSTablesNewestFirst() []string {
	out := make([]string, len(m.sstables))
	for i, name := range m.sstables {
		out[len(m.sstables)-1-i] = name
	}
	return out
}

// SSTableCount reports how many tables are currently live.
func (m *Manifest) SSTableCount() int {
	return len(m.sstables)
}

// persist rewrites the manifest atomically: write a uuid-suffixed tmp
// file, fsync it, then rename it over the canonical path. Readers
// therefore always see either the old manifest or the fully-written new
// one, never a partial write.
func (m *Manifest) persist() error {
	tmp := m.path + "." + uuid.NewString() + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "lsm: create manifest tmp")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "nextSstId=%d\n", m.nextSstID)
	for _, name := range m.sstables {
		fmt.Fprintf(&b, "sst=%s\n", name)
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "lsm: write manifest tmp")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "lsm: fsync manifest tmp")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "lsm: close manifest tmp")
	}

	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "lsm: rename manifest tmp")
	}
	return nil
}
