package lsm

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Compact performs full compaction: every live SSTable is merged into one
// new SSTable, newest-wins, tombstones dropped once the merge is complete
// (safe because no older table can resurface a key after this). The
// manifest swap that makes the new table live and the old ones gone is
// atomic; deleting the old files afterward is best-effort (see
// DESIGN.md's open-question discussion of the resulting crash windows).
// logger may be the zero value, in which case zerolog's global default is
// used.
func Compact(dataDir string, manifest *Manifest, sparseEvery int, logger zerolog.Logger) (bytesWritten int64, err error) {
	if reflect.ValueOf(logger).IsZero() {
		logger = log.Logger
	}

	newestFirst := manifest.SSTablesNewestFirst()
	if len(newestFirst) <= 1 {
		return 0, nil
	}

	sstDir := filepath.Join(dataDir, "sst")
	merged := make(map[string]record, 1024)
	seen := make(map[string]struct{}, 1024)

	for _, name := range newestFirst {
		sst, err := OpenSSTable(filepath.Join(sstDir, name))
		if err != nil {
			return 0, errors.Wrapf(err, "lsm: open sstable %s for compaction", name)
		}
		entries, err := sst.ReadAll()
		if err != nil {
			return 0, errors.Wrapf(err, "lsm: read sstable %s for compaction", name)
		}
		for _, e := range entries {
			if _, dup := seen[e.Key]; dup {
				continue // shadowed by a newer table already folded in
			}
			seen[e.Key] = struct{}{}
			merged[e.Key] = record{value: e.Value, tombstone: e.Tombstone}
		}
	}

	keys := make([]string, 0, len(merged))
	for k, r := range merged {
		if r.tombstone {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	finalEntries := make([]Entry, len(keys))
	for i, k := range keys {
		finalEntries[i] = Entry{Key: k, Value: merged[k].value}
	}

	id, err := manifest.NextID()
	if err != nil {
		return 0, errors.Wrap(err, "lsm: allocate compaction sstable id")
	}

	name := sstableFileName(id)
	out := filepath.Join(sstDir, name)
	tmp := out + "." + uuid.NewString() + ".tmp"

	if err := WriteSSTable(tmp, finalEntries, sparseEvery); err != nil {
		return 0, errors.Wrap(err, "lsm: write compacted sstable")
	}
	if fi, err := os.Stat(tmp); err == nil {
		bytesWritten = fi.Size()
	}
	if err := os.Rename(tmp, out); err != nil {
		return 0, errors.Wrap(err, "lsm: rename compacted sstable")
	}

	oldNames := manifest.SSTablesOldestToNewest()
	if err := manifest.ReplaceAllWith(name); err != nil {
		return 0, errors.Wrap(err, "lsm: persist manifest after compaction")
	}

	for _, old := range oldNames {
		if old == name {
			continue
		}
		// Best-effort: a missing file here is not an error, it just means
		// a previous incarnation already cleaned it up.
		if err := os.Remove(filepath.Join(sstDir, old)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Str("sstable", old).Err(err).Msg("lsm: orphan sstable skipped during cleanup")
		}
	}

	return bytesWritten, nil
}
