package lsm

import "sort"

// record is either a present value or a tombstone. absent (the key is not
// in the map at all) is a distinct third state handled at the lookup site.
type record struct {
	value     []byte
	tombstone bool
}

// Entry is a single key/record pair, used for ordered snapshots handed to
// the flush path and for SSTable data records.
type Entry struct {
	Key       string
	Value     []byte
	Tombstone bool
}

// MemTable is the in-memory ordered buffer for the active segment of
// writes. It is not internally synchronized: the engine's single monitor
// serializes all access (spec's "coarse monitor per engine" design, see
// DESIGN.md).
type MemTable struct {
	entries  map[string]record
	bytes    int // key bytes + non-tombstone value bytes
	coarseCap int
}

// defaultCoarseCap bounds MemTable.IsFull by entry count as a safety stop
// independent of the engine's byte-size flush threshold.
const defaultCoarseCap = 4

// NewMemTable creates an empty MemTable.
func NewMemTable() *MemTable {
	return &MemTable{
		entries:   make(map[string]record),
		coarseCap: defaultCoarseCap,
	}
}

// Put inserts or overwrites a key with a present value.
func (m *MemTable) Put(key string, value []byte) {
	old, existed := m.entries[key]
	if existed && !old.tombstone {
		m.bytes -= len(old.value)
	} else if !existed {
		m.bytes += len(key)
	}
	m.bytes += len(value)
	m.entries[key] = record{value: value}
}

// Delete inserts a tombstone for key.
func (m *MemTable) Delete(key string) {
	old, existed := m.entries[key]
	if existed && !old.tombstone {
		m.bytes -= len(old.value)
	} else if !existed {
		m.bytes += len(key)
	}
	m.entries[key] = record{tombstone: true}
}

// Get returns the record for key and whether it was found at all. A found
// tombstone is distinct from not-found: callers must check Tombstone.
func (m *MemTable) Get(key string) (value []byte, tombstone bool, found bool) {
	r, ok := m.entries[key]
	if !ok {
		return nil, false, false
	}
	return r.value, r.tombstone, true
}

// Snapshot returns an independent, key-sorted copy of the MemTable's
// contents for the flush path.
func (m *MemTable) Snapshot() []Entry {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, len(keys))
	for i, k := range keys {
		r := m.entries[k]
		out[i] = Entry{Key: k, Value: r.value, Tombstone: r.tombstone}
	}
	return out
}

// ApproxBytes is the sum of key bytes plus non-tombstone value bytes,
// used by the engine to decide when to flush.
func (m *MemTable) ApproxBytes() int {
	return m.bytes
}

// Size returns the number of entries (including tombstones).
func (m *MemTable) Size() int {
	return len(m.entries)
}

// IsFull reports whether the entry count has reached the coarse safety cap.
func (m *MemTable) IsFull() bool {
	return len(m.entries) >= m.coarseCap
}

// Clear empties the MemTable after a successful flush.
func (m *MemTable) Clear() {
	m.entries = make(map[string]record)
	m.bytes = 0
}
