// Package btree implements the B-Tree storage engine: fixed-size pages
// on a random-access page file, full-page-image write-ahead logging, and
// split propagation on overflow.
package btree

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures an Engine. Open validates it before doing anything
// else, so a caller loading one from YAML (see the config package) doesn't
// need a separate validation step.
type Config struct {
	DataDir string `yaml:"dataDir" validate:"required"`

	// PageSize is the fixed page size in bytes, including the 32-byte
	// header. Every page, leaf or internal, is exactly this many bytes
	// on disk.
	PageSize int `yaml:"pageSize" validate:"required,min=512,multipleof512"`

	// MaxKeysPerPage bounds how many keys a leaf or internal page may
	// hold before it splits, independent of the byte-level overflow
	// check Encode performs. It exists to make splits exercisable with
	// small, human-sized test data instead of requiring pages full of
	// near-PageSize values.
	MaxKeysPerPage int `yaml:"maxKeysPerPage" validate:"required,min=3"`

	Logger zerolog.Logger `yaml:"-" validate:"-"`
}

// DefaultConfig returns sane defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		PageSize:       DefaultPageSize,
		MaxKeysPerPage: DefaultMaxKeysPerPage,
		Logger:         log.Logger,
	}
}

// Engine is the B-Tree storage engine. Like lsm.Engine, every operation
// holds a single mutex; there is no internal parallelism.
type Engine struct {
	config  Config
	dataDir string
	mu      sync.Mutex

	pf     *PageFile
	wal    *WAL
	meta   *Meta
	logger zerolog.Logger

	writeCount, readCount, splitCount int64

	// userBytes and diskBytes feed WriteAmp in Stats: userBytes is the
	// logical payload callers have written (key+value), diskBytes is what
	// commit actually wrote durably (every dirty page goes to both the WAL
	// and the page file as a full image).
	userBytes, diskBytes int64
}

// Open creates a new engine, or opens and recovers an existing one at
// config.DataDir.
func Open(config Config) (*Engine, error) {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.MaxKeysPerPage <= 0 {
		config.MaxKeysPerPage = DefaultMaxKeysPerPage
	}
	if err := common.ValidateStruct(config); err != nil {
		return nil, errors.Wrap(err, "btree: invalid config")
	}
	logger := config.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = log.Logger
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "btree: create data dir")
	}

	pf, err := OpenPageFile(filepath.Join(config.DataDir, "btree.data"), config.PageSize)
	if err != nil {
		return nil, err
	}

	wal, err := OpenWAL(filepath.Join(config.DataDir, "wal.log"))
	if err != nil {
		pf.Close()
		return nil, err
	}
	wal.SetLogger(logger)

	meta, err := LoadOrCreateMeta(config.DataDir, config.PageSize)
	if err != nil {
		pf.Close()
		return nil, err
	}

	e := &Engine{
		config:  config,
		dataDir: config.DataDir,
		pf:      pf,
		wal:     wal,
		meta:    meta,
		logger:  logger,
	}

	applied, err := e.recoverFromWAL()
	if err != nil {
		pf.Close()
		return nil, err
	}
	if applied > 0 {
		e.logger.Info().Int("records", applied).Msg("btree: recovered from WAL")
	}

	if err := e.ensureRoot(); err != nil {
		pf.Close()
		return nil, err
	}

	e.logger.Info().Str("dataDir", config.DataDir).Uint32("root", e.meta.RootPageID).Msg("btree: engine opened")
	return e, nil
}

// recoverFromWAL reapplies any page images left by a commit that reached
// the WAL but not necessarily the page file. Reapplying a full page image
// is idempotent. Meta is deliberately left untouched here: meta persist
// is the commit point, so a batch that never reached it is not considered
// committed even though its page images are (harmlessly) replayed.
func (e *Engine) recoverFromWAL() (int, error) {
	records, err := e.wal.Replay()
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := e.pf.WritePage(rec.PageID, rec.Data); err != nil {
			return 0, err
		}
	}
	if len(records) > 0 {
		if err := e.pf.Sync(); err != nil {
			return 0, err
		}
		if !common.SuppressWALReset.Load() {
			if err := e.wal.Reset(); err != nil {
				return 0, err
			}
		}
	}
	return len(records), nil
}

// ensureRoot bootstraps page 0 as an empty leaf the first time an engine
// is opened against a fresh data directory, using the same commit
// protocol as any other mutation.
func (e *Engine) ensureRoot() error {
	_, err := e.pf.ReadPage(e.meta.RootPageID)
	if err == nil {
		return nil
	}
	cause := errors.Cause(err)
	if cause != io.EOF && cause != io.ErrUnexpectedEOF {
		return err
	}
	root := NewLeafPage(e.meta.RootPageID)
	return e.commit([]*Page{root}, e.meta.RootPageID, e.meta.NextPageID)
}

// pathEntry is one level of the descent from root to leaf.
type pathEntry struct {
	page      *Page
	childIdx  int // index into page.Children that was followed
}

// descend walks from the root to the leaf that would contain key,
// returning the leaf and the stack of internal ancestors visited.
func (e *Engine) descend(key []byte) (*Page, []pathEntry, error) {
	var path []pathEntry
	id := e.meta.RootPageID

	for {
		raw, err := e.pf.ReadPage(id)
		if err != nil {
			return nil, nil, errors.Wrap(err, "btree: descend")
		}
		page, err := Decode(id, raw)
		if err != nil {
			return nil, nil, err
		}
		if page.Leaf {
			return page, path, nil
		}

		idx, exact := searchKeys(page.Keys, key)
		if exact {
			idx++
		}
		path = append(path, pathEntry{page: page, childIdx: idx})
		id = page.Children[idx]
	}
}

// Get looks up key via a single root-to-leaf descent.
func (e *Engine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) == 0 {
		return nil, common.ErrKeyEmpty
	}
	e.readCount++
	e.logger.Debug().Bytes("key", key).Msg("btree: get")

	leaf, _, err := e.descend(key)
	if err != nil {
		return nil, err
	}
	idx, found := searchKeys(leaf.Keys, key)
	if !found {
		return nil, common.ErrKeyNotFound
	}
	return leaf.Values[idx], nil
}

// Put inserts or overwrites key with value, splitting pages bottom-up as
// needed and committing the whole batch in one durable transaction.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) == 0 {
		return common.ErrKeyEmpty
	}

	leaf, path, err := e.descend(key)
	if err != nil {
		return err
	}

	idx, found := searchKeys(leaf.Keys, key)
	newKeys := copyKeys(leaf.Keys)
	newVals := copyKeys(leaf.Values)

	if found {
		newVals[idx] = value
	} else {
		newKeys = insertAt(newKeys, idx, key)
		newVals = insertAt(newVals, idx, value)
	}
	leaf.Keys, leaf.Values = newKeys, newVals

	dirty := map[uint32]*Page{leaf.ID: leaf}
	nextID := e.meta.NextPageID
	newRoot := e.meta.RootPageID

	needsSplit, err := e.pageNeedsSplit(leaf)
	if err != nil {
		return errors.Wrap(err, "btree: encode leaf")
	}
	if needsSplit {
		splitsBefore := e.splitCount
		newRoot, err = e.splitUpward(leaf, path, dirty, &nextID)
		if err != nil {
			return err
		}
		e.logger.Info().Int64("splits", e.splitCount-splitsBefore).Uint32("root", newRoot).Msg("btree: split propagated")
	}

	pages := make([]*Page, 0, len(dirty))
	for _, p := range dirty {
		pages = append(pages, p)
	}

	if err := e.commit(pages, newRoot, nextID); err != nil {
		return errors.Wrap(err, "btree: put")
	}
	e.writeCount++
	e.userBytes += int64(len(key) + len(value))
	e.logger.Debug().Bytes("key", key).Int("valueLen", len(value)).Msg("btree: put")
	return nil
}

// Delete is not supported: spec.md scopes the B-Tree engine to
// put/get plus the split machinery that exercises the durability
// protocol, and explicitly leaves key removal as a non-goal.
func (e *Engine) Delete(key []byte) error {
	return common.ErrUnsupported
}

// pageNeedsSplit reports whether p must be split before it can be
// committed: either it holds more than MaxKeysPerPage keys, or it no
// longer fits in a single PageSize-byte page.
func (e *Engine) pageNeedsSplit(p *Page) (bool, error) {
	if len(p.Keys) > e.config.MaxKeysPerPage {
		return true, nil
	}
	if _, err := Encode(p, e.config.PageSize); err != nil {
		if err == ErrPageOverflow {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// splitUpward handles an overflowing leaf: split it, then walk the path
// stack from the leaf's immediate parent up toward the root, inserting
// the promoted separator into each ancestor and splitting it in turn if
// it also overflows. Returns the id the root should have after the
// commit (unchanged unless the split reached all the way to the top).
func (e *Engine) splitUpward(leaf *Page, path []pathEntry, dirty map[uint32]*Page, nextID *uint32) (uint32, error) {
	promotedKey, rightID := splitLeafPage(leaf, dirty, nextID)
	dirty[leaf.ID] = leaf
	e.splitCount++

	for level := len(path) - 1; level >= 0; level-- {
		parent := path[level].page
		insertPos := path[level].childIdx // right half belongs just after this index

		parent.Keys = insertAt(copyKeys(parent.Keys), insertPos, promotedKey)
		parent.Children = insertChildAt(copyChildren(parent.Children), insertPos+1, rightID)
		dirty[parent.ID] = parent

		needsSplit, err := e.pageNeedsSplit(parent)
		if err != nil {
			return 0, errors.Wrap(err, "btree: encode internal page")
		}
		if !needsSplit {
			return e.meta.RootPageID, nil
		}

		e.splitCount++
		promotedKey, rightID = e.splitInternal(parent, dirty, nextID)
	}

	// Every ancestor up to and including the root overflowed (or the
	// split leaf was the root itself, path empty): synthesize a new root
	// over the final left/right pair.
	leftID := leaf.ID
	if len(path) > 0 {
		leftID = path[0].page.ID
	}

	newRootID := *nextID
	*nextID++
	newRoot := &Page{
		ID:       newRootID,
		Leaf:     false,
		Keys:     [][]byte{promotedKey},
		Children: []uint32{leftID, rightID},
	}
	dirty[newRoot.ID] = newRoot
	return newRoot.ID, nil
}

// splitLeafPage splits an overflowing leaf in place: the left half keeps
// the leaf's existing id, the right half gets a freshly allocated one.
// The promoted separator is the right half's first key, since leaf
// splits keep the median on the right so every key still lives in a leaf.
func splitLeafPage(leaf *Page, dirty map[uint32]*Page, nextID *uint32) ([]byte, uint32) {
	mid := len(leaf.Keys) / 2

	rightKeys := append([][]byte(nil), leaf.Keys[mid:]...)
	rightValues := append([][]byte(nil), leaf.Values[mid:]...)
	leaf.Keys = leaf.Keys[:mid]
	leaf.Values = leaf.Values[:mid]

	rightID := *nextID
	*nextID++
	right := &Page{ID: rightID, Leaf: true, Keys: rightKeys, Values: rightValues}
	dirty[right.ID] = right

	return right.Keys[0], right.ID
}

// splitInternal splits an overflowing internal page in place: the left
// half keeps the page's existing id, the right half gets a freshly
// allocated one, and the middle key is promoted (removed from both
// halves, unlike a leaf split) to the caller's next level up.
func (e *Engine) splitInternal(parent *Page, dirty map[uint32]*Page, nextID *uint32) ([]byte, uint32) {
	mid := len(parent.Keys) / 2
	promoted := parent.Keys[mid]

	rightKeys := append([][]byte(nil), parent.Keys[mid+1:]...)
	rightChildren := append([]uint32(nil), parent.Children[mid+1:]...)

	parent.Keys = parent.Keys[:mid]
	parent.Children = parent.Children[:mid+1]

	rightID := *nextID
	*nextID++
	right := &Page{ID: rightID, Leaf: false, Keys: rightKeys, Children: rightChildren}

	dirty[parent.ID] = parent
	dirty[right.ID] = right

	return promoted, right.ID
}

func copyKeys(src [][]byte) [][]byte {
	out := make([][]byte, len(src))
	copy(out, src)
	return out
}

func copyChildren(src []uint32) []uint32 {
	out := make([]uint32, len(src))
	copy(out, src)
	return out
}

func insertAt(keys [][]byte, idx int, key []byte) [][]byte {
	keys = append(keys, nil)
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = key
	return keys
}

func insertChildAt(children []uint32, idx int, child uint32) []uint32 {
	children = append(children, 0)
	copy(children[idx+1:], children[idx:])
	children[idx] = child
	return children
}

// commit runs the shared durability protocol: WAL-append every page,
// fsync the WAL, apply every write to the page file, fsync the page
// file, persist meta (the commit point), then reset the WAL.
func (e *Engine) commit(pages []*Page, newRoot, newNextID uint32) error {
	encoded := make([][]byte, len(pages))
	for i, p := range pages {
		buf, err := Encode(p, e.config.PageSize)
		if err != nil {
			return errors.Wrapf(err, "btree: encode page %d", p.ID)
		}
		encoded[i] = buf
		// Every dirty page is written twice: once as a full image to the
		// WAL, once to the page file itself.
		e.diskBytes += 2 * int64(len(buf))
	}

	for i, p := range pages {
		if err := e.wal.AppendPage(p.ID, encoded[i]); err != nil {
			return errors.Wrap(err, "btree: append wal")
		}
	}
	if err := e.wal.Sync(); err != nil {
		return errors.Wrap(err, "btree: fsync wal")
	}

	for i, p := range pages {
		if err := e.pf.WritePage(p.ID, encoded[i]); err != nil {
			return errors.Wrapf(err, "btree: apply page %d", p.ID)
		}
	}
	if err := e.pf.Sync(); err != nil {
		return errors.Wrap(err, "btree: fsync page file")
	}

	e.meta.RootPageID = newRoot
	e.meta.NextPageID = newNextID
	if err := e.meta.PersistAtomically(); err != nil {
		return errors.Wrap(err, "btree: persist meta")
	}

	if !common.SuppressWALReset.Load() {
		if err := e.wal.Reset(); err != nil {
			return errors.Wrap(err, "btree: reset wal")
		}
	}
	return nil
}

// Sync fsyncs the page file. Every Put already fsyncs both the WAL and
// the page file before returning; this mainly exists to satisfy
// common.StorageEngine.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pf.Sync()
}

// Close closes the page file and WAL.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.pf.Sync(); err != nil {
		return err
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	if err := e.pf.Close(); err != nil {
		return err
	}
	e.logger.Info().Str("dataDir", e.dataDir).Msg("btree: engine closed")
	return nil
}

// Stats returns a snapshot of engine statistics. NumKeys requires a full
// tree walk and so is relatively expensive; it's intended for
// diagnostics, not a hot path.
func (e *Engine) Stats() common.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	numKeys, logicalBytes, err := e.countKeys(e.meta.RootPageID)
	if err != nil {
		e.logger.Warn().Err(err).Msg("btree: stats key count failed")
	}

	var diskSize int64
	if fi, err := os.Stat(filepath.Join(e.dataDir, "btree.data")); err == nil {
		diskSize = fi.Size()
	}

	var writeAmp, spaceAmp float64
	if e.userBytes > 0 {
		writeAmp = float64(e.diskBytes) / float64(e.userBytes)
	}
	if logicalBytes > 0 {
		spaceAmp = float64(diskSize) / float64(logicalBytes)
	}

	return common.Stats{
		NumKeys:       int64(numKeys),
		NumSegments:   int(e.meta.NextPageID),
		TotalDiskSize: diskSize,
		WriteCount:    e.writeCount,
		ReadCount:     e.readCount,
		SplitCount:    e.splitCount,
		WriteAmp:      writeAmp,
		SpaceAmp:      spaceAmp,
	}
}

// countKeys walks the tree rooted at id, returning the number of keys and
// their total key+value bytes (the logical data size SpaceAmp is measured
// against).
func (e *Engine) countKeys(id uint32) (numKeys int, logicalBytes int64, err error) {
	raw, err := e.pf.ReadPage(id)
	if err != nil {
		return 0, 0, err
	}
	page, err := Decode(id, raw)
	if err != nil {
		return 0, 0, err
	}
	if page.Leaf {
		for _, k := range page.Keys {
			logicalBytes += int64(len(k))
		}
		for _, v := range page.Values {
			logicalBytes += int64(len(v))
		}
		return len(page.Keys), logicalBytes, nil
	}
	total := 0
	for _, child := range page.Children {
		n, bytes, err := e.countKeys(child)
		if err != nil {
			return 0, 0, err
		}
		total += n
		logicalBytes += bytes
	}
	return total, logicalBytes, nil
}
