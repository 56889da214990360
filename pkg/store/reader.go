// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/sample"
	"github.com/antimetal/below/pkg/store/catalog"
)

// shardFileInfo is one shard pair's catalog metadata, not its entries: a
// Cursor only reads index_<shard> in full (via openShard) for the shard it's
// actually positioned in, so opening a store directory with many shards
// costs one catalog rebuild, not a full parse of every index file.
type shardFileInfo struct {
	shardID        int64
	suffix         string
	firstTimestamp int64
	lastTimestamp  int64
	recordCount    int64
}

// openCatalog rebuilds an in-memory catalog.Catalog (pkg/store/catalog) over
// dir's index_* files and lists its shards in firstTimestamp order (spec
// §4.6 "Reader concurrency"). The caller owns the returned catalog and must
// Close it. Readers are expected to tolerate gaps: an empty or unreadable
// shard is skipped rather than failing the whole listing.
func openCatalog(dir string) (*catalog.Catalog, []shardFileInfo, error) {
	cat, err := catalog.Open()
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.Rebuild(cat, dir); err != nil {
		cat.Close()
		return nil, nil, err
	}
	metas, err := cat.List()
	if err != nil {
		cat.Close()
		return nil, nil, err
	}

	shards := make([]shardFileInfo, 0, len(metas))
	for _, m := range metas {
		shards = append(shards, shardFileInfo{
			shardID:        m.ShardID,
			suffix:         m.Suffix,
			firstTimestamp: m.MinTimestamp,
			lastTimestamp:  m.MaxTimestamp,
			recordCount:    m.RecordCount,
		})
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].firstTimestamp < shards[j].firstTimestamp })
	return cat, shards, nil
}

// decodeIndexEntries parses a whole index_<shard> file's contents.
func decodeIndexEntries(idxBytes []byte) []IndexEntry {
	n := len(idxBytes) / indexEntrySize
	entries := make([]IndexEntry, 0, n)
	for i := 0; i < n; i++ {
		entry, err := DecodeIndexEntry(idxBytes[i*indexEntrySize : (i+1)*indexEntrySize])
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries
}

// Cursor reads samples back out of a store directory in timestamp order,
// crossing shard boundaries transparently (spec §4.6).
type Cursor struct {
	dir    string
	cat    *catalog.Catalog
	shards []shardFileInfo

	shardIdx int
	entryIdx int
	entries  []IndexEntry // the currently open shard's entries, loaded lazily by openShard

	dataFile *os.File
	dict     []byte
}

// OpenCursor opens dir for reading. The returned cursor is positioned
// before the first entry; call Next or SeekTo before Read.
func OpenCursor(dir string) (*Cursor, error) {
	cat, shards, err := openCatalog(dir)
	if err != nil {
		return nil, err
	}
	return &Cursor{dir: dir, cat: cat, shards: shards, shardIdx: -1, entryIdx: -1}, nil
}

func (c *Cursor) Close() error {
	var err error
	if c.dataFile != nil {
		err = c.dataFile.Close()
		c.dataFile = nil
	}
	if c.cat != nil {
		if closeErr := c.cat.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		c.cat = nil
	}
	return err
}

// SeekTo positions the cursor at the smallest entry with timestamp ≥ t. It
// uses catalog.ShardsCovering to pick the one shard that can contain t
// without re-reading every shard's index file, then opens just that shard's
// index file to binary-search within it (spec §4.6). Returns false if no
// such entry exists (t is past the end of the store).
func (c *Cursor) SeekTo(t int64) (bool, error) {
	candidates, err := c.cat.ShardsCovering(t)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		c.shardIdx = len(c.shards)
		c.entryIdx = -1
		return false, nil
	}
	shardIdx := len(c.shards) - len(candidates)

	if err := c.openShard(shardIdx); err != nil {
		return false, err
	}

	entryIdx := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].Timestamp >= t
	})
	if entryIdx == len(c.entries) {
		// t fell after this shard's last entry but before the next shard's
		// first (only possible if lastTimestamp comparison above was loose);
		// advance to the next shard's first entry instead.
		shardIdx++
		if shardIdx == len(c.shards) {
			c.shardIdx = len(c.shards)
			c.entryIdx = -1
			return false, nil
		}
		if err := c.openShard(shardIdx); err != nil {
			return false, err
		}
		entryIdx = 0
	}

	c.entryIdx = entryIdx
	return true, nil
}

// Next advances to the next entry, opening the adjacent shard file if the
// current one is exhausted. Returns false at EOF.
func (c *Cursor) Next() (bool, error) {
	if c.shardIdx < 0 {
		if len(c.shards) == 0 {
			return false, nil
		}
		if err := c.openShard(0); err != nil {
			return false, err
		}
		c.entryIdx = 0
		return true, nil
	}

	if c.entryIdx+1 < len(c.entries) {
		c.entryIdx++
		return true, nil
	}

	if c.shardIdx+1 >= len(c.shards) {
		c.entryIdx = len(c.entries)
		return false, nil
	}
	if err := c.openShard(c.shardIdx + 1); err != nil {
		return false, err
	}
	c.entryIdx = 0
	return true, nil
}

// Prev moves to the previous entry, opening the adjacent earlier shard file
// if the current one is exhausted. Returns false before the first entry.
func (c *Cursor) Prev() (bool, error) {
	if c.shardIdx < 0 {
		return false, nil
	}
	if c.entryIdx-1 >= 0 {
		c.entryIdx--
		return true, nil
	}
	if c.shardIdx-1 < 0 {
		c.entryIdx = -1
		return false, nil
	}
	if err := c.openShard(c.shardIdx - 1); err != nil {
		return false, err
	}
	c.entryIdx = len(c.entries) - 1
	return true, nil
}

func (c *Cursor) openShard(idx int) error {
	if c.shardIdx == idx && c.dataFile != nil {
		return nil
	}
	if c.dataFile != nil {
		c.dataFile.Close()
		c.dataFile = nil
	}

	sf := c.shards[idx]
	indexBase := "index_" + strconv.FormatInt(sf.shardID, 10) + sf.suffix
	idxBytes, err := os.ReadFile(filepath.Join(c.dir, indexBase))
	if err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	dataBase := "data_" + strconv.FormatInt(sf.shardID, 10) + sf.suffix
	f, err := os.Open(filepath.Join(c.dir, dataBase))
	if err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	c.shardIdx = idx
	c.entries = decodeIndexEntries(idxBytes)
	c.dataFile = f
	c.dict = nil
	return nil
}

// Read decodes the sample at the cursor's current position.
func (c *Cursor) Read() (*sample.Sample, error) {
	if c.shardIdx < 0 || c.shardIdx >= len(c.shards) {
		return nil, belowerrors.ErrNotFound
	}
	if c.entryIdx < 0 || c.entryIdx >= len(c.entries) {
		return nil, belowerrors.ErrNotFound
	}
	entry := c.entries[c.entryIdx]

	info, err := c.dataFile.Stat()
	if err != nil {
		return nil, err
	}
	if int64(entry.Offset)+int64(entry.Length) > info.Size() {
		return nil, belowerrors.ErrStoreCorrupt
	}

	buf := make([]byte, entry.Length)
	if _, err := c.dataFile.ReadAt(buf, int64(entry.Offset)); err != nil {
		return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	needsDict := entry.Flags&uint32(FlagDictCarryover) != 0
	if needsDict && c.dict == nil {
		if err := c.loadShardDict(); err != nil {
			return nil, err
		}
	}
	dict := c.dict
	if !needsDict {
		dict = nil
	}

	s, err := DecodeSampleFrame(buf, dict)
	if err != nil {
		return nil, err
	}
	if !needsDict && c.dict == nil {
		c.dict = encodeSample(s)
	}
	return s, nil
}

// loadShardDict reads and decodes the current shard's first entry, which by
// construction is the uncompressed seed every later dict-carryover entry in
// the shard was compressed against (spec §4.6, writer.go Write). This lets a
// cursor that SeekTo's into the middle of a shard still decode correctly
// without having walked every preceding entry.
func (c *Cursor) loadShardDict() error {
	if len(c.entries) == 0 {
		return belowerrors.ErrStoreCorrupt
	}
	first := c.entries[0]
	buf := make([]byte, first.Length)
	if _, err := c.dataFile.ReadAt(buf, int64(first.Offset)); err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	s, err := DecodeSampleFrame(buf, nil)
	if err != nil {
		return err
	}
	c.dict = encodeSample(s)
	return nil
}

// Timestamp returns the timestamp of the entry at the cursor's current
// position without decoding the payload.
func (c *Cursor) Timestamp() (int64, bool) {
	if c.shardIdx < 0 || c.shardIdx >= len(c.shards) {
		return 0, false
	}
	if c.entryIdx < 0 || c.entryIdx >= len(c.entries) {
		return 0, false
	}
	return c.entries[c.entryIdx].Timestamp, true
}
