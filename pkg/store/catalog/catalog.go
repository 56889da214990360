// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package catalog is an embedded-KV index over a store directory's shards:
// for each shard it tracks the min/max timestamp, record count, the byte
// offset of the shard's dictionary frame, and a Corrupt flag (which Rebuild
// and the writer never set). It exists so the advance engine's seek_to can
// pick the shard that covers a timestamp from that metadata instead of
// decoding every index_* file's entries; Rebuild still reads each index_*
// file once per open to derive it.
//
// The catalog never holds sample payloads; it is purely additive metadata
// derived from the index/data files, which remain the source of truth (spec
// §4.5, §4.6). Grounded on the teacher's pkg/resource/store/store.go, which
// uses badger the same way: one DB, one value per key, read-modify-write
// inside txn.Update.
package catalog

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	belowerrors "github.com/antimetal/below/pkg/errors"
)

// ShardMeta is one shard's catalog record.
type ShardMeta struct {
	ShardID       int64  `json:"shard_id"`
	Suffix        string `json:"suffix"` // "" or ".bkN"
	MinTimestamp  int64  `json:"min_timestamp"`
	MaxTimestamp  int64  `json:"max_timestamp"`
	RecordCount   int64  `json:"record_count"`
	DictOffset    uint64 `json:"dict_offset"`
	HasDict       bool   `json:"has_dict"`
	Corrupt       bool   `json:"corrupt"`
}

var shardPrefix = []byte("shard/")

// Catalog wraps an in-memory badger instance (spec-additive, not part of
// the persisted store format) mapping shard key to ShardMeta.
type Catalog struct {
	mu sync.Mutex
	db *badger.DB
}

// Open returns an in-memory catalog. The catalog is rebuilt from the store
// directory on every process start (see Rebuild in rebuild.go); it is never
// itself persisted to disk, so dir is not passed here.
func Open() (*Catalog, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func shardKey(shardID int64, suffix string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(shardID))
	key := append([]byte{}, shardPrefix...)
	key = append(key, buf[:]...)
	key = append(key, []byte(suffix)...)
	return key
}

// Put inserts or replaces a shard's metadata.
func (c *Catalog) Put(m ShardMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(shardKey(m.ShardID, m.Suffix), val)
	})
}

// Get looks up a shard's metadata. ok is false if no such shard is cataloged.
func (c *Catalog) Get(shardID int64, suffix string) (m ShardMeta, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shardKey(shardID, suffix))
		if belowerrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	return m, ok, err
}

// Delete removes a shard's metadata, e.g. after it has been pruned.
func (c *Catalog) Delete(shardID int64, suffix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(shardKey(shardID, suffix))
		if belowerrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// List returns every cataloged shard, ordered by MinTimestamp.
func (c *Catalog) List() ([]ShardMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ShardMeta
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(shardPrefix); it.ValidForPrefix(shardPrefix); it.Next() {
			var m ShardMeta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinTimestamp < out[j].MinTimestamp })
	return out, nil
}

// ShardsCovering returns the cataloged shards whose [MinTimestamp,
// MaxTimestamp] range could contain t, plus every shard after it — the
// candidate set seek_to needs without re-scanning files that start later
// than t.
func (c *Catalog) ShardsCovering(t int64) ([]ShardMeta, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(all), func(i int) bool { return all[i].MaxTimestamp >= t })
	return all[idx:], nil
}
