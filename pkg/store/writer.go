// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/sample"
	"github.com/antimetal/below/pkg/store/catalog"
)

// DefaultShardSeconds is the default shard width: one day (spec §4.5).
const DefaultShardSeconds int64 = 86_400

// DefaultFsyncEvery is the default number of writes between fsyncs (spec
// §9's design-notes durability/throughput tradeoff).
const DefaultFsyncEvery = 5

// Writer is the append-only store writer (spec §4.5, §4.6). One Writer owns
// one store directory and is not safe for concurrent Write calls; the
// collector loop is single-threaded (spec §5) so this matches its caller.
type Writer struct {
	dir          string
	shardSeconds int64
	fsyncEvery   int
	logger       logr.Logger

	catalog *catalog.Catalog

	mu                  sync.Mutex
	shardID             int64
	shardSuffix         string
	shardFirstTimestamp int64
	shardRecordCount    int64
	shardDictOffset     uint64
	dataFile            *os.File
	indexFile           *os.File
	dataOffset          uint64
	writesSinceFsync    int
	lastTimestamp       int64
	haveLast            bool
	dict                []byte
	bkCounters          map[int64]int
}

// NewWriter opens (creating if absent) dir as a store directory, running
// crash recovery over every shard pair found there (spec §4.5 "Crash
// recovery"). shardSeconds ≤ 0 selects DefaultShardSeconds; fsyncEvery ≤ 0
// selects DefaultFsyncEvery.
func NewWriter(logger logr.Logger, dir string, shardSeconds int64, fsyncEvery int) (*Writer, error) {
	if shardSeconds <= 0 {
		shardSeconds = DefaultShardSeconds
	}
	if fsyncEvery <= 0 {
		fsyncEvery = DefaultFsyncEvery
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	w := &Writer{
		dir:          dir,
		shardSeconds: shardSeconds,
		fsyncEvery:   fsyncEvery,
		logger:       logger,
		bkCounters:   make(map[int64]int),
	}

	if err := recoverDir(logger, dir); err != nil {
		return nil, err
	}

	cat, shards, err := openCatalog(dir)
	if err != nil {
		return nil, err
	}
	w.catalog = cat
	logger.Info("store catalog rebuilt", "dir", dir, "shards", len(shards))

	return w, nil
}

func floorShard(timestamp, shardSeconds int64) int64 {
	return (timestamp / shardSeconds) * shardSeconds
}

func shardFileNames(dir string, shardID int64, suffix string) (dataPath, indexPath string) {
	base := fmt.Sprintf("%d%s", shardID, suffix)
	return filepath.Join(dir, "data_"+base), filepath.Join(dir, "index_"+base)
}

// Write appends s to the shard covering its timestamp, rotating shards on a
// day boundary or a backward clock jump (spec §4.5). The first sample
// written into a fresh shard becomes that shard's dictionary seed; later
// samples in the same shard compress against it and carry
// FlagDictCarryover.
func (w *Writer) Write(s *sample.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	shardID := floorShard(s.Timestamp, w.shardSeconds)
	backwardJump := w.haveLast && s.Timestamp < w.lastTimestamp

	if w.dataFile == nil || shardID != w.shardID || backwardJump {
		if err := w.rotate(shardID, backwardJump); err != nil {
			return err
		}
	}

	frame := EncodeSampleFrame(s, w.dict)
	f, err := decodeFrame(frame)
	if err != nil {
		return err // unreachable: we just encoded it
	}

	n, err := w.dataFile.Write(frame)
	if err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	entryBytes := EncodeIndexEntry(IndexEntry{
		Timestamp: s.Timestamp,
		Offset:    w.dataOffset,
		Length:    uint32(len(frame)),
		Flags:     uint32(f.Flags),
	})
	if _, err := w.indexFile.Write(entryBytes[:]); err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	if w.dict == nil {
		w.dict = encodeSample(s)
		w.shardFirstTimestamp = s.Timestamp
		w.shardDictOffset = w.dataOffset
	}
	w.dataOffset += uint64(n)
	w.lastTimestamp = s.Timestamp
	w.haveLast = true
	w.shardRecordCount++

	w.writesSinceFsync++
	if w.writesSinceFsync >= w.fsyncEvery {
		if err := w.syncLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) rotate(shardID int64, backwardJump bool) error {
	if w.dataFile != nil {
		if err := w.syncLocked(); err != nil {
			return err
		}
		w.putShardMeta()
		w.dataFile.Close()
		w.indexFile.Close()
	}

	suffix := ""
	if backwardJump {
		w.bkCounters[shardID]++
		suffix = fmt.Sprintf(".bk%d", w.bkCounters[shardID])
		w.logger.Info("clock moved backward, rotating to backup shard", "shard", shardID, "suffix", suffix)
	}

	dataPath, indexPath := shardFileNames(w.dir, shardID, suffix)
	dataFile, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	indexFile, err := os.OpenFile(indexPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		dataFile.Close()
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	info, err := dataFile.Stat()
	if err != nil {
		dataFile.Close()
		indexFile.Close()
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	w.shardID = shardID
	w.shardSuffix = suffix
	w.dataFile = dataFile
	w.indexFile = indexFile
	w.dataOffset = uint64(info.Size())
	w.writesSinceFsync = 0

	w.dict = nil
	w.shardFirstTimestamp = 0
	w.shardRecordCount = 0
	w.shardDictOffset = 0
	if info.Size() > 0 {
		dict, firstTimestamp, dictOffset, recordCount, err := loadExistingShardDict(dataFile, indexPath)
		if err != nil {
			dataFile.Close()
			indexFile.Close()
			return err
		}
		w.dict = dict
		w.shardFirstTimestamp = firstTimestamp
		w.shardDictOffset = dictOffset
		w.shardRecordCount = recordCount
	}
	return nil
}

// loadExistingShardDict re-derives a reopened shard's dict-carryover seed
// from its first on-disk frame, mirroring reader.go's loadShardDict, and
// returns the bookkeeping rotate needs to keep the shard catalog (spec-
// additive, pkg/store/catalog) accurate across the reopen. This matters
// when rotate continues an existing non-empty shard rather than starting a
// fresh one (a writer restart or a Degraded->healthy reopen mid-day, spec
// §4.8/§7): without it, w.dict would reseed from the next sample written
// this session instead of entries[0], and any frame written with
// FlagDictCarryover against that wrong seed would be undecodable.
func loadExistingShardDict(dataFile *os.File, indexPath string) (dict []byte, firstTimestamp int64, dictOffset uint64, recordCount int64, err error) {
	idxBytes, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, 0, 0, 0, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	if len(idxBytes) < indexEntrySize {
		return nil, 0, 0, 0, belowerrors.ErrStoreCorrupt
	}
	first, err := DecodeIndexEntry(idxBytes[:indexEntrySize])
	if err != nil {
		return nil, 0, 0, 0, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}

	buf := make([]byte, first.Length)
	if _, err := dataFile.ReadAt(buf, int64(first.Offset)); err != nil {
		return nil, 0, 0, 0, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	s, err := DecodeSampleFrame(buf, nil)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return encodeSample(s), first.Timestamp, first.Offset, int64(len(idxBytes) / indexEntrySize), nil
}

// putShardMeta records the currently open shard's catalog entry (spec-
// additive bookkeeping, pkg/store/catalog): min/max timestamp, record
// count, and the dict-seed frame's offset. Called before a shard is
// rotated away from and from Close, so the catalog a later NewWriter or
// OpenCursor rebuilds from disk matches what Rebuild would have derived
// directly from the index file, just without re-reading it. A failure here
// never fails the write path: the catalog is an accelerator over the
// index/data files, which remain the source of truth.
func (w *Writer) putShardMeta() {
	if w.catalog == nil || w.dataFile == nil {
		return
	}
	err := w.catalog.Put(catalog.ShardMeta{
		ShardID:      w.shardID,
		Suffix:       w.shardSuffix,
		MinTimestamp: w.shardFirstTimestamp,
		MaxTimestamp: w.lastTimestamp,
		RecordCount:  w.shardRecordCount,
		DictOffset:   w.shardDictOffset,
		HasDict:      w.dict != nil,
	})
	if err != nil {
		w.logger.Error(err, "failed to update shard catalog", "shard", w.shardID)
	}
}

func (w *Writer) syncLocked() error {
	if w.dataFile == nil {
		return nil
	}
	if err := w.dataFile.Sync(); err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	if err := w.indexFile.Sync(); err != nil {
		return belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
	}
	w.writesSinceFsync = 0
	return nil
}

// Sync forces an fsync of the currently open shard pair. Called by the
// collector loop's SIGTERM/SIGINT handler before it releases the PID file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// Close flushes and closes the currently open shard pair.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.dataFile != nil {
		err = w.syncLocked()
		w.putShardMeta()
		w.dataFile.Close()
		w.indexFile.Close()
		w.dataFile = nil
		w.indexFile = nil
	}
	if w.catalog != nil {
		if closeErr := w.catalog.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		w.catalog = nil
	}
	return err
}
