// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/below/pkg/sample"
)

func sampleAt(ts int64) *sample.Sample {
	return &sample.Sample{Timestamp: ts, System: sample.SystemStats{Hostname: "h"}}
}

func TestWriter_WritesAndFsyncsOnInterval(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logr.Discard(), dir, 0, 2)
	require.NoError(t, err)

	require.NoError(t, w.Write(sampleAt(100)))
	require.NoError(t, w.Write(sampleAt(101)))
	require.NoError(t, w.Close())

	shardID := floorShard(100, DefaultShardSeconds)
	indexPath, dataPath := filepath.Join(dir, indexName(shardID, "")), filepath.Join(dir, dataName(shardID, ""))
	indexBytes, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	require.Len(t, indexBytes, 2*indexEntrySize)

	dataBytes, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	require.NotEmpty(t, dataBytes)
}

func TestWriter_BackwardClockJumpRotatesToBackupShard(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)

	require.NoError(t, w.Write(sampleAt(1000)))
	require.NoError(t, w.Write(sampleAt(500))) // backward jump within the same nominal shard
	require.NoError(t, w.Close())

	shardID := floorShard(1000, DefaultShardSeconds)
	_, err = os.Stat(filepath.Join(dir, indexName(shardID, ".bk1")))
	require.NoError(t, err, "expected a .bk1 backup shard for the backward jump")
}

func TestWriter_CrashRecoveryDiscardsIncompleteTrailingEntry(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)

	require.NoError(t, w.Write(sampleAt(100)))
	require.NoError(t, w.Write(sampleAt(101)))
	require.NoError(t, w.Write(sampleAt(102)))
	require.NoError(t, w.Close())

	shardID := floorShard(100, DefaultShardSeconds)
	dataPath := filepath.Join(dir, dataName(shardID, ""))

	info, err := os.Stat(dataPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(dataPath, info.Size()-3))

	require.NoError(t, recoverDir(logr.Discard(), dir))

	indexBytes, err := os.ReadFile(filepath.Join(dir, indexName(shardID, "")))
	require.NoError(t, err)
	require.Len(t, indexBytes, 2*indexEntrySize, "recovery must discard exactly the truncated trailing entry")

	w2, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	require.NoError(t, w2.Write(sampleAt(103)))
	require.NoError(t, w2.Close())

	indexBytes, err = os.ReadFile(filepath.Join(dir, indexName(shardID, "")))
	require.NoError(t, err)
	require.Len(t, indexBytes, 3*indexEntrySize)
}

func TestWriter_ReopenExistingShardPreservesDictAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	require.NoError(t, w1.Write(sampleAt(100)))
	require.NoError(t, w1.Close())

	// Simulate a process restart (or a Degraded->healthy reopen,
	// internal/collector/loop.go's reopenWriter) mid-shard: NewWriter runs
	// crash recovery and returns a fresh Writer over the same, non-empty
	// shard.
	w2, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	require.NoError(t, w2.Write(sampleAt(101)))
	require.NoError(t, w2.Write(sampleAt(102)))
	require.NoError(t, w2.Close())

	cursor, err := OpenCursor(dir)
	require.NoError(t, err)
	defer cursor.Close()

	var got []int64
	for {
		ok, err := cursor.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		s, err := cursor.Read()
		require.NoError(t, err, "frame written after a mid-shard writer restart must still decode")
		got = append(got, s.Timestamp)
	}
	require.Equal(t, []int64{100, 101, 102}, got)
}

func indexName(shardID int64, suffix string) string {
	_, p := shardFileNames("", shardID, suffix)
	return filepath.Base(p)
}

func dataName(shardID int64, suffix string) string {
	p, _ := shardFileNames("", shardID, suffix)
	return filepath.Base(p)
}
