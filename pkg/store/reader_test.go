// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func writeSamples(t *testing.T, dir string, timestamps ...int64) {
	t.Helper()
	w, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	for _, ts := range timestamps {
		require.NoError(t, w.Write(sampleAt(ts)))
	}
	require.NoError(t, w.Close())
}

func TestCursor_NextWalksInOrder(t *testing.T) {
	dir := t.TempDir()
	writeSamples(t, dir, 100, 101, 102)

	c, err := OpenCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	var got []int64
	for {
		ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		ts, ok := c.Timestamp()
		require.True(t, ok)
		got = append(got, ts)
	}
	require.Equal(t, []int64{100, 101, 102}, got)
}

func TestCursor_SeekToFindsSmallestGreaterOrEqual(t *testing.T) {
	dir := t.TempDir()
	writeSamples(t, dir, 100, 200, 300)

	c, err := OpenCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.SeekTo(150)
	require.NoError(t, err)
	require.True(t, ok)
	ts, _ := c.Timestamp()
	require.Equal(t, int64(200), ts)
}

func TestCursor_SeekPastEndReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	writeSamples(t, dir, 100, 200)

	c, err := OpenCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.SeekTo(1_000_000)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursor_ReadRoundTripsAcrossDictCarryover(t *testing.T) {
	dir := t.TempDir()
	writeSamples(t, dir, 100, 101, 102)

	c, err := OpenCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	for _, want := range []int64{100, 101, 102} {
		ok, err := c.Next()
		require.NoError(t, err)
		require.True(t, ok)
		s, err := c.Read()
		require.NoError(t, err)
		require.Equal(t, want, s.Timestamp)
	}
}

func TestCursor_SeekIntoMiddleOfShardStillDecodesDictCarryover(t *testing.T) {
	dir := t.TempDir()
	writeSamples(t, dir, 100, 101, 102)

	c, err := OpenCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.SeekTo(102)
	require.NoError(t, err)
	require.True(t, ok)
	s, err := c.Read()
	require.NoError(t, err)
	require.Equal(t, int64(102), s.Timestamp)
}

func TestCursor_CrashRecoveryThenReadYieldsSurvivingEntries(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	require.NoError(t, w.Write(sampleAt(100)))
	require.NoError(t, w.Write(sampleAt(101)))
	require.NoError(t, w.Write(sampleAt(102)))
	require.NoError(t, w.Close())

	// Simulate the crash described in spec §8 scenario 4: truncate data_100
	// so the third entry's payload is incomplete, then recover.
	shardID := floorShard(100, DefaultShardSeconds)
	dataPath := filepath.Join(dir, "data_"+strconv.FormatInt(shardID, 10))
	info, err := os.Stat(dataPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(dataPath, info.Size()-3))

	require.NoError(t, recoverDir(logr.Discard(), dir))

	c, err := OpenCursor(dir)
	require.NoError(t, err)
	defer c.Close()

	var got []int64
	for {
		ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		ts, _ := c.Timestamp()
		got = append(got, ts)
	}
	require.Equal(t, []int64{100, 101}, got)
}
