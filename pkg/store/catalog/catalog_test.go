// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalog_PutGetRoundTrips(t *testing.T) {
	c, err := Open()
	require.NoError(t, err)
	defer c.Close()

	meta := ShardMeta{ShardID: 100, MinTimestamp: 100, MaxTimestamp: 199, RecordCount: 3}
	require.NoError(t, c.Put(meta))

	got, ok, err := c.Get(100, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, meta, got)
}

func TestCatalog_GetMissingIsNotFound(t *testing.T) {
	c, err := Open()
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(999, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCatalog_ListOrdersByMinTimestamp(t *testing.T) {
	c, err := Open()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ShardMeta{ShardID: 200, MinTimestamp: 200, MaxTimestamp: 299}))
	require.NoError(t, c.Put(ShardMeta{ShardID: 100, MinTimestamp: 100, MaxTimestamp: 199}))

	shards, err := c.List()
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.Equal(t, int64(100), shards[0].ShardID)
	require.Equal(t, int64(200), shards[1].ShardID)
}

func TestCatalog_ShardsCoveringSkipsEarlierShards(t *testing.T) {
	c, err := Open()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ShardMeta{ShardID: 100, MinTimestamp: 100, MaxTimestamp: 199}))
	require.NoError(t, c.Put(ShardMeta{ShardID: 200, MinTimestamp: 200, MaxTimestamp: 299}))

	shards, err := c.ShardsCovering(250)
	require.NoError(t, err)
	require.Len(t, shards, 1)
	require.Equal(t, int64(200), shards[0].ShardID)
}

func TestCatalog_DeleteRemovesEntry(t *testing.T) {
	c, err := Open()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ShardMeta{ShardID: 100, MinTimestamp: 100, MaxTimestamp: 199}))
	require.NoError(t, c.Delete(100, ""))

	_, ok, err := c.Get(100, "")
	require.NoError(t, err)
	require.False(t, ok)
}
