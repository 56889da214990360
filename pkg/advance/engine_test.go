// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package advance

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/below/pkg/sample"
	"github.com/antimetal/below/pkg/store"
)

func writeTestSamples(t *testing.T, dir string, samples ...*sample.Sample) {
	t.Helper()
	w, err := store.NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	for _, s := range samples {
		require.NoError(t, w.Write(s))
	}
	require.NoError(t, w.Close())
}

func cpuSample(ts int64, userTicks uint64) *sample.Sample {
	return &sample.Sample{
		Timestamp: ts,
		System: sample.SystemStats{
			CPUTotal:          sample.CPUStat{User: userTicks, Idle: 1_000_000},
			BootTimeEpochSecs: 1,
		},
	}
}

// TestAdvanceForwardAndReverse implements the resurrected acceptance test
// spec §9's Open Question decided in favor of keeping: walking a three-
// sample store forward then backward must produce symmetric rates for the
// same pair of samples regardless of direction of travel.
func TestAdvanceForwardAndReverse(t *testing.T) {
	dir := t.TempDir()
	writeTestSamples(t, dir,
		cpuSample(100, 100),
		cpuSample(101, 150),
		cpuSample(102, 200),
	)

	cursor, err := store.OpenCursor(dir)
	require.NoError(t, err)
	defer cursor.Close()

	stream := NewModelStream(cursor, 0)

	m1, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), m1.Timestamp)
	require.Nil(t, m1.System.CPUTotal.UserPct, "first tick has no prior sample to diff against")

	m2, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(101), m2.Timestamp)
	require.NotNil(t, m2.System.CPUTotal.UserPct)
	require.InDelta(t, 50.0, *m2.System.CPUTotal.UserPct, 0.001)

	m3, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(102), m3.Timestamp)
	require.NotNil(t, m3.System.CPUTotal.UserPct)
	require.InDelta(t, 50.0, *m3.System.CPUTotal.UserPct, 0.001)

	// Now walk backward across the same (101, 102) boundary; the rate must
	// come out identical to forward traversal of that same pair.
	mBack, ok, err := stream.Advance(Backward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(102), mBack.Timestamp)
	require.NotNil(t, mBack.System.CPUTotal.UserPct)
	require.InDelta(t, 50.0, *mBack.System.CPUTotal.UserPct, 0.001)
}

func TestAdvance_ForwardPastLastSampleHitsEOF(t *testing.T) {
	dir := t.TempDir()
	writeTestSamples(t, dir, cpuSample(100, 1_000_000))

	cursor, err := store.OpenCursor(dir)
	require.NoError(t, err)
	defer cursor.Close()

	stream := NewModelStream(cursor, 0)

	_, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = stream.Advance(Forward)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdvance_GapLargerThanMaxSampleGapYieldsSingleSampleModel(t *testing.T) {
	dir := t.TempDir()
	writeTestSamples(t, dir,
		cpuSample(100, 1_000_000),
		cpuSample(200, 2_000_000), // 100s gap, larger than the 30s default
	)

	cursor, err := store.OpenCursor(dir)
	require.NoError(t, err)
	defer cursor.Close()

	stream := NewModelStream(cursor, 0)

	_, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)

	m2, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, m2.System.CPUTotal.UserPct, "a gap past max_sample_gap must fall back to a single-sample model")
}

func TestModelStream_SeekToResetsPrev(t *testing.T) {
	dir := t.TempDir()
	writeTestSamples(t, dir,
		cpuSample(100, 1_000_000),
		cpuSample(101, 1_500_000),
	)

	cursor, err := store.OpenCursor(dir)
	require.NoError(t, err)
	defer cursor.Close()

	stream := NewModelStream(cursor, 0)
	_, _, err = stream.Advance(Forward)
	require.NoError(t, err)

	ok, err := stream.SeekTo(101)
	require.NoError(t, err)
	require.True(t, ok)

	m, ok, err := stream.Advance(Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, m.System.CPUTotal.UserPct, "a seek must not let a stale prev leak into the next diff")
}
