// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bpfexit

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/antimetal/below/pkg/sample"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func encodeRaw(t *testing.T, raw rawExitEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, raw))
	return buf.Bytes()
}

func TestDecodeExitEvent_RoundTrips(t *testing.T) {
	raw := rawExitEvent{
		Tid:          4242,
		UtimeUs:      100,
		StimeUs:      200,
		NrThreads:    3,
		IOReadBytes:  10,
		IOWriteBytes: 20,
	}
	copy(raw.Comm[:], "myproc")

	event, ok := decodeExitEvent(encodeRaw(t, raw))
	require.True(t, ok)
	require.Equal(t, int32(4242), event.Pid)
	require.Equal(t, uint64(100), event.UtimeUs)
	require.Equal(t, uint64(3), event.NrThreads)
}

func TestDecodeExitEvent_TooShortIsRejected(t *testing.T) {
	_, ok := decodeExitEvent([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestShouldSurface_DedupsWithinWindow(t *testing.T) {
	ing := New(logr.Discard(), "", 16)

	e := mustExitInfo(42, 1000)
	require.True(t, ing.shouldSurface(e))
	require.False(t, ing.shouldSurface(e), "duplicate within the dedup window must be suppressed")
}

func TestShouldSurface_DifferentStartIsNotDeduped(t *testing.T) {
	ing := New(logr.Discard(), "", 16)

	require.True(t, ing.shouldSurface(mustExitInfo(42, 1000)))
	require.True(t, ing.shouldSurface(mustExitInfo(42, 2000)), "a different start time is a different process instance")
}

func TestShouldSurface_PrunesExpiredEntries(t *testing.T) {
	ing := New(logr.Discard(), "", 16)
	key := dedupKey{pid: 7, startNs: 5}
	ing.seen[key] = time.Now().Add(-2 * dedupWindow)

	require.True(t, ing.shouldSurface(mustExitInfo(1, 0)))
	require.NotContains(t, ing.seen, key)
}

func mustExitInfo(pid int32, startNs uint64) sample.ExitInfo {
	return sample.ExitInfo{Pid: pid, EtimeUs: startNs}
}
