// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"testing"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSampleFrame_RoundTripsUncompressed(t *testing.T) {
	s := fullTestSample()
	buf := EncodeSampleFrame(s, nil)

	got, err := DecodeSampleFrame(buf, nil)
	require.NoError(t, err)
	require.Equal(t, s.Timestamp, got.Timestamp)
}

func TestEncodeDecodeSampleFrame_RoundTripsWithDictionary(t *testing.T) {
	s := fullTestSample()
	dict := encodeSample(s) // any byte string works as a trivial dictionary seed

	buf := EncodeSampleFrame(s, dict)
	entry, err := decodeFrame(buf)
	require.NoError(t, err)
	require.NotZero(t, entry.Flags&FlagDictCarryover)

	got, err := DecodeSampleFrame(buf, dict)
	require.NoError(t, err)
	require.Equal(t, s.Timestamp, got.Timestamp)
}

func TestDecodeSampleFrame_CorruptChecksumIsRejected(t *testing.T) {
	s := fullTestSample()
	buf := EncodeSampleFrame(s, nil)
	buf[len(buf)-1] ^= 0xFF

	_, err := DecodeSampleFrame(buf, nil)
	require.ErrorIs(t, err, belowerrors.ErrStoreCorrupt)
}

func TestDecodeSampleFrame_TruncatedIsRejected(t *testing.T) {
	s := fullTestSample()
	buf := EncodeSampleFrame(s, nil)

	_, err := DecodeSampleFrame(buf[:len(buf)-5], nil)
	require.ErrorIs(t, err, belowerrors.ErrStoreCorrupt)
}
