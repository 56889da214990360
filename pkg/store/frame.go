// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/sample"
)

// castagnoliTable is the CRC-32C (Castagnoli) polynomial the frame header
// uses (spec §6's "crc32c"); stdlib hash/crc32 ships the table, klauspost's
// contribution here is the zstd codec, not the checksum.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// encoderPool amortizes zstd encoder setup cost across the many small
// frames a writer emits per shard.
var encoderPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var decoderPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

// EncodeSampleFrame serializes s and wraps it in a payload frame. When dict
// is non-nil the body is zstd-compressed against it and FlagDictCarryover is
// set (spec §4.6: a shard's first frame carries a dictionary trained on a
// preceding window, later frames reuse it rather than re-embedding it).
func EncodeSampleFrame(s *sample.Sample, dict []byte) []byte {
	body := encodeSample(s)

	var flags uint8
	if dict != nil {
		if compressed, err := compressWithDict(body, dict); err == nil && len(compressed) < len(body) {
			body = compressed
			flags |= FlagCompressed | FlagDictCarryover
		}
	}

	crc := crc32.Checksum(body, castagnoliTable)
	return encodeFrame(flags, body, crc)
}

// DecodeSampleFrame validates and decompresses buf, returning the decoded
// sample. Corruption (bad magic, length mismatch, checksum mismatch, or a
// malformed TLV body) returns belowerrors.ErrStoreCorrupt. dict must be the
// same dictionary the frame's shard was compressed against, if
// FlagDictCarryover is set.
func DecodeSampleFrame(buf []byte, dict []byte) (*sample.Sample, error) {
	f, err := decodeFrame(buf)
	if err != nil {
		return nil, err
	}
	if crc32.Checksum(f.Body, castagnoliTable) != f.CRC32C {
		return nil, belowerrors.ErrStoreCorrupt
	}

	body := f.Body
	if f.Flags&FlagCompressed != 0 {
		decoded, err := decompressWithDict(body, dict)
		if err != nil {
			return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
		}
		body = decoded
	}

	return decodeSample(body)
}

// validatePayloadFrame checks magic, declared length, and checksum without
// decompressing or decoding the body. Used by crash recovery, which only
// needs to know whether a frame's bytes are intact.
func validatePayloadFrame(buf []byte) error {
	f, err := decodeFrame(buf)
	if err != nil {
		return err
	}
	if crc32.Checksum(f.Body, castagnoliTable) != f.CRC32C {
		return belowerrors.ErrStoreCorrupt
	}
	return nil
}

func compressWithDict(body, dict []byte) ([]byte, error) {
	if len(dict) == 0 {
		enc := encoderPool.Get().(*zstd.Encoder)
		defer encoderPool.Put(enc)
		return enc.EncodeAll(body, nil), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderDict(dict))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(body, nil), nil
}

func decompressWithDict(body, dict []byte) ([]byte, error) {
	if len(dict) == 0 {
		dec := decoderPool.Get().(*zstd.Decoder)
		defer decoderPool.Put(dec)
		return dec.DecodeAll(body, nil)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderDicts(dict))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(body, nil)
}
