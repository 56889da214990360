// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package store implements the append-only, time-indexed local store (spec
// §4.5, §4.6, §6): two files per shard, a 24-byte big-endian index entry,
// and a "BLOW"-magic payload frame carrying a self-describing tag/length
// encoding of a sample.Sample. Grounded on the teacher's encode.go
// (pkg/resource/store/encode.go), which also hand-rolls a length-prefixed
// wire encoding in front of a serialization library, and on its crc/zstd
// use of klauspost/compress transitively through badger.
package store

import (
	"encoding/binary"

	belowerrors "github.com/antimetal/below/pkg/errors"
)

// magic identifies a payload frame: ASCII "BLOW" (spec §6).
const magic uint32 = 0x42_4C_4F_57

const currentVersion uint8 = 1

// Flags bits within a payload frame (spec §4.5).
const (
	FlagCompressed   uint8 = 1 << 0
	FlagDictCarryover uint8 = 1 << 1
)

// indexEntrySize is the fixed 24-byte big-endian index record (spec §4.5,
// §6): timestamp, offset, length, flags.
const indexEntrySize = 24

// IndexEntry is one 24-byte record in an index_<shard> file.
type IndexEntry struct {
	Timestamp int64
	Offset    uint64
	Length    uint32
	Flags     uint32
}

// EncodeIndexEntry writes e in the fixed big-endian layout.
func EncodeIndexEntry(e IndexEntry) [indexEntrySize]byte {
	var buf [indexEntrySize]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Timestamp))
	binary.BigEndian.PutUint64(buf[8:16], e.Offset)
	binary.BigEndian.PutUint32(buf[16:20], e.Length)
	binary.BigEndian.PutUint32(buf[20:24], e.Flags)
	return buf
}

// DecodeIndexEntry parses a 24-byte big-endian index record.
func DecodeIndexEntry(buf []byte) (IndexEntry, error) {
	if len(buf) != indexEntrySize {
		return IndexEntry{}, belowerrors.New("index entry must be 24 bytes")
	}
	return IndexEntry{
		Timestamp: int64(binary.BigEndian.Uint64(buf[0:8])),
		Offset:    binary.BigEndian.Uint64(buf[8:16]),
		Length:    binary.BigEndian.Uint32(buf[16:20]),
		Flags:     binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

func (e IndexEntry) Compressed() bool {
	return e.Flags&uint32(FlagCompressed) != 0
}

func (e IndexEntry) DictCarryover() bool {
	return e.Flags&uint32(FlagDictCarryover) != 0
}

// frameHeaderSize is the fixed portion of a payload frame preceding the
// variable-length body: magic(4) + version(1) + flags(1) + crc32c(4) +
// length(4) (spec §6).
const frameHeaderSize = 4 + 1 + 1 + 4 + 4

// frame is the decoded "BLOW" payload envelope, body not yet decoded into a
// sample.Sample.
type frame struct {
	Version uint8
	Flags   uint8
	CRC32C  uint32
	Body    []byte
}

func encodeFrame(flags uint8, body []byte, crc uint32) []byte {
	buf := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], magic)
	buf[4] = currentVersion
	buf[5] = flags
	binary.BigEndian.PutUint32(buf[6:10], crc)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[14:], body)
	return buf
}

// decodeFrame parses a payload frame, validating the magic and declared
// length against the buffer actually supplied.
func decodeFrame(buf []byte) (frame, error) {
	if len(buf) < frameHeaderSize {
		return frame{}, belowerrors.ErrStoreCorrupt
	}
	if binary.BigEndian.Uint32(buf[0:4]) != magic {
		return frame{}, belowerrors.ErrStoreCorrupt
	}
	f := frame{
		Version: buf[4],
		Flags:   buf[5],
		CRC32C:  binary.BigEndian.Uint32(buf[6:10]),
	}
	length := binary.BigEndian.Uint32(buf[10:14])
	if int(length) != len(buf)-frameHeaderSize {
		return frame{}, belowerrors.ErrStoreCorrupt
	}
	f.Body = buf[14:]
	return f, nil
}
