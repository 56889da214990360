// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	belowerrors "github.com/antimetal/below/pkg/errors"
)

// tlvWriter builds a length-delimited, field-tagged record: each field is
// [uvarint id][uvarint length][payload]. This is the "self-describing
// schema whose field numbering MUST be stable across versions" spec.md §6
// requires for the store's body encoding: an unrecognized id is skippable
// by a decoder written against an older schema, and a removed field's id is
// simply never re-emitted rather than reused.
type tlvWriter struct {
	buf bytes.Buffer
}

func newTLVWriter() *tlvWriter {
	return &tlvWriter{}
}

func (w *tlvWriter) field(id uint32, payload []byte) {
	var tmp [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(tmp[:], uint64(id))
	w.buf.Write(tmp[:n])
	n = binary.PutUvarint(tmp[:], uint64(len(payload)))
	w.buf.Write(tmp[:n])
	w.buf.Write(payload)
}

func (w *tlvWriter) u64(id uint32, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.field(id, b[:])
}

func (w *tlvWriter) i64(id uint32, v int64) {
	w.u64(id, uint64(v))
}

func (w *tlvWriter) u32(id uint32, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.field(id, b[:])
}

func (w *tlvWriter) f64(id uint32, v float64) {
	w.u64(id, math.Float64bits(v))
}

func (w *tlvWriter) str(id uint32, v string) {
	w.field(id, []byte(v))
}

func (w *tlvWriter) bytes(id uint32, v []byte) {
	w.field(id, v)
}

func (w *tlvWriter) nested(id uint32, n *tlvWriter) {
	w.field(id, n.buf.Bytes())
}

func (w *tlvWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// tlvMap is a parsed record: field id to every payload seen for that id, in
// encounter order (needed for repeated fields like per-cpu stats or the
// process map).
type tlvMap map[uint32][][]byte

func parseTLV(buf []byte) (tlvMap, error) {
	m := make(tlvMap)
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		id, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
		}
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, belowerrors.Join(belowerrors.ErrStoreCorrupt, err)
		}
		m[uint32(id)] = append(m[uint32(id)], payload)
	}
	return m, nil
}

func (m tlvMap) one(id uint32) []byte {
	vs := m[id]
	if len(vs) == 0 {
		return nil
	}
	return vs[len(vs)-1]
}

func (m tlvMap) all(id uint32) [][]byte {
	return m[id]
}

func (m tlvMap) u64(id uint32) uint64 {
	b := m.one(id)
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (m tlvMap) i64(id uint32) int64 {
	return int64(m.u64(id))
}

func (m tlvMap) u32(id uint32) uint32 {
	b := m.one(id)
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (m tlvMap) f64(id uint32) float64 {
	return math.Float64frombits(m.u64(id))
}

func (m tlvMap) str(id uint32) string {
	return string(m.one(id))
}
