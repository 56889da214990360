// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package advance implements the bidirectional replay/live cursor (spec
// §4.7): a ModelStream wraps a store.Cursor, keeps the previously-read
// sample, and hands consecutive pairs to the differ. It is the single entry
// point both a live viewer and a historical replay consumer drive.
package advance

import (
	"github.com/antimetal/below/pkg/model"
	"github.com/antimetal/below/pkg/sample"
	"github.com/antimetal/below/pkg/store"
)

// Direction selects which way ModelStream moves the underlying cursor.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// DefaultMaxSampleGap is the largest |curr.ts - prev.ts| gap (spec §4.7)
// across which the differ is still trusted to produce rates; a larger gap
// (a BPF ring-buffer stall, a missed shard, a clock jump) falls back to a
// single-sample model instead of reporting a misleadingly averaged rate.
const DefaultMaxSampleGap = 30

// ModelStream drives a store.Cursor and yields Models. Not safe for
// concurrent use: the collector loop and any replay consumer each own one
// instance.
type ModelStream struct {
	cursor       *store.Cursor
	maxSampleGap int64
	prev         *sample.Sample
	pending      *sample.Sample // set by SeekTo, consumed by the following Advance
}

// NewModelStream wraps cursor. maxSampleGap ≤ 0 selects DefaultMaxSampleGap.
func NewModelStream(cursor *store.Cursor, maxSampleGap int64) *ModelStream {
	if maxSampleGap <= 0 {
		maxSampleGap = DefaultMaxSampleGap
	}
	return &ModelStream{cursor: cursor, maxSampleGap: maxSampleGap}
}

// Advance moves the cursor one step in direction and returns the resulting
// Model (spec §4.7). ok is false at EOF (forward) or BOF (backward), in
// which case the returned Model is nil and prev is left untouched.
func (s *ModelStream) Advance(direction Direction) (m *model.Model, ok bool, err error) {
	var justRead *sample.Sample

	if s.pending != nil {
		justRead = s.pending
		s.pending = nil
	} else {
		var moved bool
		switch direction {
		case Forward:
			moved, err = s.cursor.Next()
		case Backward:
			moved, err = s.cursor.Prev()
		}
		if err != nil {
			return nil, false, err
		}
		if !moved {
			return nil, false, nil
		}

		justRead, err = s.cursor.Read()
		if err != nil {
			return nil, false, err
		}
	}

	diffPrev, diffCurr := s.orderedPair(s.prev, justRead, direction)
	if diffPrev != nil && abs64(diffCurr.Timestamp-diffPrev.Timestamp) > s.maxSampleGap {
		diffPrev = nil
	}
	mdl := model.Diff(diffPrev, diffCurr)

	s.prev = justRead
	return mdl, true, nil
}

// SeekTo repositions the cursor at the smallest timestamp ≥ t and resets
// prev, since a seek breaks the consecutive-sample assumption the gap check
// relies on. The following Advance call (in either direction) yields a
// single-sample model for the sample SeekTo landed on; subsequent calls
// resume normal cursor movement from there.
func (s *ModelStream) SeekTo(t int64) (bool, error) {
	ok, err := s.cursor.SeekTo(t)
	if err != nil {
		return false, err
	}
	s.prev = nil
	s.pending = nil
	if !ok {
		return false, nil
	}

	landed, err := s.cursor.Read()
	if err != nil {
		return false, err
	}
	s.pending = landed
	return true, nil
}

// orderedPair returns (prev, curr) such that curr.ts ≥ prev.ts always (spec
// §4.7): moving backward means the cursor's newly-read sample is earlier in
// time than what was previously current, so the differ's pair is swapped
// before use. The *sample.Sample ModelStream retains as its new "prev" for
// the next call is always the cursor's most-recently-read sample,
// regardless of direction.
func (s *ModelStream) orderedPair(prevSample, justRead *sample.Sample, direction Direction) (prev, curr *sample.Sample) {
	if direction == Backward && prevSample != nil {
		return justRead, prevSample
	}
	return prevSample, justRead
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
