// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package errors re-exports the standard errors package plus the typed error
// kinds used across below's readers, store, and collector loop.
package errors

import (
	stdliberrors "errors"
	"fmt"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}

// Reader error kinds (spec §4.1). FileNotFound and friends are sentinels so
// callers can errors.Is against them; Parse carries the offending location.
var (
	ErrFileNotFound      = New("file not found")
	ErrUnexpectedLine    = New("unexpected line")
	ErrInvalidFileFormat = New("invalid file format")
)

// ParseError describes a malformed line in a procfs/cgroupfs file.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}

func NewParseError(file string, line int, reason string) error {
	return &ParseError{File: file, Line: line, Reason: reason}
}

// Store error kinds (spec §7).
var (
	ErrStoreCorrupt = New("store corrupt")
	ErrStoreLocked  = New("store locked")
	ErrStoreFull    = New("store full")
)

// BPF error kinds (spec §7).
var (
	ErrBPFLoadFailed   = New("bpf load failed")
	ErrBPFRingOverflow = New("bpf ring overflow")
)

// Misc error kinds (spec §7).
var (
	ErrConfigInvalid = New("config invalid")
	ErrNotFound      = New("not found")
	ErrWouldBlock    = New("would block")
)
