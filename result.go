// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import "fmt"

// ErrorHdr is the discriminated result/error code used throughout the
// byte-offset parsing helpers (tokens, headers, first line, chunked
// encoding). It mixes "soft" in-progress results (more bytes needed,
// more values follow, end of header reached) with hard parse failures,
// mirroring the mixed error-code space of the original C parser.
type ErrorHdr uint8

const (
	// ErrHdrOk: value fully parsed, nothing more to do.
	ErrHdrOk ErrorHdr = iota
	// ErrHdrMoreBytes: not enough data in buf, call again with more
	// appended and the returned offset.
	ErrHdrMoreBytes
	// ErrHdrMoreValues: current value parsed, but more values follow
	// (comma or space separated lists); call again with a fresh value
	// holder and the returned offset.
	ErrHdrMoreValues
	// ErrHdrEOH: end of the current header line/value reached.
	ErrHdrEOH
	// ErrHdrEmpty: an empty line/value was found (e.g. the blank line
	// that terminates the header block, or a parameter with no content).
	ErrHdrEmpty
	// ErrHdrBadChar: an unexpected/disallowed byte was found at the
	// returned offset.
	ErrHdrBadChar
	// ErrHdrValNotNumber: a numeric value failed to parse as a number.
	ErrHdrNumTooBig
	ErrHdrValNotNumber
	// ErrHdrNoCLen: Content-Length required but absent or unparseable.
	ErrHdrNoCLen
	// ErrHdrTrunc: input ended mid-field with no more data expected
	// (NoMoreData flag set) -- a hard parse failure.
	ErrHdrTrunc
	// ErrHdrBug: internal state machine invariant violated.
	ErrHdrBug
)

func (e ErrorHdr) String() string {
	switch e {
	case ErrHdrOk:
		return "ok"
	case ErrHdrMoreBytes:
		return "more bytes needed"
	case ErrHdrMoreValues:
		return "more values follow"
	case ErrHdrEOH:
		return "end of header"
	case ErrHdrEmpty:
		return "empty"
	case ErrHdrBadChar:
		return "unexpected character"
	case ErrHdrNumTooBig:
		return "number too big"
	case ErrHdrValNotNumber:
		return "value is not a number"
	case ErrHdrNoCLen:
		return "missing or invalid Content-Length"
	case ErrHdrTrunc:
		return "truncated input"
	case ErrHdrBug:
		return "internal parser bug"
	default:
		return fmt.Sprintf("ErrorHdr(%d)", uint8(e))
	}
}

// Fatal returns true for ErrorHdr values that represent a hard parse
// failure (as opposed to in-progress / more-data conditions).
func (e ErrorHdr) Fatal() bool {
	switch e {
	case ErrHdrOk, ErrHdrMoreBytes, ErrHdrMoreValues, ErrHdrEOH, ErrHdrEmpty:
		return false
	default:
		return true
	}
}

// Result is the outcome of feeding a chunk of bytes to one direction of
// a Connection (ReqData/ResData) or of running a single state function.
type Result uint8

const (
	// ResOk: the state function advanced and the caller should continue
	// the state loop.
	ResOk Result = iota
	// ResNeedMore: not enough input to make progress; return control to
	// the caller with NEED_MORE.
	ResNeedMore
	// ResNeedBuffer: the field limit would be exceeded without a larger
	// pre-allocated buffer (reserved for future streaming back-pressure;
	// the current buffering strategy never returns this, it fails with
	// ResError instead, see direction.go).
	ResNeedBuffer
	// ResSuspend: this direction must block until the other direction
	// makes progress (CONNECT handoff).
	ResSuspend
	// ResStop: a hook asked parsing to stop cooperatively.
	ResStop
	// ResError: a fatal parse error occurred; the direction transitions
	// to DirError and refuses further input.
	ResError
	// ResTunnel: the connection has switched to raw tunneling; no more
	// HTTP parsing will happen on it.
	ResTunnel
	// ResClosed: the direction has been marked closed and drained.
	ResClosed
)

func (r Result) String() string {
	switch r {
	case ResOk:
		return "OK"
	case ResNeedMore:
		return "NEED_MORE"
	case ResNeedBuffer:
		return "NEED_BUFFER"
	case ResSuspend:
		return "SUSPEND"
	case ResStop:
		return "STOP"
	case ResError:
		return "ERROR"
	case ResTunnel:
		return "TUNNEL"
	case ResClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}

// HookResult is returned by user-registered hook callbacks.
type HookResult uint8

const (
	HookOk HookResult = iota
	HookDeclined
	HookStop
	HookError
)
