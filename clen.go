// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

// PUIntBody holds a parsed unsigned-integer header value (currently only
// Content-Length: a positive decimal integer, optionally surrounded by
// LWS, rejecting negative values and trailing garbage). Grounded on
// headers.go's PHdrVals/PHBodies shortcut-table idiom, generalized to
// carry the parsed numeric value alongside the raw Field span.
type PUIntBody struct {
	Val    uint64
	SVal   Field // the digit run, as found in the buffer (no surrounding LWS)
	parsed bool
}

// Reset re-initializes the parsed value.
func (b *PUIntBody) Reset() {
	*b = PUIntBody{}
}

// Parsed returns true if a value has already been fully parsed.
func (b *PUIntBody) Parsed() bool {
	return b.parsed
}

// ParseCLenVal parses a Content-Length header value starting at offs:
// optional leading LWS, a run of decimal digits, optional trailing LWS,
// then the line terminator. It never accepts a leading '-' or '+', empty
// digit runs, or any non-LWS byte between the digits and the line end --
// all of those return ErrHdrValNotNumber so the caller can flag the
// header invalid rather than guess at its length.
//
// Returns the offset right after the consumed CRLF (mirroring
// ParseHdrLine's other "header fully parsed" return points) and 0 on
// success; ErrHdrMoreBytes if buf is truncated before a decision can be
// made; ErrHdrNumTooBig on overflow; ErrHdrValNotNumber on a malformed
// value.
func ParseCLenVal(buf []byte, offs int, b *PUIntBody) (int, ErrorHdr) {
	i, _, lerr := skipLWS(buf, offs, 0)
	switch lerr {
	case ErrHdrOk:
		// i points at the first non-LWS byte, as expected below.
	case ErrHdrMoreBytes:
		return offs, ErrHdrMoreBytes
	default: // ErrHdrEOH: LWS-only value, no digits at all
		return i, ErrHdrValNotNumber
	}
	start := i
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		i++
	}
	if i >= len(buf) {
		return offs, ErrHdrMoreBytes
	}
	if i == start {
		return i, ErrHdrValNotNumber
	}
	v, ok := decToU(buf[start:i])
	if !ok {
		return i, ErrHdrNumTooBig
	}
	j, crl, err := skipLWS(buf, i, 0)
	switch err {
	case ErrHdrMoreBytes:
		return offs, ErrHdrMoreBytes
	case ErrHdrEOH:
		b.Val = v
		b.SVal.Set(start, i)
		b.parsed = true
		return j + crl, ErrHdrOk
	default:
		// a non-WS byte follows the digits on the same logical line:
		// trailing garbage (e.g. "123abc").
		return j, ErrHdrValNotNumber
	}
}
