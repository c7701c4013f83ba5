// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"github.com/intuitivelabs/bytescase"
)

// multipartFormDataPrefix is compared case-insensitively, a deliberate
// deviation from a case-sensitive match: real-world Content-Type values
// spell "multipart/form-data" in mixed case often enough that a
// case-sensitive match would silently miss most of them.
var multipartFormDataPrefix = []byte("multipart/form-data;")

// rfcUnusualBoundaryChars is the RFC 2046 bchars set outside
// [0-9A-Za-z-]: present but uncommon enough in the wild to flag as
// UNUSUAL rather than INVALID.
const rfcUnusualBoundaryChars = "'()+_,./:=? "

func isUnusualBoundaryChar(c byte) bool {
	for i := 0; i < len(rfcUnusualBoundaryChars); i++ {
		if rfcUnusualBoundaryChars[i] == c {
			return true
		}
	}
	return false
}

func isPlainBoundaryChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '-'
}

// findTokenAll does a case-insensitive search for needle in hay, returning
// every match's starting offset.
func findTokenAll(hay, needle []byte) []int {
	var offs []int
	if len(needle) == 0 || len(hay) < len(needle) {
		return offs
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if bytescase.CmpEq(hay[i:i+len(needle)], needle) {
			offs = append(offs, i)
		}
	}
	return offs
}

// FindMultipartBoundary extracts the boundary value from a Content-Type
// header value's "find boundary" operation.
// A nil return with FlagMultipartBoundaryInvalid or
// FlagMultipartBoundaryMissing set means no usable boundary was found;
// the caller should not start a multipartScanner in that case.
func FindMultipartBoundary(contentType []byte) ([]byte, TxFlags) {
	var flags TxFlags
	if len(contentType) < len(multipartFormDataPrefix) ||
		!bytescase.CmpEq(contentType[:len(multipartFormDataPrefix)], multipartFormDataPrefix) {
		flags.Set(FlagMultipartBoundaryInvalid)
		return nil, flags
	}

	occurrences := findTokenAll(contentType, []byte("boundary"))
	if len(occurrences) == 0 {
		flags.Set(FlagMultipartBoundaryMissing)
		return nil, flags
	}
	if len(occurrences) > 1 {
		flags.Set(FlagMultipartBoundaryInvalid)
	}

	pos := occurrences[0] + len("boundary")
	for pos < len(contentType) && isLWS(contentType[pos]) {
		flags.Set(FlagMultipartBoundaryUnusual)
		pos++
	}
	if pos >= len(contentType) || contentType[pos] != '=' {
		flags.Set(FlagMultipartBoundaryInvalid)
		return nil, flags
	}
	pos++
	for pos < len(contentType) && isLWS(contentType[pos]) {
		flags.Set(FlagMultipartBoundaryUnusual)
		pos++
	}
	if pos >= len(contentType) {
		flags.Set(FlagMultipartBoundaryInvalid)
		return nil, flags
	}

	var value []byte
	if contentType[pos] == '"' {
		pos++
		start := pos
		for pos < len(contentType) && contentType[pos] != '"' {
			pos++
		}
		if pos >= len(contentType) {
			flags.Set(FlagMultipartBoundaryInvalid)
			return nil, flags
		}
		value = contentType[start:pos]
	} else {
		start := pos
		for pos < len(contentType) {
			c := contentType[pos]
			if c == ',' || c == ';' || isLWS(c) || c == '\r' || c == '\n' {
				break
			}
			pos++
		}
		value = contentType[start:pos]
	}

	if len(value) < 1 || len(value) > 70 {
		flags.Set(FlagMultipartBoundaryInvalid)
		return nil, flags
	}
	for _, c := range value {
		if isPlainBoundaryChar(c) {
			continue
		}
		if isUnusualBoundaryChar(c) {
			flags.Set(FlagMultipartBoundaryUnusual)
			continue
		}
		flags.Set(FlagMultipartBoundaryInvalid)
	}
	return value, flags
}

// mpState is the streaming boundary scanner's sub-state:
// INIT/BOUNDARY/IS_LAST1/IS_LAST2/EAT_LWS/EAT_LWS_CR/DATA.
type mpState uint8

const (
	mpInit mpState = iota
	mpBoundary
	mpIsLast1
	mpIsLast2
	mpEatLWS
	mpEatLWSCR
	mpData
)

// multipartScanner recognizes CRLF "--" boundary "--"? delimiters inside
// a request body one byte at a time, without holding the whole body in
// memory. It reports everything between delimiters as ordinary body
// bytes and flags only the delimiter lines themselves.
type multipartScanner struct {
	pattern  []byte // "\r\n--" + boundary
	matchPos int
	state    mpState
	first    bool // true until the first boundary delimiter has been seen
	done     bool // saw the final "--boundary--" delimiter
	flags    *TxFlags
}

func newMultipartScanner(boundary []byte, flags *TxFlags) *multipartScanner {
	pat := make([]byte, 0, len(boundary)+4)
	pat = append(pat, '\r', '\n', '-', '-')
	pat = append(pat, boundary...)
	return &multipartScanner{pattern: pat, state: mpInit, first: true, flags: flags}
}

// feed walks data one byte at a time through the sub-state machine,
// calling onData for every contiguous run of body bytes (never including
// delimiter bytes) and once more with isLast=true when the closing
// "--boundary--" delimiter is recognized.
func (m *multipartScanner) feed(data []byte, onData func(b []byte, isLast bool)) {
	if m.done {
		return
	}
	i := 0
	for i < len(data) {
		c := data[i]
		switch m.state {
		case mpInit, mpData:
			start := 0
			if m.first {
				start = 2 // preamble is optional: first boundary may skip CRLF
			}
			if c == m.pattern[start] {
				m.matchPos = start + 1
				m.state = mpBoundary
				i++
				continue
			}
			if m.state == mpData {
				onData(data[i:i+1], false)
			}
			i++
		case mpBoundary:
			if m.matchPos < len(m.pattern) && c == m.pattern[m.matchPos] {
				m.matchPos++
				i++
				if m.matchPos == len(m.pattern) {
					m.state = mpIsLast1
				}
				continue
			}
			// mismatch mid-boundary: the already-matched prefix was data
			// after all, replay it and restart matching on this byte.
			if m.matchPos > 0 {
				replay := append([]byte(nil), m.pattern[:m.matchPos]...)
				onData(replay, false)
			}
			m.matchPos = 0
			m.state = mpData
		case mpIsLast1:
			if c == '-' {
				m.state = mpIsLast2
				i++
			} else {
				m.state = mpEatLWS
			}
		case mpIsLast2:
			if c == '-' {
				m.done = true
				m.first = false
				i++
				onData(nil, true)
				return
			}
			m.state = mpEatLWS
		case mpEatLWS:
			switch {
			case isLWS(c):
				m.flags.Set(FlagMultipartBoundaryUnusual)
				i++
			case c == '\r':
				m.state = mpEatLWSCR
				i++
			default:
				m.state = mpData
			}
		case mpEatLWSCR:
			if c == '\n' {
				m.first = false
				m.matchPos = 0
				m.state = mpData
				i++
			} else {
				m.flags.Set(FlagMultipartBoundaryUnusual)
				m.state = mpData
			}
		}
	}
}
