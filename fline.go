// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"github.com/intuitivelabs/bytescase"
)

// PFLine contains the parsed first line of a HTTP message (request or
// reply). A single structure serves both directions since a Transaction
// only ever fills one half of it at a time (the direction is known from
// which of parseRequestLine/parseResponseLine is called, not sniffed
// from content).
type PFLine struct {
	Status       uint16 // reply status code, 0 for requests
	MethodNo     HTTPMethod
	Method       Field // request method, empty in replies
	URI          Field // request URI
	Version      Field // http version (e..g HTTP/1.0), common
	StatusCode   Field // reply status as string (empty for requests)
	Reason       Field // reply reason
	HTTP09       bool  // request line had no protocol token
	PFLineIState       // internal parsing state
}

// Reset re-initializes the parsing state and the first line values.
func (fl *PFLine) Reset() {
	*fl = PFLine{}
}

// Request returns true if the parsed first line corresponds to a request.
func (fl *PFLine) Request() bool {
	return fl.Status == 0
}

// Empty returns true is nothing has been parsed yet.
func (fl *PFLine) Empty() bool {
	return fl.state == flInit
}

// Parsed returns true if the first line is fully parsed (complete and end
// found).
func (fl *PFLine) Parsed() bool {
	return fl.state == flFIN
}

// Pending returns true if the first line is only partially parsed
// (more input is needed).
func (fl *PFLine) Pending() bool {
	return fl.state != flFIN && fl.state != flInit
}

// PFLineIState contains internal parsing state associated to a PFLine.
type PFLineIState struct {
	state   uint8 // internal parser state
	reqLine bool  // true once ParseFLine has committed to the request parser
}

// internal parser state
const (
	flInit uint8 = iota
	flReqMethod
	flReqSP1
	flReqURI
	flReqSP2
	flReqVer
	flRplProto
	flRplStatus
	flRplReason
	flCRLF
	flFIN
)

// constant arrays
var httpVerPref = []byte("HTTP/") // http version "prefix"

// parseRequestLine parses a HTTP request line: method SP+ uri [SP+
// version] CRLF. Grounded on the Apache 2.2 reference parser
// (htp_parse_request_line_generic / htp_request_apache_2_2.c): runs of
// more than one space between tokens are tolerated (collapsed), and a
// request line with no protocol token at all (line ends right after the
// URI) is accepted as HTTP/0.9 rather than rejected.
func parseRequestLine(buf []byte, offs int, pl *PFLine) (int, ErrorHdr) {
	i := offs
	switch pl.state {
	case flInit:
		pl.state = flReqMethod
		pl.Method.Set(i, i)
		fallthrough
	case flReqMethod:
		i = skipToken(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		if buf[i] != ' ' && buf[i] != '\t' {
			return i, ErrHdrBadChar
		}
		pl.Method.Extend(i)
		if pl.Method.Empty() {
			goto errEmptyTok
		}
		pl.MethodNo = GetMethodNo(pl.Method.Get(buf))
		pl.state = flReqSP1
		fallthrough
	case flReqSP1:
		i = skipWS(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		pl.state = flReqURI
		pl.URI.Set(i, i)
		fallthrough
	case flReqURI:
		i = skipToken(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		pl.URI.Extend(i)
		if pl.URI.Empty() {
			goto errEmptyTok
		}
		if buf[i] == '\r' || buf[i] == '\n' {
			// no protocol token at all => HTTP/0.9
			pl.HTTP09 = true
			pl.state = flCRLF
			goto crlf
		}
		if buf[i] != ' ' && buf[i] != '\t' {
			return i, ErrHdrBadChar
		}
		pl.state = flReqSP2
		fallthrough
	case flReqSP2:
		i = skipWS(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		if buf[i] == '\r' || buf[i] == '\n' {
			// SP* with nothing following => also HTTP/0.9
			pl.HTTP09 = true
			pl.state = flCRLF
			goto crlf
		}
		pl.state = flReqVer
		pl.Version.Set(i, i)
		fallthrough
	case flReqVer:
		i = skipToken(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		if buf[i] != '\r' && buf[i] != '\n' {
			return i, ErrHdrBadChar
		}
		pl.Version.Extend(i)
		if pl.Version.Empty() {
			goto errEmptyTok
		}
		pl.state = flCRLF
	case flCRLF:
		goto crlf
	}
crlf:
	{
		end, _, err := skipCRLF(buf, i)
		if err != 0 {
			return end, err // could be moreBytes
		}
		i = end
	}
	pl.state = flFIN
	return i, 0
moreBytes:
	return i, ErrHdrMoreBytes
errEmptyTok:
	return i, ErrHdrBadChar
}

// parseResponseLine parses a HTTP response (status) line: protocol SP
// status SP reason CRLF. Unlike the request line, a missing "HTTP/"
// prefix does not abort parsing ("doesn't start with HTTP" bypass): the
// first whitespace-delimited token is still accepted as the protocol
// field whatever it contains, since broken or deliberately evasive
// servers are known to send garbage there while the status code that
// follows remains meaningful. The line terminator is scanned
// permissively, tolerating a lone CR, a lone LF, CRLF, or a run of extra
// CRs before the final LF.
func parseResponseLine(buf []byte, offs int, pl *PFLine) (int, ErrorHdr) {
	i := offs
	switch pl.state {
	case flInit:
		pl.state = flRplProto
		pl.Version.Set(i, i)
		fallthrough
	case flRplProto:
		i = skipToken(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		if buf[i] != ' ' && buf[i] != '\t' {
			return i, ErrHdrBadChar
		}
		pl.Version.Extend(i)
		if pl.Version.Empty() {
			goto errEmptyTok
		}
		// a protocol token that isn't "HTTP/..." is accepted as-is here;
		// the bypass is simply not requiring the match (see doc comment).
		if j := skipWS(buf, i); j >= len(buf) {
			goto moreBytes // resume at the separator
		} else {
			i = j
		}
		pl.state = flRplStatus
		pl.StatusCode.Set(i, i)
		fallthrough
	case flRplStatus:
		i = skipToken(buf, i)
		if i >= len(buf) {
			goto moreBytes
		}
		pl.StatusCode.Extend(i)
		if !parseStatusCode(pl.StatusCode.Get(buf), &pl.Status) {
			return i, ErrHdrValNotNumber
		}
		if buf[i] == '\r' || buf[i] == '\n' {
			pl.Reason.Set(i, i)
			pl.state = flCRLF
			goto crlf
		}
		if buf[i] != ' ' && buf[i] != '\t' {
			return i, ErrHdrBadChar
		}
		// RFC 7230's status-line grammar is "SP Reason-Phrase": only the
		// single separator is consumed here, any further whitespace is
		// part of the reason phrase itself.
		i++
		pl.state = flRplReason
		pl.Reason.Set(i, i)
		if i >= len(buf) {
			goto moreBytes
		}
		fallthrough
	case flRplReason:
		for i < len(buf) && buf[i] != '\r' && buf[i] != '\n' {
			i++
		}
		if i >= len(buf) {
			goto moreBytes
		}
		pl.Reason.Extend(i)
		pl.state = flCRLF
		goto crlf
	case flCRLF:
		goto crlf
	}
moreBytes:
	return i, ErrHdrMoreBytes
errEmptyTok:
	return i, ErrHdrBadChar
crlf:
	{
		n, crl, err := skipExoticLineEnd(buf, i)
		if err != 0 {
			return n, err
		}
		_ = crl
		i = n
	}
	pl.state = flFIN
	return i, 0
}

// skipExoticLineEnd consumes a line terminator at offs, tolerating a run
// of extra CR bytes before the final LF (or a trailing lone CR with no
// LF at all) -- some HTTP servers emit "CR CR LF" sequences; rejecting
// them outright would needlessly desync the parser from a line a normal
// browser still accepts.
func skipExoticLineEnd(buf []byte, offs int) (int, int, ErrorHdr) {
	i := offs
	if i >= len(buf) {
		return i, 0, ErrHdrMoreBytes
	}
	if buf[i] == '\n' {
		return i + 1, 1, ErrHdrOk
	}
	if buf[i] != '\r' {
		return i, 0, ErrHdrBadChar
	}
	for i < len(buf) && buf[i] == '\r' {
		i++
	}
	if i >= len(buf) {
		return offs, 0, ErrHdrMoreBytes
	}
	if buf[i] == '\n' {
		i++
	}
	return i, i - offs, ErrHdrOk
}

// parseStatusCode parses a 3-digit decimal status code from tok,
// rejecting anything else (extra digits, non-digits, wrong length).
func parseStatusCode(tok []byte, status *uint16) bool {
	if len(tok) != 3 {
		return false
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return false
		}
	}
	*status = uint16(tok[0]-'0')*100 + uint16(tok[1]-'0')*10 + uint16(tok[2]-'0')
	return true
}

// ParseFLine parses a HTTP message's first line, auto-detecting request
// vs. response by content (a leading "HTTP/" token means response). Kept
// for callers that don't already know the direction; request_fsm.go and
// response_fsm.go call parseRequestLine/parseResponseLine directly since
// they always know which side they're on.
func ParseFLine(buf []byte, offs int, pl *PFLine) (int, ErrorHdr) {
	if pl.state == flInit {
		if len(buf)-offs < len(httpVerPref) {
			return offs, ErrHdrMoreBytes
		}
		_, match := bytescase.Prefix(httpVerPref, buf[offs:])
		pl.reqLine = !match
	}
	if pl.reqLine {
		return parseRequestLine(buf, offs, pl)
	}
	return parseResponseLine(buf, offs, pl)
}
