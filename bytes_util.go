// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE_BSD.txt file in the root of the source
// tree.

package htpscan

// Byte classification and line-scanning helpers shared by the first-line,
// header, token and chunked-encoding parsers. Grounded on the scanning
// idiom used throughout parse_tok.go (byte-at-a-time state machines
// operating on a shared buffer + offset) plus htp_util.c's line-folding
// and line-ignorable helpers (see DESIGN.md).

// isLWS returns true for a space or horizontal tab -- the "LWS" byte
// class from the glossary.
func isLWS(c byte) bool {
	return c == ' ' || c == '\t'
}

// isCR/isLF classify the two line-ending bytes.
func isCR(c byte) bool { return c == '\r' }
func isLF(c byte) bool { return c == '\n' }

// isCtl returns true for control bytes (0x00-0x1f, 0x7f); the tab byte
// (LWS) is included.
func isCtl(c byte) bool {
	return c < 0x20 || c == 0x7f
}

// isTokenChar implements RFC 7230 "tchar": the strict token alphabet
// used for header field names.
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`',
		'|', '~':
		return true
	}
	return false
}

// isSeparatorChar implements the RFC 2616 "separators" set. Kept for
// reference/flagging use (e.g. detecting which disallowed byte caused a
// header name to be unparseable); header-name scanning itself relies on
// isTokenChar.
func isSeparatorChar(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']',
		'?', '=', '{', '}', ' ', '\t':
		return true
	}
	return false
}

// skipWS advances i while buf[i] is LWS (space or tab). It never
// inspects CR/LF and never returns an error: the caller is responsible
// for bounds-checking the returned offset against len(buf).
func skipWS(buf []byte, offs int) int {
	i := offs
	for i < len(buf) && isLWS(buf[i]) {
		i++
	}
	return i
}

// skipToken advances i while buf[i] is not a line-grammar separator
// (space, tab, CR or LF). It implements the loose "token" used by the
// request/response first line (method, URI, protocol), which tolerates
// any byte that isn't whitespace or a line terminator -- URIs routinely
// contain bytes (';', '%', high-bit bytes) that RFC 7230 tchar excludes.
func skipToken(buf []byte, offs int) int {
	i := offs
	for i < len(buf) {
		switch buf[i] {
		case ' ', '\t', '\r', '\n':
			return i
		}
		i++
	}
	return i
}

// skipTokenDelim advances i while buf[i] is a valid RFC 7230 tchar (used
// for header field names, which must stop at ':' or stray whitespace).
// The stopping byte itself (':' , LWS or an invalid byte) is left at i
// for the caller to classify.
func skipTokenDelim(buf []byte, offs int, delim byte) int {
	i := offs
	for i < len(buf) {
		c := buf[i]
		if c == delim {
			return i
		}
		if !isTokenChar(c) {
			return i
		}
		i++
	}
	return i
}

// skipCRLF consumes the line terminator starting exactly at offs.
// Accepts CRLF, a lone LF, or (permissively, flagging nothing here --
// callers raise INVALID_FOLDING/weird-line-ending flags themselves) a
// lone CR. Returns the offset after the terminator and its length (1 or
// 2).
func skipCRLF(buf []byte, offs int) (int, int, ErrorHdr) {
	if offs >= len(buf) {
		return offs, 0, ErrHdrMoreBytes
	}
	switch buf[offs] {
	case '\r':
		if offs+1 >= len(buf) {
			return offs, 0, ErrHdrMoreBytes
		}
		if buf[offs+1] == '\n' {
			return offs + 2, 2, ErrHdrOk
		}
		return offs + 1, 1, ErrHdrOk
	case '\n':
		return offs + 1, 1, ErrHdrOk
	default:
		return offs, 0, ErrHdrBadChar
	}
}

// skipLine advances to the first byte after the next line terminator
// found at or after offs, returning the terminator's length so the
// caller can exclude it from a field that spans up to the line end
// (field.Extend(i - crl)).
func skipLine(buf []byte, offs int) (int, int, ErrorHdr) {
	i := offs
	for i < len(buf) {
		switch buf[i] {
		case '\r':
			if i+1 >= len(buf) {
				return i, 0, ErrHdrMoreBytes
			}
			if buf[i+1] == '\n' {
				return i + 2, 2, ErrHdrOk
			}
			return i + 1, 1, ErrHdrOk
		case '\n':
			return i + 1, 1, ErrHdrOk
		}
		i++
	}
	return i, 0, ErrHdrMoreBytes
}

// skipLWS skips a run of linear white space starting at offs, which may
// include folded continuation lines (a line terminator immediately
// followed by LWS). It is the core of header-value line folding.
//
// Return values:
//   - (i, 0, ErrHdrOk): the LWS run ended at a non-whitespace,
//     non-line-terminator byte; i points to it.
//   - (i, 0, ErrHdrMoreBytes): not enough bytes to decide; resume at i.
//   - (i, crl, ErrHdrEOH): a line terminator was found and it is NOT
//     followed by a fold (LWS); i is the terminator's start offset and
//     crl its length, so i+crl is the first byte of whatever follows
//     (the next header, or the blank line ending the header block).
//
// flags is accepted for call-site symmetry with the token parsers but
// currently unused: folding is always permitted, matching the parser's
// general permissiveness: folding is flagged separately rather than
// refused.
func skipLWS(buf []byte, offs int, flags uint) (int, int, ErrorHdr) {
	i := offs
	for i < len(buf) {
		c := buf[i]
		switch {
		case isLWS(c):
			i++
		case isCR(c):
			if i+1 >= len(buf) {
				return i, 0, ErrHdrMoreBytes
			}
			if buf[i+1] == '\n' {
				if i+2 >= len(buf) {
					return i, 0, ErrHdrMoreBytes
				}
				if isLWS(buf[i+2]) {
					i += 3
					continue
				}
				return i, 2, ErrHdrEOH
			}
			if isLWS(buf[i+1]) {
				i += 2
				continue
			}
			return i, 1, ErrHdrEOH
		case isLF(c):
			if i+1 >= len(buf) {
				return i, 0, ErrHdrMoreBytes
			}
			if isLWS(buf[i+1]) {
				i += 2
				continue
			}
			return i, 1, ErrHdrEOH
		default:
			return i, 0, ErrHdrOk
		}
	}
	return i, 0, ErrHdrMoreBytes
}

// isLineFolded reports whether line (a single header-region line,
// terminator already stripped) looks like a folded continuation: it
// starts with LWS. Whether a previous header exists to fold into is not
// checked here.
// Grounded on htp_util.c's htp_connp_is_line_folded.
func isLineFolded(line []byte) bool {
	return len(line) > 0 && isLWS(line[0])
}

// isLineIgnorable reports whether line (terminator stripped) is empty or
// contains only LWS -- such lines are skipped rather than ending the
// header block, matching htp_util.c's htp_connp_is_line_ignorable used
// while scanning for the request line.
func isLineIgnorable(line []byte) bool {
	for _, c := range line {
		if !isLWS(c) {
			return false
		}
	}
	return true
}

// hexToU parses buf as an unsigned hexadecimal integer (no prefix,
// case-insensitive). Returns ok=false on empty input or any non-hex
// digit.
func hexToU(buf []byte) (uint64, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	var v uint64
	for _, c := range buf {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, false
		}
		if v > (1<<64-1-d)/16 {
			return 0, false // overflow
		}
		v = v*16 + d
	}
	return v, true
}

// decToU parses buf as an unsigned decimal integer. Returns ok=false on
// empty input, a non-digit byte, or overflow.
func decToU(buf []byte) (uint64, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	var v uint64
	for _, c := range buf {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := uint64(c - '0')
		if v > (1<<64-1-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	return v, true
}

// trimLWS trims leading and trailing space/tab bytes from buf.
func trimLWS(buf []byte) []byte {
	i, j := 0, len(buf)
	for i < j && isLWS(buf[i]) {
		i++
	}
	for j > i && isLWS(buf[j-1]) {
		j--
	}
	return buf[i:j]
}
