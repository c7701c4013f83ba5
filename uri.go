// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"github.com/intuitivelabs/htpscan/config"
)

// URI holds the components of a request-target, as split out of the raw
// bytes with no attempt at validation or decoding. All the Field values
// are spans into the same buffer the request line was parsed from.
// Grounded on htp_uri_t / htp_parse_uri: scheme, optional "//" authority
// (with optional userinfo and port), path, query and fragment, following
// the generic URI grammar rather than any particular request-target
// form (origin-form, absolute-form, authority-form or asterisk-form all
// fall out of the same split).
type URI struct {
	Scheme   Field
	UserInfo Field // "user[:pass]", empty if no credentials in authority
	Host     Field // raw hostname, no port, no decoding
	Port     Field // raw port digits, as found (not range-checked yet)
	PortNo   uint16
	Path     Field
	Query    Field
	Fragment Field
}

// Reset re-initializes a URI to the empty value.
func (u *URI) Reset() {
	*u = URI{}
}

// ParseURI splits the request-target bytes in buf[start:end) into a URI.
// It never fails: an unparseable scheme or authority is simply folded
// back into the path, mirroring the permissive "assume it's an invalid
// path" behaviour of the reference Apache-tolerant parser. The request
// target is expected to be fully buffered already (it was captured as a
// single Field by the first-line parser), so this is not a resumable
// byte-offset state machine like the header/body parsers.
func ParseURI(buf []byte, start, end int, u *URI) {
	u.Reset()
	if start >= end {
		return
	}
	pos := start

	// Scheme: only attempted if the target doesn't start with '/' (so a
	// normal origin-form path is never mistaken for "scheme:...").
	if buf[pos] != '/' {
		schemeStart := pos
		for pos < end && buf[pos] != ':' {
			pos++
		}
		if pos >= end {
			// no colon found: per the reference parser, treat the whole
			// thing as an (invalid) path instead of a scheme.
			pos = start
		} else {
			u.Scheme.Set(schemeStart, pos)
			pos++ // step over ':'
		}
	}

	// Authority: "//" followed by something other than a third '/', and
	// only attempted once a scheme was actually found (matches the
	// reference parser's restriction -- otherwise "//foo" in a path-only
	// target would be misparsed as an authority).
	if !u.Scheme.Empty() && pos+2 < end && buf[pos] == '/' && buf[pos+1] == '/' && buf[pos+2] != '/' {
		pos += 2
		authStart := pos
		for pos < end && buf[pos] != '?' && buf[pos] != '/' && buf[pos] != '#' {
			pos++
		}
		authEnd := pos
		parseAuthority(buf, authStart, authEnd, u)
	}

	// Path: up to '?' or '#'.
	pathStart := pos
	for pos < end && buf[pos] != '?' && buf[pos] != '#' {
		pos++
	}
	u.Path.Set(pathStart, pos)

	if pos == end {
		return
	}
	if buf[pos] == '?' {
		pos++
		qStart := pos
		for pos < end && buf[pos] != '#' {
			pos++
		}
		u.Query.Set(qStart, pos)
		if pos == end {
			return
		}
	}
	if buf[pos] == '#' {
		pos++
		u.Fragment.Set(pos, end)
	}
}

// parseAuthority splits buf[start:end) (the "//...{?,/,#}" chunk with the
// leading slashes already stripped) into optional userinfo, host and
// port. Grounded on htp_parse_authority/htp_parse_uri's authority
// handling.
func parseAuthority(buf []byte, start, end int, u *URI) {
	hostStart := start
	for i := start; i < end; i++ {
		if buf[i] == '@' {
			u.UserInfo.Set(start, i)
			hostStart = i + 1
			break
		}
	}
	hostEnd := end
	for i := hostStart; i < end; i++ {
		if buf[i] == ':' {
			hostEnd = i
			u.Port.Set(i+1, end)
			break
		}
	}
	u.Host.Set(hostStart, hostEnd)
	if !u.Port.Empty() {
		if v, ok := decToU(u.Port.Get(buf)); ok && v > 0 && v < 65536 {
			u.PortNo = uint16(v)
		}
	}
}

// isURIUnreservedChar reports whether c is one of RFC 3986's unreserved
// characters, which a percent-decoder may always safely decode without
// changing the URI's meaning.
func isURIUnreservedChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~'
}

// isHexDigit reports whether c is a valid hexadecimal digit.
func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// DecodePathOpts controls DecodePath's behaviour. The zero value decodes
// standard %XX escapes only: backslashes, repeated slashes and letter
// case are left as they are, and %u-encoded escapes are not decoded.
type DecodePathOpts struct {
	DecodeUEncoding    bool // recognize the non-standard %uXXXX escape
	BackslashSeparator bool // treat '\' as a path separator (IIS behaviour)
	CompressSeparators bool // collapse runs of '/' into a single one
	CaseInsensitive    bool // lowercase the decoded path

	// InvalidEncoding selects what happens to a malformed percent escape
	// (too few/non-hex digits). The zero value is RemovePercent.
	InvalidEncoding config.InvalidEncodingHandling
	// BestFitReplacement is the byte substituted for a %u-decoded
	// codepoint >= 256 outside the fullwidth-ASCII block that DecodePath
	// already maps directly.
	BestFitReplacement byte
}

// DecodePath percent-decodes (and optionally %u-decodes) the path bytes
// in src, returning a freshly allocated, decoded copy plus the anomaly
// flags raised along the way. Grounded on htp_decode_path_inplace,
// simplified to the subset of the reference parser's config knobs that
// matter for a read-only analyzer: a raw NUL byte or an encoded NUL both
// terminate the copy immediately (mirroring the TERMINATE handling
// mode), since anything past a NUL is attacker-controlled noise a real
// server will never see as part of the path.
func DecodePath(src []byte, opts DecodePathOpts) ([]byte, TxFlags) {
	var flags TxFlags
	out := make([]byte, 0, len(src))
	prevSep := false

	emit := func(c byte) {
		if opts.BackslashSeparator && c == '\\' {
			c = '/'
		}
		if opts.CaseInsensitive && c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if opts.CompressSeparators && c == '/' {
			if prevSep {
				return
			}
			prevSep = true
		} else {
			prevSep = false
		}
		out = append(out, c)
	}

	i := 0
	for i < len(src) {
		c := src[i]
		if c == 0 {
			flags.Set(FlagPathEncodedNul) // raw NUL, reuse the NUL flag
			return out, flags
		}
		if c != '%' {
			emit(c)
			i++
			continue
		}
		// '%' escape.
		if i+1 < len(src) && (src[i+1] == 'u' || src[i+1] == 'U') {
			validU := i+5 < len(src) && isHexDigit(src[i+2]) && isHexDigit(src[i+3]) &&
				isHexDigit(src[i+4]) && isHexDigit(src[i+5])
			if !validU {
				var terminated bool
				i, terminated = resolveInvalidEscape(emit, src, i, opts.InvalidEncoding, 2, 4, &flags)
				if terminated {
					return out, flags
				}
				continue
			}
			if !opts.DecodeUEncoding {
				// recognized %uHHHH syntax, but the escape form isn't
				// enabled in this configuration: preserve it literally,
				// it isn't malformed.
				emit(src[i])
				i++
				continue
			}
			hi, _ := hexToU(src[i+2 : i+4])
			lo, _ := hexToU(src[i+4 : i+6])
			codepoint := hi<<8 | lo
			var dec byte
			switch {
			case hi == 0:
				flags.Set(FlagPathOverlongU)
				dec = byte(lo)
			case codepoint >= 0xff01 && codepoint <= 0xff5e:
				// Fullwidth Forms block: a direct, well-known mapping back
				// to its ASCII equivalent, the same substitution a
				// browser/IIS would perform -- and the one that matters
				// for evasion detection, since this is exactly how an
				// ASCII separator gets smuggled past a byte-oriented filter.
				flags.Set(FlagPathFullwidthEvasion)
				dec = byte(codepoint - 0xfee0)
			case codepoint >= 0xff01 && codepoint <= 0xffff:
				flags.Set(FlagPathFullwidthEvasion)
				dec = opts.BestFitReplacement
			default:
				dec = opts.BestFitReplacement
			}
			if dec == '/' || (opts.BackslashSeparator && dec == '\\') {
				flags.Set(FlagPathEncodedSeparator)
			}
			if dec == 0 {
				flags.Set(FlagPathEncodedNul)
				return out, flags
			}
			emit(dec)
			i += 6
			continue
		}
		if i+2 < len(src) && isHexDigit(src[i+1]) && isHexDigit(src[i+2]) {
			v, _ := hexToU(src[i+1 : i+3])
			dec := byte(v)
			if dec == 0 {
				flags.Set(FlagPathEncodedNul)
				return out, flags
			}
			if dec == '/' || (opts.BackslashSeparator && dec == '\\') {
				flags.Set(FlagPathEncodedSeparator)
			}
			emit(dec)
			i += 3
			continue
		}
		var terminated bool
		i, terminated = resolveInvalidEscape(emit, src, i, opts.InvalidEncoding, 1, 2, &flags)
		if terminated {
			return out, flags
		}
	}
	return out, flags
}

// hexNibbleOr0 returns c's hex value, or 0 if c isn't a hex digit. Only
// used by DECODE_INVALID's best-effort recovery, which never fails
// outright on a malformed escape the way a strict decoder would.
func hexNibbleOr0(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// resolveInvalidEscape applies mode (path_invalid_encoding_handling) to a
// malformed percent escape at src[i] (the leading '%'). hexAt/hexLen say
// where the (possibly malformed) hex digits start and how many there
// should be: (1, 2) for an ordinary "%XX" escape, (2, 4) for a "%uHHHH"
// one. It returns the index to resume scanning from and whether the path
// ends here (DECODE_INVALID recovered a NUL byte).
func resolveInvalidEscape(emit func(byte), src []byte, i int, mode config.InvalidEncodingHandling, hexAt, hexLen int, flags *TxFlags) (next int, terminated bool) {
	flags.Set(FlagPathInvalidEncoding)
	switch mode {
	case config.RemovePercent:
		return i + 1, false
	case config.DecodeInvalid:
		if i+hexAt+hexLen <= len(src) {
			var v uint32
			for j := 0; j < hexLen; j++ {
				v = v<<4 | uint32(hexNibbleOr0(src[i+hexAt+j]))
			}
			dec := byte(v)
			if dec == 0 {
				flags.Set(FlagPathEncodedNul)
				return i, true
			}
			emit(dec)
			return i + hexAt + hexLen, false
		}
		emit(src[i])
		return i + 1, false
	case config.Status400:
		flags.Set(FlagPathStatus400)
		emit(src[i])
		return i + 1, false
	default: // PreservePercent
		emit(src[i])
		return i + 1, false
	}
}

// utf8 decode state machine constants (Bjoern Hoehrmann's DFA), reused
// verbatim since it's the standard compact way to validate and decode
// UTF-8 a byte at a time without pulling in a codec dependency for
// something this small.
const (
	utf8Accept = 0
	utf8Reject = 12
)

var utf8ByteClass = [256]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3,
	6, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

var utf8StateTransitions = [108]byte{
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72,
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// utf8Decode advances the DFA by one byte, the same way overlong and
// truncated sequences are distinguished in htp_utf8_decode_allow_overlong:
// a transition back to utf8Accept yields a complete codepoint, a
// transition to utf8Reject means the sequence is invalid and should be
// restarted from the accept state, anything else means more bytes are
// still needed to complete the current character.
func utf8Decode(state *uint32, codep *uint32, b byte) uint32 {
	byteClass := uint32(utf8ByteClass[b])
	if *state != utf8Accept {
		*codep = (uint32(b) & 0x3f) | (*codep << 6)
	} else {
		*codep = (0xff >> byteClass) & uint32(b)
	}
	*state = uint32(utf8StateTransitions[*state+byteClass])
	return *state
}

// ValidatePathUTF8 walks path and raises the UTF8 family of flags
// without modifying the bytes: PathUTF8Invalid on any malformed
// sequence, PathUTF8Valid if at least one valid multi-byte sequence was
// seen and none were invalid, PathUTF8Overlong for a codepoint encoded
// with more bytes than necessary, and PathFullwidthEvasion for the
// fullwidth-form Unicode block (U+FF01-U+FFFF) commonly used to sneak an
// ASCII-equivalent character past a byte-oriented filter. Grounded on
// htp_utf8_validate_path.
func ValidatePathUTF8(path []byte) TxFlags {
	var flags TxFlags
	var state, codep uint32
	counter := 0
	seenValid := false

	for _, b := range path {
		counter++
		switch utf8Decode(&state, &codep, b) {
		case utf8Accept:
			if counter > 1 {
				seenValid = true
				switch counter {
				case 2:
					if codep < 0x80 {
						flags.Set(FlagPathUTF8Overlong)
					}
				case 3:
					if codep < 0x800 {
						flags.Set(FlagPathUTF8Overlong)
					}
				case 4:
					if codep < 0x10000 {
						flags.Set(FlagPathUTF8Overlong)
					}
				}
			}
			if codep >= 0xff01 && codep <= 0xffff {
				flags.Set(FlagPathFullwidthEvasion)
			}
			counter = 0
		case utf8Reject:
			flags.Set(FlagPathUTF8Invalid)
			state = utf8Accept
			counter = 0
		default:
			// incomplete sequence, keep accumulating
		}
	}
	if seenValid && !flags.Test(FlagPathUTF8Invalid) {
		flags.Set(FlagPathUTF8Valid)
	}
	return flags
}

// RemoveDotSegments implements RFC 3986 section 5.2.4's dot-segment
// removal in place on a copy of path, collapsing "/./" and "/../" style
// traversal segments the same way a web server's own path resolution
// would before the request ever reaches application code.
func RemoveDotSegments(path []byte) []byte {
	out := make([]byte, 0, len(path))
	for len(path) > 0 {
		switch {
		case hasPrefixBytes(path, "../"):
			path = path[3:]
		case hasPrefixBytes(path, "./"):
			path = path[2:]
		case hasPrefixBytes(path, "/./"):
			path = path[2:]
		case bytesEqual(path, "/."):
			path = path[:1]
			path[0] = '/'
		case hasPrefixBytes(path, "/../"):
			path = path[3:]
			out = removeLastSegment(out)
		case bytesEqual(path, "/.."):
			path = path[:1]
			path[0] = '/'
			out = removeLastSegment(out)
		case bytesEqual(path, ".") || bytesEqual(path, ".."):
			path = nil
		default:
			i := 0
			if path[0] == '/' {
				i = 1
			}
			for i < len(path) && path[i] != '/' {
				i++
			}
			out = append(out, path[:i]...)
			path = path[i:]
		}
	}
	return out
}

func hasPrefixBytes(b []byte, s string) bool {
	if len(b) < len(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if b[i] != s[i] {
			return false
		}
	}
	return true
}

func bytesEqual(b []byte, s string) bool {
	return len(b) == len(s) && hasPrefixBytes(b, s)
}

func removeLastSegment(out []byte) []byte {
	i := len(out)
	for i > 0 && out[i-1] != '/' {
		i--
	}
	if i > 0 {
		i--
	}
	return out[:i]
}

// NormalizeURIEncoding decodes only the percent-escapes that denote an
// RFC 3986 unreserved character, uppercasing the hex digits of every
// other escape (valid or not) and leaving it otherwise untouched.
// Grounded on htp_uriencoding_normalize_inplace. The request URI
// normalizer does not call it: userinfo and fragment are kept as
// received.
func NormalizeURIEncoding(s []byte) []byte {
	out := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		if s[i] == '%' && i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
			v, _ := hexToU(s[i+1 : i+3])
			c := byte(v)
			if isURIUnreservedChar(c) {
				out = append(out, c)
			} else {
				out = append(out, s[i], upperHex(s[i+1]), upperHex(s[i+2]))
			}
			i += 3
			continue
		}
		out = append(out, s[i])
		i++
	}
	return out
}

func upperHex(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - ('a' - 'A')
	}
	return c
}

// NormalizeHostname lowercases host and strips a single trailing dot,
// returning a freshly allocated copy. Grounded on
// htp_normalize_hostname_inplace.
func NormalizeHostname(host []byte) []byte {
	out := make([]byte, len(host))
	for i, c := range host {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	if len(out) > 0 && out[len(out)-1] == '.' {
		out = out[:len(out)-1]
	}
	return out
}
