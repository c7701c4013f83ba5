// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"github.com/intuitivelabs/bytescase"
)

// HdrT is used to hold the header type as a numeric constant.
type HdrT uint16

// HdrFlags packs several header values into bit flags.
type HdrFlags uint32

// Reset initializes a HdrFlags.
func (f *HdrFlags) Reset() {
	*f = 0
}

// Set sets the header flag corresponding to the passed header type.
func (f *HdrFlags) Set(Type HdrT) {
	*f |= 1 << Type
}

// Clear resets the header flag corresponding to the passed header type.
func (f *HdrFlags) Clear(Type HdrT) {
	*f &^= 1 << Type // equiv to & ^(...)
}

// Test returns true if the flag corresponding to the passed header type
// is set.
func (f HdrFlags) Test(Type HdrT) bool {
	return (f & (1 << Type)) != 0
}

// Any returns true if at least one of the passed header types is set.
func (f HdrFlags) Any(types ...HdrT) bool {
	for _, t := range types {
		if f&(1<<t) != 0 {
			return true
		}
	}
	return false
}

// AllSet returns true if all of the passed header types are set.
func (f HdrFlags) AllSet(types ...HdrT) bool {
	for _, t := range types {
		if f&(1<<t) == 0 {
			return false
		}
	}
	return true
}

// HdrT header types constants. Extended with the header types the
// body-determination and host-reconciliation rules need to recognize
// directly (Content-Type for multipart boundary detection,
// Connection/Upgrade for the 101-tunnel heuristic).
const (
	HdrNone HdrT = iota
	HdrCLen
	HdrTrEncoding
	HdrUpgrade
	HdrCEncoding
	HdrCType
	HdrHost
	HdrServer
	HdrOrigin
	HdrConnection
	HdrWSockKey
	HdrWSockProto
	HdrWSockAccept
	HdrWSockVer
	HdrWSockExt
	HdrOther // generic, not recognized header -- MUST stay last
)

// HdrFlags constants for each header type.
const (
	HdrCLenF        HdrFlags = 1 << HdrCLen
	HdrTrEncodingF  HdrFlags = 1 << HdrTrEncoding
	HdrUpgradeF     HdrFlags = 1 << HdrUpgrade
	HdrCEncodingF   HdrFlags = 1 << HdrCEncoding
	HdrCTypeF       HdrFlags = 1 << HdrCType
	HdrHostF        HdrFlags = 1 << HdrHost
	HdrServerF      HdrFlags = 1 << HdrServer
	HdrOriginF      HdrFlags = 1 << HdrOrigin
	HdrConnectionF  HdrFlags = 1 << HdrConnection
	HdrWSockKeyF    HdrFlags = 1 << HdrWSockKey
	HdrWSockProtoF  HdrFlags = 1 << HdrWSockProto
	HdrWSockAcceptF HdrFlags = 1 << HdrWSockAccept
	HdrWSockVerF    HdrFlags = 1 << HdrWSockVer
	HdrWSockExtF    HdrFlags = 1 << HdrWSockExt
	HdrOtherF       HdrFlags = 1 << HdrOther
)

// pretty names for debugging and error reporting
var hdrTStr = [...]string{
	HdrNone:        "nil",
	HdrCLen:        "Content-Length",
	HdrTrEncoding:  "Transfer-Encoding",
	HdrUpgrade:     "Upgrade",
	HdrCEncoding:   "Content-Encoding",
	HdrCType:       "Content-Type",
	HdrHost:        "Host",
	HdrServer:      "Server",
	HdrOrigin:      "Origin",
	HdrConnection:  "Connection",
	HdrWSockKey:    "Sec-WebSocket-Key",
	HdrWSockProto:  "Sec-WebSocket-Protocol",
	HdrWSockAccept: "Sec-WebSocket-Accept",
	HdrWSockVer:    "Sec-WebSocket-Version",
	HdrWSockExt:    "Sec-WebSocket-Extensions",
	HdrOther:       "Generic",
}

// String implements the Stringer interface.
func (t HdrT) String() string {
	if int(t) >= len(hdrTStr) || int(t) < 0 {
		return "invalid"
	}
	return hdrTStr[t]
}

// associates header name (as byte slice) to HdrT header type
type hdr2Type struct {
	n []byte
	t HdrT
}

// list of header-name <-> header type correspondence
// (always use lowercase)
var hdrName2Type = [...]hdr2Type{
	{n: []byte("content-length"), t: HdrCLen},
	{n: []byte("transfer-encoding"), t: HdrTrEncoding},
	{n: []byte("upgrade"), t: HdrUpgrade},
	{n: []byte("content-encoding"), t: HdrCEncoding},
	{n: []byte("content-type"), t: HdrCType},
	{n: []byte("host"), t: HdrHost},
	{n: []byte("server"), t: HdrServer},
	{n: []byte("connection"), t: HdrConnection},
	{n: []byte("sec-websocket-key"), t: HdrWSockKey},
	{n: []byte("sec-websocket-protocol"), t: HdrWSockProto},
	{n: []byte("sec-websocket-accept"), t: HdrWSockAccept},
	{n: []byte("sec-websocket-version"), t: HdrWSockVer},
	{n: []byte("sec-websocket-extensions"), t: HdrWSockExt},
	{n: []byte("origin"), t: HdrOrigin},
}

const (
	hnBitsLen   uint = 2 // after changing this re-run testing
	hnBitsFChar uint = 5
)

var hdrNameLookup [1 << (hnBitsLen + hnBitsFChar)][]hdr2Type

func hashHdrName(n []byte) int {
	// simple hash:  1stchar & mC | (len &mL<< bitsFChar)
	const (
		mC = (1 << hnBitsFChar) - 1
		mL = (1 << hnBitsLen) - 1
	)
	return (int(bytescase.ByteToLower(n[0])) & mC) |
		((len(n) & mL) << hnBitsFChar)
}

func init() {
	for _, h := range hdrName2Type {
		i := hashHdrName(h.n)
		hdrNameLookup[i] = append(hdrNameLookup[i], h)
	}
}

// GetHdrType returns the corresponding HdrT type for a given header name.
// The header name should not contain any leading or ending white space.
func GetHdrType(name []byte) HdrT {
	if len(name) == 0 {
		return HdrOther
	}
	i := hashHdrName(name)
	for _, h := range hdrNameLookup[i] {
		if bytescase.CmpEq(name, h.n) {
			return h.t
		}
	}
	return HdrOther
}

// HdrRecFlags packs the per-header anomaly bits: folded, repeated,
// NUL-byte-seen, unparseable, invalid.
type HdrRecFlags uint8

const (
	HdrRecFoldedF HdrRecFlags = 1 << iota
	HdrRecRepeatedF
	HdrRecNulByteF
	HdrRecUnparseableF
	HdrRecInvalidF
)

// Hdr contains a partial or fully parsed header.
type Hdr struct {
	Type  HdrT
	Name  Field
	Val   Field
	Flags HdrRecFlags
	HdrIState
}

// Reset re-initializes the parsing state and the parsed values.
func (h *Hdr) Reset() {
	*h = Hdr{}
}

// Missing returns true if the header is empty (not parsed).
func (h *Hdr) Missing() bool {
	return h.Type == HdrNone
}

// HdrIState contains internal header parsing state.
type HdrIState struct {
	state uint8
}

// HdrLst groups a list of parsed headers.
type HdrLst struct {
	PFlags   HdrFlags    // parsed headers as flags, by recognized type
	N        int         // total numbers of headers found (can be > len(Hdrs))
	Hdrs     []Hdr       // all parsed headers, that fit in the slice
	Repeated HdrFlags    // recognized types seen more than once
	h        [int(HdrOther) - 1]Hdr
	HdrLstIState
}

// HdrLstIState contains internal HdrLst parsing state.
type HdrLstIState struct {
	hdr Hdr // tmp. header used for saving the state
}

// Reset re-initializes the parsing state and values.
func (hl *HdrLst) Reset() {
	hdrs := hl.Hdrs
	*hl = HdrLst{}
	for i := 0; i < len(hdrs); i++ {
		hdrs[i].Reset()
	}
	hl.Hdrs = hdrs
}

// GetHdr returns the first parsed header of the requested type.
// If no corresponding header was parsed it returns an empty Hdr (Missing()
// is true); it returns nil only for HdrNone and HdrOther.
func (hl *HdrLst) GetHdr(t HdrT) *Hdr {
	if t > HdrNone && t < HdrOther {
		return &hl.h[int(t)-1] // no value for HdrNone or HdrOther
	}
	return nil
}

// SetHdr records a newly parsed header in the internal "first header of
// this type" shortcut table (see GetHdr). If a header of the same
// recognized type was already recorded, the new one is still accepted
// (callers rely on GetHdr returning the first occurrence) but the type
// is marked Repeated.
func (hl *HdrLst) SetHdr(newhdr *Hdr) bool {
	i := int(newhdr.Type) - 1
	if i >= 0 && i < len(hl.h) {
		if !hl.h[i].Missing() {
			hl.Repeated.Set(newhdr.Type)
			newhdr.Flags |= HdrRecRepeatedF
			return false
		}
		hl.h[i] = *newhdr
		return true
	}
	return false
}

// PHBodies defines an interface for getting pointers to parsed bodies structs.
type PHBodies interface {
	GetCLen() *PUIntBody
	Reset()
}

// PHdrVals holds all the header specific parsed values structures.
// (implements PHBodies)
type PHdrVals struct {
	CLen PUIntBody
}

// Reset re-initializes all the parsed values.
func (hv *PHdrVals) Reset() {
	hv.CLen.Reset()
}

// GetCLen returns a pointer to the parsed content-length body.
// It implements the PHBodies interface.
func (hv *PHdrVals) GetCLen() *PUIntBody {
	return &hv.CLen
}

// ParseHdrLine parses a header from a HTTP message.
// The parameters are: a message buffer, the offset in the buffer where the
// parsing should start (or continue), a pointer to a Hdr structure that will
// be filled and a PHBodies interface (defining methods to obtain pointers to
// header-specific parsed-value structures, e.g. Content-Length, that will be
// filled if the corresponding header is found).
// It returns a new offset, pointing immediately after the end of the header
// (it could point to len(buf) if the header and the end of the buffer
// coincide) and an error. If the header is not fully contained in
// buf[offs:] ErrHdrMoreBytes will be returned and this function can be called
// again when more bytes are available, with the same buffer, the returned
// offset ("continue point") and the same Hdr structure.
// Another special error value is ErrHdrEmpty. It is returned if the header
// is empty (CR LF). If previous headers were parsed, this means the end of
// headers was encountered. The offset returned is after the CRLF.
// A parse failure (missing colon, empty name or a non-token byte inside the
// name) sets HdrRecUnparseableF on h and returns ErrHdrBadChar; the caller
// (ParseHeaders) resyncs on the next line rather than treating this as
// fatal, per the parser's permissive design. LWS between the name and the
// colon also sets HdrRecUnparseableF, but the header is still parsed.
func ParseHdrLine(buf []byte, offs int, h *Hdr, hb PHBodies) (int, ErrorHdr) {
	// grammar:  Name SP* : LWS* val LWS* CRLF
	const (
		hInit uint8 = iota
		hName
		hNameEnd
		hBodyStart
		hVal
		hValEnd
		hCLen
		hFIN
	)

	parseBody := func(buf []byte, o int, h *Hdr, hb PHBodies) (int, ErrorHdr) {
		var err ErrorHdr
		n := o
		if hb != nil && h.Type == HdrCLen {
			if clenb := hb.GetCLen(); clenb != nil && !clenb.Parsed() {
				h.state = hCLen
				n, err = ParseCLenVal(buf, o, clenb)
				if err == 0 {
					h.Val = clenb.SVal
				}
			}
		}
		return n, err
	}

	var crl int
	i := offs
	for i < len(buf) {
		switch h.state {
		case hInit:
			if (len(buf) - i) < 1 {
				goto moreBytes
			}
			if buf[i] == '\r' {
				if (len(buf) - i) < 2 {
					goto moreBytes
				}
				h.state = hFIN
				if buf[i+1] == '\n' {
					return i + 2, ErrHdrEmpty
				}
				return i + 1, ErrHdrEmpty // single CR
			} else if buf[i] == '\n' {
				h.state = hFIN
				return i + 1, ErrHdrEmpty
			}
			h.state = hName
			h.Name.Set(i, i)
			fallthrough
		case hName:
			i = skipTokenDelim(buf, i, ':')
			if i >= len(buf) {
				goto moreBytes
			}
			if buf[i] == ' ' || buf[i] == '\t' {
				h.state = hNameEnd
				h.Name.Extend(i)
				if h.Name.Empty() {
					goto errEmptyTok
				}
				h.Flags |= HdrRecUnparseableF // LWS before the colon
				i++
			} else if buf[i] == ':' {
				h.state = hBodyStart
				h.Name.Extend(i)
				if h.Name.Empty() {
					goto errEmptyTok
				}
				h.Type = GetHdrType(h.Name.Get(buf))
				i++
				n, err := parseBody(buf, i, h, hb)
				if h.state != hBodyStart {
					if err == 0 {
						h.state = hFIN
					}
					return n, err
				}
			} else {
				goto errBadChar
			}
		case hNameEnd:
			i = skipWS(buf, i)
			if i >= len(buf) {
				goto moreBytes
			}
			if buf[i] == ':' {
				h.state = hBodyStart
				h.Type = GetHdrType(h.Name.Get(buf))
				i++
				n, err := parseBody(buf, i, h, hb)
				if h.state != hBodyStart {
					if err == 0 {
						h.state = hFIN
					}
					return n, err
				}
			} else {
				goto errBadChar
			}
		case hBodyStart:
			var err ErrorHdr
			foldStart := i < len(buf) && (buf[i] == '\r' || buf[i] == '\n')
			i, crl, err = skipLWS(buf, i, 0)
			if foldStart && err == 0 {
				h.Flags |= HdrRecFoldedF
			}
			switch err {
			case 0:
				h.state = hVal
				h.Val.Set(i, i)
				crl = 0
			case ErrHdrEOH:
				goto endOfHdr
			case ErrHdrMoreBytes:
				fallthrough
			default:
				return i, err
			}
			i++
		case hVal:
			i = skipToken(buf, i)
			if i >= len(buf) {
				goto moreBytes
			}
			h.Val.Extend(i)
			if hasNUL(h.Val.Get(buf)) {
				h.Flags |= HdrRecNulByteF
			}
			h.state = hValEnd
			fallthrough
		case hValEnd:
			var err ErrorHdr
			foldStart := i < len(buf) && (buf[i] == '\r' || buf[i] == '\n')
			i, crl, err = skipLWS(buf, i, 0)
			if foldStart && err == 0 {
				h.Flags |= HdrRecFoldedF
			}
			switch err {
			case 0:
				h.state = hVal
				crl = 0
			case ErrHdrEOH:
				goto endOfHdr
			case ErrHdrMoreBytes:
				fallthrough
			default:
				return i, err
			}
			i++
		case hCLen: // continue content-length parsing
			clenb := hb.GetCLen()
			n, err := ParseCLenVal(buf, i, clenb)
			if err == 0 {
				h.Val = clenb.SVal
				h.state = hFIN
			}
			return n, err
		default: // unexpected state
			return i, ErrHdrBug
		}
	}
moreBytes:
	return i, ErrHdrMoreBytes
endOfHdr:
	h.state = hFIN
	return i + crl, 0
errBadChar:
errEmptyTok:
	h.Flags |= HdrRecUnparseableF
	return i, ErrHdrBadChar
}

func hasNUL(buf []byte) bool {
	for _, c := range buf {
		if c == 0 {
			return true
		}
	}
	return false
}

// ParseHeaders parses all the headers till end of header marker (double CRLF).
// It returns an offset after parsed headers and no error (0) on success.
// Special error values: ErrHdrMoreBytes - more data needed, call again
//
//	with returned offset and same headers struct.
//	ErrHdrEmpty - no headers (empty line found first)
//
// A header line that fails to parse does not abort the whole block: it is
// flagged HdrRecUnparseableF on a synthetic Hdr, the input is resynced to
// the next line, and parsing continues.
// See also ParseHdrLine().
func ParseHeaders(buf []byte, offs int, hl *HdrLst, hb PHBodies) (int, ErrorHdr) {
	i := offs
	for i < len(buf) {
		var h *Hdr
		if hl.N < len(hl.Hdrs) {
			h = &hl.Hdrs[hl.N]
		} else {
			h = &hl.hdr
		}
		n, err := ParseHdrLine(buf, i, h, hb)
		switch err {
		case 0:
			hl.PFlags.Set(h.Type)
			hl.SetHdr(h)
			if h == &hl.hdr {
				hl.hdr.Reset()
			}
			i = n
			hl.N++
			continue
		case ErrHdrEmpty:
			if hl.N > 0 {
				return n, 0
			}
			return n, err
		case ErrHdrBadChar:
			// permissive resync: skip to the next line and keep going,
			// recording the unparseable header (already flagged by
			// ParseHdrLine) if it fits in the slice.
			m, _, lerr := skipLine(buf, n)
			if lerr != 0 {
				return n, ErrHdrMoreBytes
			}
			if h == &hl.hdr {
				hl.hdr.Reset()
			} else {
				hl.N++
			}
			i = m
			continue
		case ErrHdrMoreBytes:
			fallthrough
		default:
			return n, err
		}
	}
	return i, ErrHdrMoreBytes
}
