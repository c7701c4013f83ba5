// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

// TxProgress is a transaction's position in the request/response
// lifecycle.
type TxProgress uint8

const (
	ProgNew TxProgress = iota
	ProgReqLine
	ProgReqHeaders
	ProgReqBody
	ProgReqTrailer
	ProgWait
	ProgResLine
	ProgResHeaders
	ProgResBody
	ProgResTrailer
	ProgDone
)

func (p TxProgress) String() string {
	switch p {
	case ProgNew:
		return "NEW"
	case ProgReqLine:
		return "REQ_LINE"
	case ProgReqHeaders:
		return "REQ_HEADERS"
	case ProgReqBody:
		return "REQ_BODY"
	case ProgReqTrailer:
		return "REQ_TRAILER"
	case ProgWait:
		return "WAIT"
	case ProgResLine:
		return "RES_LINE"
	case ProgResHeaders:
		return "RES_HEADERS"
	case ProgResBody:
		return "RES_BODY"
	case ProgResTrailer:
		return "RES_TRAILER"
	case ProgDone:
		return "DONE"
	default:
		return "invalid"
	}
}

// TrCoding is the body framing mode chosen for one side of a transaction.
type TrCoding uint8

const (
	TrNone TrCoding = iota
	TrIdentity
	TrChunked
	TrNoBody
	// TrIdentityStreamClose is response-only: identity framing whose
	// length is only known when the connection closes.
	TrIdentityStreamClose
)

// Transaction is one request matched with its response, accumulated as
// the connection parser progresses. Owned by the Connection's Txs list
// for its whole lifetime (append-only; never removed until the
// Connection itself is discarded).
type Transaction struct {
	Progress TxProgress
	Flags    TxFlags

	// Request side.
	ReqLine       PFLine
	ReqURI        URI    // raw split of the request-target
	ReqURINorm    URI    // copy of ReqURI; the normalized path is ReqPathNorm
	ReqPathNorm   []byte // decoded + dot-segment-collapsed path
	ReqHdrs       HdrLst
	ReqHdrVals    PHdrVals
	ReqTrCoding   TrCoding
	ReqMsgLen     int64
	ReqEntityLen  int64
	ReqTrailer    HdrLst
	ReqBodyRemain int64 // bytes still expected for the current body/chunk

	// Response side.
	ResLine          PFLine
	ResHdrs          HdrLst
	ResHdrVals       PHdrVals
	ResTrCoding      TrCoding
	ResMsgLen        int64
	ResEntityLen     int64
	ResTrailer       HdrLst
	ResBodyRemain    int64
	Seen100Continue  int
	ResembleDeclined bool // response stream didn't look like "HTTP..."

	// CONNECT bookkeeping.
	IsConnect bool

	// Upgrade/WebSocket negotiation bookkeeping: populated whenever the
	// corresponding header is present on either side, not just on a 101
	// response, so a caller inspecting a stalled or declined upgrade
	// attempt still sees what was offered/accepted.
	ReqUpgrade PUpgrade
	ResUpgrade PUpgrade
	ReqWSProto PWSProto
	ResWSProto PWSProto
	ReqWSExt   PWSExt
	ResWSExt   PWSExt

	// Backing arrays for the header lists above, so a freshly allocated
	// Transaction records real per-header flags (folded, repeated, ...)
	// instead of routing every header through HdrLst's single scratch
	// slot. Sized generously for ordinary messages; anything past this
	// still parses correctly, it just isn't individually retained (the
	// "first header of each recognized type" shortcut table in HdrLst
	// is unaffected either way).
	reqHdrs    [32]Hdr
	resHdrs    [32]Hdr
	reqTrailer [8]Hdr
	resTrailer [8]Hdr

	// Backing arrays for the Upgrade/WebSocket value lists above.
	reqUpgradeVals [4]UpgProtoVal
	resUpgradeVals [4]UpgProtoVal
	reqWSProtoVals [4]WSProtoVal
	resWSProtoVals [4]WSProtoVal
	reqWSExtVals   [4]WSExtVal
	resWSExtVals   [4]WSExtVal

	// decomp is non-nil once a recognized Content-Encoding has started a
	// decompressor chain for this transaction's response body.
	decomp *decompChain

	// multipart is non-nil once a multipart/form-data boundary has been
	// recognized on the request body.
	multipart *multipartScanner
}

// Reset re-initializes a Transaction so the backing struct can be reused
// for the next request/response pair on the same connection (Connection
// never shrinks Txs, but a pooled-Transaction caller may want this).
func (tx *Transaction) Reset() {
	*tx = Transaction{}
}

// init wires up the header-list backing arrays. Called once right after
// a Transaction is allocated, following the same Init(msg, hdrs) idiom
// PMsg uses to back its own header lists.
func (tx *Transaction) init() {
	tx.ReqHdrs.Hdrs = tx.reqHdrs[:]
	tx.ResHdrs.Hdrs = tx.resHdrs[:]
	tx.ReqTrailer.Hdrs = tx.reqTrailer[:]
	tx.ResTrailer.Hdrs = tx.resTrailer[:]

	tx.ReqUpgrade.Init(tx.reqUpgradeVals[:])
	tx.ResUpgrade.Init(tx.resUpgradeVals[:])
	tx.ReqWSProto.Init(tx.reqWSProtoVals[:])
	tx.ResWSProto.Init(tx.resWSProtoVals[:])
	tx.ReqWSExt.Init(tx.reqWSExtVals[:])
	tx.ResWSExt.Init(tx.resWSExtVals[:])
}

// Method returns the numeric request method, or MUndef if the request
// line hasn't been parsed yet.
func (tx *Transaction) Method() HTTPMethod {
	return tx.ReqLine.MethodNo
}

// protoAtLeast11 parses a raw "HTTP/x.y" token and reports whether it is
// 1.1 or newer. Anything unparseable is treated as pre-1.1 (so the
// permissive default is to warn rather than silently accept).
func protoAtLeast11(tok []byte) bool {
	const pfx = "HTTP/"
	if len(tok) < len(pfx)+3 {
		return false
	}
	for i := 0; i < len(pfx); i++ {
		c := tok[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != pfx[i] {
			return false
		}
	}
	rest := tok[len(pfx):]
	dot := -1
	for i, c := range rest {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return false
	}
	major, ok1 := decToU(rest[:dot])
	minor, ok2 := decToU(rest[dot+1:])
	if !ok1 || !ok2 {
		return false
	}
	return major > 1 || (major == 1 && minor >= 1)
}
