// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"github.com/intuitivelabs/htpscan/config"
)

// reqState is the request-side state machine's current step.
type reqState uint8

const (
	rIdle reqState = iota
	rLine
	rHeaders
	rBodyDetermine
	rChunkedLength
	rChunkedData
	rChunkedDataEnd
	rIdentity
	rConnectCheck
	rTunnel
)

// ReqDirection is the inbound (client->server) half of a Connection.
type ReqDirection struct {
	Status DirStatus
	state  reqState
	buf    []byte // bytes not yet fully consumed, from the last compaction point
	pos    int    // cursor into buf: [0,pos) consumed, [pos,len(buf)) pending

	tx     *Transaction // transaction currently being parsed, nil between bodies
	prevTx *Transaction // completed transaction awaiting its REQUEST_COMPLETE hook

	chunk ChunkVal
}

// ReqData appends newly arrived bytes and runs the state machine until it
// can't make further progress without more input (or it hits a
// suspend/stop/error/tunnel condition).
func (c *Connection) ReqData(data []byte) Result {
	d := &c.In
	if c.Connect.Tunneling() {
		d.Status = DirTunnel
		return ResTunnel
	}
	if d.Status == DirStop {
		return ResStop
	}
	if d.Status == DirError {
		return ResError
	}
	d.buf = append(d.buf, data...)
	d.Status = DirData

	var res Result
	for {
		res = c.reqStep(d)
		if res != ResOk {
			break
		}
	}

	// compact: drop the consumed prefix so buf doesn't grow unbounded
	// across calls.
	if d.pos > 0 {
		d.buf = append(d.buf[:0], d.buf[d.pos:]...)
		d.pos = 0
	}

	switch res {
	case ResSuspend:
		d.Status = DirSuspend
		return ResSuspend
	case ResNeedMore:
		if d.Status != DirError {
			d.Status = DirOpen
		}
		return ResNeedMore
	default:
		return res
	}
}

// reqStep runs exactly one state transition's worth of work.
func (c *Connection) reqStep(d *ReqDirection) Result {
	switch d.state {
	case rIdle:
		return c.reqIdle(d)
	case rLine:
		return c.reqLine(d)
	case rHeaders:
		return c.reqHeaders(d)
	case rBodyDetermine:
		return c.reqBodyDetermine(d)
	case rChunkedLength:
		return c.reqChunkedLength(d)
	case rChunkedData:
		return c.reqChunkedData(d)
	case rChunkedDataEnd:
		return c.reqChunkedDataEnd(d)
	case rIdentity:
		return c.reqIdentity(d)
	case rConnectCheck:
		return c.reqConnectCheck(d)
	case rTunnel:
		return ResTunnel
	default:
		d.Status = DirError
		return ResError
	}
}

func (c *Connection) reqIdle(d *ReqDirection) Result {
	if d.prevTx != nil {
		callTx(c.Hooks.RequestComplete, d.prevTx)
		d.prevTx.Progress = ProgDone
		d.prevTx = nil
	}
	if d.pos >= len(d.buf) {
		return ResNeedMore
	}
	tx := &Transaction{Progress: ProgNew}
	tx.init()
	c.Txs = append(c.Txs, tx)
	d.tx = tx
	if callTx(c.Hooks.TransactionStart, tx) == HookError {
		d.Status = DirError
		return ResError
	}
	tx.Progress = ProgReqLine
	d.state = rLine
	return ResOk
}

func (c *Connection) reqLine(d *ReqDirection) Result {
	// empty or LWS-only lines ahead of the request line are skipped
	for {
		j := d.pos
		for j < len(d.buf) && d.buf[j] != '\n' {
			j++
		}
		end := j
		if end > d.pos && d.buf[end-1] == '\r' {
			end--
		}
		if j >= len(d.buf) || !isLineIgnorable(d.buf[d.pos:end]) {
			break
		}
		d.pos = j + 1
	}
	n, err := parseRequestLine(d.buf, d.pos, &d.tx.ReqLine)
	if err == ErrHdrMoreBytes {
		if len(d.buf)-d.pos > c.fieldLimit() {
			d.Status = DirError
			return ResError
		}
		// parsed again from d.pos, with fresh state, once more bytes arrive
		d.tx.ReqLine.Reset()
		return ResNeedMore
	}
	if err.Fatal() {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	tx := d.tx
	tx.IsConnect = tx.ReqLine.MethodNo == MConnect
	if callTx(c.Hooks.RequestLine, tx) == HookError {
		d.Status = DirError
		return ResError
	}

	ParseURI(d.buf, int(tx.ReqLine.URI.Offs), tx.ReqLine.URI.EndOffs(), &tx.ReqURI)
	if tx.IsConnect {
		// a CONNECT target is authority-form: host[:port]
		tx.ReqURI.Reset()
		parseAuthority(d.buf, int(tx.ReqLine.URI.Offs), tx.ReqLine.URI.EndOffs(), &tx.ReqURI)
	}
	normalizeRequestURI(d.buf, tx, c.Config)
	if callTx(c.Hooks.RequestURINormalize, tx) == HookError {
		d.Status = DirError
		return ResError
	}

	if tx.ReqLine.HTTP09 {
		tx.Progress = ProgWait
		d.prevTx = tx
		d.tx = nil
		d.state = rIdle
		return ResOk
	}
	d.state = rHeaders
	return ResOk
}

func (c *Connection) reqHeaders(d *ReqDirection) Result {
	tx := d.tx
	n, err := ParseHeaders(d.buf, d.pos, &tx.ReqHdrs, &tx.ReqHdrVals)
	if err == ErrHdrMoreBytes {
		if len(d.buf)-d.pos > c.fieldLimit() {
			d.Status = DirError
			return ResError
		}
		// parsed again from d.pos, with fresh state, once more bytes arrive
		tx.ReqHdrs.Reset()
		tx.ReqHdrVals.Reset()
		return ResNeedMore
	}
	if err != ErrHdrOk && err != ErrHdrEmpty {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	aggregateHdrFlags(&tx.Flags, &tx.ReqHdrs)
	parseUpgradeRelatedHeaders(d.buf, &tx.ReqHdrs, &tx.ReqUpgrade, &tx.ReqWSProto, &tx.ReqWSExt)
	tx.Progress = ProgReqHeaders
	if callTx(c.Hooks.RequestHeaders, tx) == HookError {
		d.Status = DirError
		return ResError
	}
	d.state = rBodyDetermine
	return ResOk
}

func (c *Connection) reqBodyDetermine(d *ReqDirection) Result {
	tx := d.tx
	determineReqBody(d.buf, tx)
	reconcileHost(d.buf, tx)
	c.startReqMultipart(d.buf, tx)

	if tx.IsConnect {
		if tx.ReqURI.PortNo != 0 && c.LocalPort != 0 && tx.ReqURI.PortNo != c.LocalPort {
			c.Hooks.logf(LogWarn, 0, "request_fsm.go:BodyDetermine",
				"CONNECT authority port does not match the connection's local port")
		}
		d.state = rConnectCheck
		return ResOk
	}
	switch tx.ReqTrCoding {
	case TrChunked:
		d.chunk.TrailerHdrs.Hdrs = tx.reqTrailer[:]
		d.state = rChunkedLength
	case TrIdentity:
		if tx.ReqBodyRemain == 0 {
			c.finishReqBody(d)
		} else {
			d.state = rIdentity
		}
	default:
		c.finishReqBody(d)
	}
	return ResOk
}

// multipartPrefix is the loose "is this even a multipart Content-Type"
// check: FindMultipartBoundary does the strict "multipart/form-data;"
// match and flags anything narrower (e.g. "multipart/mixed", or
// "multipart/form-data" with no trailing ';') as INVALID. Requests with
// an unrelated Content-Type (the overwhelming majority) never reach that
// stricter check at all.
var multipartPrefix = []byte("multipart/")

// startReqMultipart recognizes a multipart Content-Type and, if a usable
// boundary is found, starts a streaming boundary scanner for the request
// body.
func (c *Connection) startReqMultipart(buf []byte, tx *Transaction) {
	ctHdr := tx.ReqHdrs.GetHdr(HdrCType)
	if ctHdr == nil || ctHdr.Missing() {
		return
	}
	ct := ctHdr.Val.Get(buf)
	if len(ct) < len(multipartPrefix) || !bytesEqualFold(ct[:len(multipartPrefix)], multipartPrefix) {
		return
	}
	boundary, flags := FindMultipartBoundary(ct)
	tx.Flags.Set(flags)
	if boundary == nil {
		return
	}
	tx.multipart = newMultipartScanner(boundary, &tx.Flags)
}

// deliverReqBody forwards a just-received request body slice to
// RequestBodyData verbatim, and, for a multipart/form-data request, also
// runs it through the boundary scanner so each part's payload reaches
// RequestFileData without the delimiter lines themselves.
func (c *Connection) deliverReqBody(tx *Transaction, chunk []byte, last bool) HookResult {
	if tx.multipart != nil {
		res := HookOk
		tx.multipart.feed(chunk, func(b []byte, partLast bool) {
			if res == HookError {
				return
			}
			res = callData(c.Hooks.RequestFileData, DataEvent{Tx: tx, Bytes: b, IsLast: partLast})
		})
		if res == HookError {
			return HookError
		}
	}
	return callData(c.Hooks.RequestBodyData, DataEvent{Tx: tx, Bytes: chunk, IsLast: last})
}

func (c *Connection) reqConnectCheck(d *ReqDirection) Result {
	if c.Connect.State == ConnNone {
		c.Connect.Begin(len(c.Txs) - 1)
	}
	if c.Connect.Tunneling() {
		d.Status = DirTunnel
		d.state = rTunnel
		return ResTunnel
	}
	// the response side matches transactions by Progress >= ProgWait;
	// a CONNECT request never reaches finishReqBody (its body framing is
	// decided by the response), so this is the only place that advances it.
	d.tx.Progress = ProgWait
	d.Status = DirSuspend
	return ResSuspend
}

func (c *Connection) reqChunkedLength(d *ReqDirection) Result {
	tx := d.tx
	n, size, err := ParseChunk(d.buf, d.pos, &d.chunk)
	if err == ErrHdrMoreBytes {
		if len(d.buf)-d.pos > c.fieldLimit() {
			d.Status = DirError
			return ResError
		}
		// parsed again from d.pos, with fresh state, once more bytes arrive
		d.chunk.Reset()
		return ResNeedMore
	}
	if err.Fatal() {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	if size == 0 {
		tx.ReqTrailer = d.chunk.TrailerHdrs
		if callTx(c.Hooks.RequestTrailer, tx) == HookError {
			d.Status = DirError
			return ResError
		}
		end := n + 2
		if end > len(d.buf) {
			d.pos = n
			return ResNeedMore
		}
		d.pos = end
		d.chunk.Reset()
		c.finishReqBody(d)
		return ResOk
	}
	tx.ReqBodyRemain = size
	d.chunk.Reset()
	d.state = rChunkedData
	return ResOk
}

func (c *Connection) reqChunkedData(d *ReqDirection) Result {
	tx := d.tx
	avail := len(d.buf) - d.pos
	if avail == 0 {
		return ResNeedMore
	}
	n := int64(avail)
	if n > tx.ReqBodyRemain {
		n = tx.ReqBodyRemain
	}
	chunk := d.buf[d.pos : d.pos+int(n)]
	tx.ReqEntityLen += n
	tx.ReqBodyRemain -= n
	d.pos += int(n)
	last := tx.ReqBodyRemain == 0
	if c.deliverReqBody(tx, chunk, last) == HookError {
		d.Status = DirError
		return ResError
	}
	if last {
		d.state = rChunkedDataEnd
	}
	return ResOk
}

func (c *Connection) reqChunkedDataEnd(d *ReqDirection) Result {
	n, _, err := skipCRLF(d.buf, d.pos)
	if err == ErrHdrMoreBytes {
		return ResNeedMore
	}
	if err.Fatal() {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	d.state = rChunkedLength
	return ResOk
}

func (c *Connection) reqIdentity(d *ReqDirection) Result {
	tx := d.tx
	avail := len(d.buf) - d.pos
	if avail == 0 {
		return ResNeedMore
	}
	n := int64(avail)
	if n > tx.ReqBodyRemain {
		n = tx.ReqBodyRemain
	}
	chunk := d.buf[d.pos : d.pos+int(n)]
	tx.ReqEntityLen += n
	tx.ReqBodyRemain -= n
	d.pos += int(n)
	last := tx.ReqBodyRemain == 0
	if c.deliverReqBody(tx, chunk, last) == HookError {
		d.Status = DirError
		return ResError
	}
	if last {
		c.finishReqBody(d)
	}
	return ResOk
}

// finishReqBody marks the current request transaction as waiting for its
// response and returns the direction to IDLE; REQUEST_COMPLETE fires the
// next time IDLE actually runs, not here (mirrors the "idle hook on
// re-entry" rule).
func (c *Connection) finishReqBody(d *ReqDirection) {
	d.tx.Progress = ProgWait
	d.prevTx = d.tx
	d.tx = nil
	d.state = rIdle
}

// aggregateHdrFlags rolls per-header HdrRecFlags bits up into the
// transaction-level TxFlags.
func aggregateHdrFlags(flags *TxFlags, hl *HdrLst) {
	n := hl.N
	if n > len(hl.Hdrs) {
		n = len(hl.Hdrs)
	}
	for i := 0; i < n; i++ {
		h := &hl.Hdrs[i]
		if h.Flags&HdrRecFoldedF != 0 {
			flags.Set(FlagFieldFolded)
		}
		if h.Flags&HdrRecRepeatedF != 0 {
			flags.Set(FlagFieldRepeated)
		}
		if h.Flags&HdrRecNulByteF != 0 {
			flags.Set(FlagFieldNulByte)
		}
		if h.Flags&HdrRecUnparseableF != 0 {
			flags.Set(FlagFieldUnparseable)
		}
		if h.Flags&HdrRecInvalidF != 0 {
			flags.Set(FlagFieldInvalid)
		}
	}
}

// determineReqBody implements BODY_DETERMINE's Transfer-Encoding/
// Content-Length precedence.
func determineReqBody(buf []byte, tx *Transaction) {
	teHdr := tx.ReqHdrs.GetHdr(HdrTrEncoding)
	clHdr := tx.ReqHdrs.GetHdr(HdrCLen)

	if teHdr != nil && !teHdr.Missing() {
		var te PTrEnc
		ParseAllTrEncValues(buf, int(teHdr.Val.Offs), &te)
		if te.Encodings&TrEncChunkedF != 0 {
			if clHdr != nil && !clHdr.Missing() {
				tx.Flags.Set(FlagRequestSmuggling)
			}
			if !protoAtLeast11(tx.ReqLine.Version.Get(buf)) {
				tx.Flags.Set(FlagInvalidChunking)
			}
			tx.ReqTrCoding = TrChunked
			return
		}
	}
	if clHdr != nil && !clHdr.Missing() {
		if clHdr.Flags&(HdrRecFoldedF|HdrRecRepeatedF) != 0 {
			tx.Flags.Set(FlagRequestSmuggling)
		}
		if tx.ReqHdrVals.CLen.Parsed() {
			tx.ReqBodyRemain = int64(tx.ReqHdrVals.CLen.Val)
			if tx.ReqBodyRemain == 0 {
				tx.ReqTrCoding = TrNoBody
				return
			}
			tx.ReqTrCoding = TrIdentity
			return
		}
	}
	tx.ReqTrCoding = TrNoBody
}

// normalizeRequestURI decodes the path, removes dot segments and validates
// UTF-8, storing the path on tx.ReqPathNorm and folding any raised
// anomalies into tx.Flags. tx.ReqURINorm is a plain copy of tx.ReqURI:
// the hostname is not lowercased and a trailing dot is not removed. All the decoding knobs (DECODE_UENCODING, backslash
// separators, invalid-escape handling, ...) come from cfg, so a
// Connection's Config is what actually controls this, not a hardcoded
// default.
func normalizeRequestURI(buf []byte, tx *Transaction, cfg *config.Config) {
	if cfg == nil {
		cfg = config.Default()
	}
	tx.ReqURINorm = tx.ReqURI
	opts := DecodePathOpts{
		DecodeUEncoding:    cfg.DecodeUEncoding,
		BackslashSeparator: cfg.BackslashSeparator,
		CompressSeparators: cfg.CompressSeparators,
		CaseInsensitive:    cfg.CaseInsensitivePath,
		InvalidEncoding:    cfg.InvalidEncoding,
		BestFitReplacement: cfg.BestFitReplacement,
	}
	decoded, pflags := DecodePath(tx.ReqURI.Path.Get(buf), opts)
	tx.Flags.Set(pflags)
	utf8flags := ValidatePathUTF8(decoded)
	tx.Flags.Set(utf8flags)
	tx.ReqPathNorm = RemoveDotSegments(decoded)
	if len(tx.ReqPathNorm) == 0 {
		tx.ReqPathNorm = []byte("/")
	}
}

// reconcileHost implements the AMBIGUOUS_HOST/HOST_MISSING checks:
// compare the URI's authority hostname (if any) against the Host header,
// and require a Host header on HTTP/1.1.
func reconcileHost(buf []byte, tx *Transaction) {
	hostHdr := tx.ReqHdrs.GetHdr(HdrHost)
	haveHost := hostHdr != nil && !hostHdr.Missing()
	if !haveHost {
		if protoAtLeast11(tx.ReqLine.Version.Get(buf)) {
			tx.Flags.Set(FlagHostMissing)
		}
		return
	}
	if tx.ReqURI.Host.Empty() {
		return
	}
	uriHost := NormalizeHostname(tx.ReqURI.Host.Get(buf))
	hdrHostRaw := hostHdr.Val.Get(buf)
	// split off a port from the Host header value, if any, before comparing.
	colon := -1
	for i, c := range hdrHostRaw {
		if c == ':' {
			colon = i
			break
		}
	}
	if colon >= 0 {
		hdrHostRaw = hdrHostRaw[:colon]
	}
	hdrHost := NormalizeHostname(hdrHostRaw)
	if !bytesEqualFold(uriHost, hdrHost) {
		tx.Flags.Set(FlagAmbiguousHost)
	}
}

func bytesEqualFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
