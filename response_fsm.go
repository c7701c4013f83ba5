// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"github.com/intuitivelabs/bytescase"
)

// resState is the response-side state machine's current step.
type resState uint8

const (
	rsIdle resState = iota
	rsLine
	rsHeaders
	rsBodyDetermine
	rsChunkedLength
	rsChunkedData
	rsChunkedDataEnd
	rsIdentityCLKnown
	rsIdentityStreamClose
	rsNoBody
	rsTunnel
	// rsInterimHeaders consumes the (possibly empty) header block that
	// terminates a 100 Continue interim response, e.g. the blank line after
	// "HTTP/1.1 100 Continue", before control returns to rsLine for the
	// real final status line. Other 1xx status lines are not routed here:
	// they go through rsHeaders like a final response.
	rsInterimHeaders
)

// ResDirection is the outbound (server->client) half of a Connection.
type ResDirection struct {
	Status DirStatus
	state  resState
	buf    []byte
	pos    int

	tx      *Transaction
	prevTx  *Transaction
	nextIdx int // index into Connection.Txs of the next transaction to match

	chunk ChunkVal
}

// ResData feeds newly-arrived server->client bytes into the response
// state machine.
func (c *Connection) ResData(data []byte) Result {
	d := &c.Out
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
		res = c.resStep(d)
		if res != ResOk {
			break
		}
	}

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

func (c *Connection) resStep(d *ResDirection) Result {
	switch d.state {
	case rsIdle:
		return c.resIdle(d)
	case rsLine:
		return c.resLine(d)
	case rsHeaders:
		return c.resHeaders(d)
	case rsInterimHeaders:
		return c.resInterimHeaders(d)
	case rsBodyDetermine:
		return c.resBodyDetermine(d)
	case rsChunkedLength:
		return c.resChunkedLength(d)
	case rsChunkedData:
		return c.resChunkedData(d)
	case rsChunkedDataEnd:
		return c.resChunkedDataEnd(d)
	case rsIdentityCLKnown:
		return c.resIdentityCLKnown(d)
	case rsIdentityStreamClose:
		return c.resIdentityStreamClose(d)
	case rsNoBody:
		return c.resNoBody(d)
	case rsTunnel:
		return ResTunnel
	default:
		d.Status = DirError
		return ResError
	}
}

// resIdle waits for a request transaction to be far enough along
// (ProgWait or later) before starting to parse its matching response.
func (c *Connection) resIdle(d *ResDirection) Result {
	if d.prevTx != nil {
		callTx(c.Hooks.ResponseComplete, d.prevTx)
		d.prevTx = nil
	}
	if d.nextIdx >= len(c.Txs) {
		return ResNeedMore
	}
	tx := c.Txs[d.nextIdx]
	if tx.Progress < ProgWait {
		return ResNeedMore
	}
	d.tx = tx
	d.nextIdx++
	tx.Progress = ProgResLine
	d.state = rsLine
	return ResOk
}

// resLine applies the "resembles a response line" heuristic: only a
// stream that starts with a case-insensitive "HTTP" token is parsed as a
// normal status line. Anything else is treated the way libhtp treats a
// pre-1.0 reply: there is no status line and no headers, the rest of the
// stream (until the connection closes) is the body.
func (c *Connection) resLine(d *ResDirection) Result {
	tx := d.tx
	if tx.ResLine.Empty() {
		if len(d.buf)-d.pos < len(httpVerPref) {
			return ResNeedMore
		}
		_, match := bytescase.Prefix(httpVerPref, d.buf[d.pos:])
		if !match {
			tx.ResembleDeclined = true
			tx.ResTrCoding = TrIdentityStreamClose
			if callTx(c.Hooks.ResponseLine, tx) == HookError {
				d.Status = DirError
				return ResError
			}
			d.state = rsIdentityStreamClose
			return ResOk
		}
	}
	n, err := parseResponseLine(d.buf, d.pos, &tx.ResLine)
	if err == ErrHdrMoreBytes {
		if len(d.buf)-d.pos > c.fieldLimit() {
			d.Status = DirError
			return ResError
		}
		// parsed again from d.pos, with fresh state, once more bytes arrive
		tx.ResLine.Reset()
		return ResNeedMore
	}
	if err.Fatal() {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	if callTx(c.Hooks.ResponseLine, tx) == HookError {
		d.Status = DirError
		return ResError
	}
	if tx.ResLine.Status == 100 {
		// informational: consume the interim header block (even if empty,
		// it still ends in a CRLF that must not be left for rsLine to
		// choke on), then restart LINE on the same transaction for the
		// real status line that follows.
		tx.Seen100Continue++
		d.state = rsInterimHeaders
		return ResOk
	}
	d.state = rsHeaders
	return ResOk
}

// resInterimHeaders consumes and discards a 100-Continue's interim header
// block, then hands back to resLine for the status line that actually
// carries the response.
func (c *Connection) resInterimHeaders(d *ResDirection) Result {
	tx := d.tx
	n, err := ParseHeaders(d.buf, d.pos, &tx.ResHdrs, &tx.ResHdrVals)
	if err == ErrHdrMoreBytes {
		if len(d.buf)-d.pos > c.fieldLimit() {
			d.Status = DirError
			return ResError
		}
		// parsed again from d.pos, with fresh state, once more bytes arrive
		tx.ResHdrs.Reset()
		tx.ResHdrVals.Reset()
		return ResNeedMore
	}
	if err != ErrHdrOk && err != ErrHdrEmpty {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	tx.ResHdrs.Reset()
	tx.ResHdrVals.Reset()
	tx.ResLine.Reset()
	d.state = rsLine
	return ResOk
}

func (c *Connection) resHeaders(d *ResDirection) Result {
	tx := d.tx
	n, err := ParseHeaders(d.buf, d.pos, &tx.ResHdrs, &tx.ResHdrVals)
	if err == ErrHdrMoreBytes {
		if len(d.buf)-d.pos > c.fieldLimit() {
			d.Status = DirError
			return ResError
		}
		// parsed again from d.pos, with fresh state, once more bytes arrive
		tx.ResHdrs.Reset()
		tx.ResHdrVals.Reset()
		return ResNeedMore
	}
	if err != ErrHdrOk && err != ErrHdrEmpty {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	aggregateHdrFlags(&tx.Flags, &tx.ResHdrs)
	parseUpgradeRelatedHeaders(d.buf, &tx.ResHdrs, &tx.ResUpgrade, &tx.ResWSProto, &tx.ResWSExt)
	tx.Progress = ProgResHeaders
	if callTx(c.Hooks.ResponseHeaders, tx) == HookError {
		d.Status = DirError
		return ResError
	}
	d.state = rsBodyDetermine
	return ResOk
}

// resBodyDetermine resolves CONNECT/Upgrade tunnel transitions first,
// then falls back to the ordinary Transfer-Encoding/Content-Length/
// no-body/stream-close precedence.
func (c *Connection) resBodyDetermine(d *ResDirection) Result {
	tx := d.tx
	status := tx.ResLine.Status

	if tx.IsConnect && c.Connect.Pending() {
		tunnel, authCont := c.Connect.Resolve(status)
		if tunnel {
			d.Status = DirTunnel
			d.state = rsTunnel
			c.In.Status = DirTunnel
			return ResTunnel
		}
		if authCont {
			d.state = rsNoBody
			return ResOk
		}
		// any other status on a CONNECT response ends the tunnel attempt;
		// fall through to ordinary body-determination below.
	}
	teHdr := tx.ResHdrs.GetHdr(HdrTrEncoding)
	clHdr := tx.ResHdrs.GetHdr(HdrCLen)
	noTE := teHdr == nil || teHdr.Missing()
	noCL := clHdr == nil || clHdr.Missing()
	if status == 101 && noTE && noCL {
		c.Connect.State = ConnTunnel
		d.Status = DirTunnel
		d.state = rsTunnel
		c.In.Status = DirTunnel
		return ResTunnel
	}

	if status/100 == 1 || status == 204 || status == 304 || tx.Method() == MHead {
		d.state = rsNoBody
		return ResOk
	}

	if teHdr != nil && !teHdr.Missing() {
		var te PTrEnc
		ParseAllTrEncValues(d.buf, int(teHdr.Val.Offs), &te)
		if te.Encodings&TrEncChunkedF != 0 {
			d.chunk.TrailerHdrs.Hdrs = tx.resTrailer[:]
			tx.ResTrCoding = TrChunked
			c.startResDecomp(d.buf, tx)
			d.state = rsChunkedLength
			return ResOk
		}
	}
	if clHdr != nil && !clHdr.Missing() && tx.ResHdrVals.CLen.Parsed() {
		tx.ResBodyRemain = int64(tx.ResHdrVals.CLen.Val)
		if tx.ResBodyRemain == 0 {
			d.state = rsNoBody
			return ResOk
		}
		tx.ResTrCoding = TrIdentity
		c.startResDecomp(d.buf, tx)
		d.state = rsIdentityCLKnown
		return ResOk
	}

	// no Transfer-Encoding, no usable Content-Length: probe for a chunked
	// body before giving up and reading to connection close.
	chunked, needMore := ProbeChunkedBody(d.buf, d.pos)
	if needMore {
		return ResNeedMore
	}
	if chunked {
		d.chunk.TrailerHdrs.Hdrs = tx.resTrailer[:]
		tx.ResTrCoding = TrChunked
		c.startResDecomp(d.buf, tx)
		d.state = rsChunkedLength
		return ResOk
	}
	tx.ResTrCoding = TrIdentityStreamClose
	c.startResDecomp(d.buf, tx)
	d.state = rsIdentityStreamClose
	return ResOk
}

// startResDecomp recognizes a Content-Encoding header and, if any token
// resolves to a known codec, starts this response's decompressor chain.
func (c *Connection) startResDecomp(buf []byte, tx *Transaction) {
	ceHdr := tx.ResHdrs.GetHdr(HdrCEncoding)
	tx.decomp = newDecompChain(buf, ceHdr, &tx.Flags, c.Config)
}

// deliverResBody runs a just-received body slice through the response
// decompressor chain (if one was started) and forwards whatever decoded
// bytes are now available to the ResponseBodyData hook. A chain that's
// still waiting on more compressed input produces no output for this
// call; IsLast is only reported once the chain (or raw passthrough) has
// actually delivered its final bytes.
func (c *Connection) deliverResBody(tx *Transaction, chunk []byte, last bool) HookResult {
	if tx.decomp == nil {
		return callData(c.Hooks.ResponseBodyData, DataEvent{Tx: tx, Bytes: chunk, IsLast: last})
	}
	out := tx.decomp.feed(chunk, last)
	if len(out) == 0 && !last {
		return HookOk
	}
	return callData(c.Hooks.ResponseBodyData, DataEvent{Tx: tx, Bytes: out, IsLast: last})
}

func (c *Connection) resChunkedLength(d *ResDirection) Result {
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
		tx.ResTrailer = d.chunk.TrailerHdrs
		if callTx(c.Hooks.ResponseTrailer, tx) == HookError {
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
		c.finishResBody(d)
		return ResOk
	}
	tx.ResBodyRemain = size
	d.chunk.Reset()
	d.state = rsChunkedData
	return ResOk
}

func (c *Connection) resChunkedData(d *ResDirection) Result {
	tx := d.tx
	avail := len(d.buf) - d.pos
	if avail == 0 {
		return ResNeedMore
	}
	n := int64(avail)
	if n > tx.ResBodyRemain {
		n = tx.ResBodyRemain
	}
	chunk := d.buf[d.pos : d.pos+int(n)]
	tx.ResEntityLen += n
	tx.ResBodyRemain -= n
	d.pos += int(n)
	last := tx.ResBodyRemain == 0
	if c.deliverResBody(tx, chunk, last) == HookError {
		d.Status = DirError
		return ResError
	}
	if last {
		d.state = rsChunkedDataEnd
	}
	return ResOk
}

func (c *Connection) resChunkedDataEnd(d *ResDirection) Result {
	n, _, err := skipCRLF(d.buf, d.pos)
	if err == ErrHdrMoreBytes {
		return ResNeedMore
	}
	if err.Fatal() {
		d.Status = DirError
		return ResError
	}
	d.pos = n
	d.state = rsChunkedLength
	return ResOk
}

func (c *Connection) resIdentityCLKnown(d *ResDirection) Result {
	tx := d.tx
	avail := len(d.buf) - d.pos
	if avail == 0 {
		return ResNeedMore
	}
	n := int64(avail)
	if n > tx.ResBodyRemain {
		n = tx.ResBodyRemain
	}
	chunk := d.buf[d.pos : d.pos+int(n)]
	tx.ResEntityLen += n
	tx.ResBodyRemain -= n
	d.pos += int(n)
	last := tx.ResBodyRemain == 0
	if c.deliverResBody(tx, chunk, last) == HookError {
		d.Status = DirError
		return ResError
	}
	if last {
		c.finishResBody(d)
	}
	return ResOk
}

// resIdentityStreamClose forwards everything available as body data and
// never completes on its own: only Connection.Close ends this state,
// since by definition the length is only known when the connection ends.
func (c *Connection) resIdentityStreamClose(d *ResDirection) Result {
	tx := d.tx
	avail := len(d.buf) - d.pos
	if avail == 0 {
		return ResNeedMore
	}
	chunk := d.buf[d.pos:]
	tx.ResEntityLen += int64(avail)
	d.pos += avail
	if c.deliverResBody(tx, chunk, false) == HookError {
		d.Status = DirError
		return ResError
	}
	return ResNeedMore
}

func (c *Connection) resNoBody(d *ResDirection) Result {
	c.finishResBody(d)
	return ResOk
}

// finishResBody marks the transaction fully done and advances the
// response direction back to IDLE; RESPONSE_COMPLETE fires the next time
// IDLE actually runs (mirroring finishReqBody's lazy-hook rule).
func (c *Connection) finishResBody(d *ResDirection) {
	d.tx.Progress = ProgDone
	d.prevTx = d.tx
	d.tx = nil
	d.state = rsIdle
}

// closeStreamClose is called from Connection.Close to deliver the final
// IsLast=true body event for a response whose length was only bounded by
// the connection closing.
func (c *Connection) closeStreamClose() {
	d := &c.Out
	if d.tx != nil && d.tx.ResTrCoding == TrIdentityStreamClose {
		c.deliverResBody(d.tx, nil, true)
		d.tx.Progress = ProgDone
		d.tx = nil
	}
}
