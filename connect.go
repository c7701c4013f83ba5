// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

// ConnectState is the small coordinator shared between the request and
// response state machines to mediate a CONNECT handoff, replacing the
// mutually-reentrant function calls a straight port would otherwise need
// between the two directions.
type ConnectState uint8

const (
	// ConnNone: no CONNECT is in flight; both directions parse normally.
	ConnNone ConnectState = iota
	// ConnReqWaiting: the request side has parsed a CONNECT request line
	// (and its headers) and is suspended waiting for the matching
	// response line.
	ConnReqWaiting
	// ConnRes2xx: the response side has seen a 2xx status for the
	// CONNECT transaction; both directions should switch to TUNNEL.
	ConnRes2xx
	// ConnTunnel: both directions have switched to raw tunneling; no more
	// HTTP parsing happens on this connection.
	ConnTunnel
)

func (s ConnectState) String() string {
	switch s {
	case ConnNone:
		return "NONE"
	case ConnReqWaiting:
		return "REQ_WAITING"
	case ConnRes2xx:
		return "RES_DECIDED_2XX"
	case ConnTunnel:
		return "TUNNEL"
	default:
		return "invalid"
	}
}

// ConnectCoord tracks the CONNECT handoff state for one Connection along
// with which transaction it refers to.
type ConnectCoord struct {
	State   ConnectState
	TxIndex int // index into Connection.Txs of the CONNECT transaction
}

// Begin records that the request side has suspended on a CONNECT request
// for the transaction at txIndex.
func (c *ConnectCoord) Begin(txIndex int) {
	c.State = ConnReqWaiting
	c.TxIndex = txIndex
}

// Resolve is called by the response side once it has parsed the status
// line matching the pending CONNECT transaction. It returns the outcome:
// tunnel=true means both directions should switch to TUNNEL; authCont=true
// (only meaningful when tunnel is false) means the request side should
// resume reading an auth-continuation body on the same transaction
// (status 407); otherwise the request side resumes on to the next
// transaction and the response side should stop HTTP parsing at the end
// of the current one.
func (c *ConnectCoord) Resolve(status uint16) (tunnel, authCont bool) {
	switch {
	case status >= 200 && status < 300:
		c.State = ConnTunnel
		return true, false
	case status == 407:
		c.State = ConnNone
		return false, true
	default:
		c.State = ConnNone
		return false, false
	}
}

// Pending returns true if a CONNECT transaction is currently awaiting its
// response.
func (c *ConnectCoord) Pending() bool {
	return c.State == ConnReqWaiting
}

// Tunneling returns true once the connection has switched to raw
// tunneling.
func (c *ConnectCoord) Tunneling() bool {
	return c.State == ConnTunnel
}
