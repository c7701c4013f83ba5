// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/htpscan/config"
)

func newTestConnection() *Connection {
	var c Connection
	c.Open(net.IPv4(127, 0, 0, 1), net.IPv4(127, 0, 0, 1), 51000, 80, 80, config.Default())
	return &c
}

// TestSimpleRequest is scenario S1: a plain GET with no body raises no
// flags and fires RequestLine, RequestHeaders and RequestComplete in
// that order exactly once each.
func TestSimpleRequest(t *testing.T) {
	c := newTestConnection()
	var order []string
	c.Hooks = Hooks{
		RequestLine:     func(tx *Transaction) HookResult { order = append(order, "line"); return HookOk },
		RequestHeaders:  func(tx *Transaction) HookResult { order = append(order, "headers"); return HookOk },
		RequestComplete: func(tx *Transaction) HookResult { order = append(order, "complete"); return HookOk },
	}

	res := c.ReqData([]byte("GET /x HTTP/1.1\r\nHost: a\r\n\r\n"))
	assert.Equal(t, ResNeedMore, res)
	assert.Equal(t, []string{"line", "headers", "complete"}, order)

	require.Len(t, c.Txs, 1)
	tx := c.Txs[0]
	assert.Equal(t, MGet, tx.Method())
	assert.Equal(t, "/x", string(tx.ReqPathNorm))
	assert.Equal(t, TxFlags(0), tx.Flags)
}

// TestChunkedRequestBody is scenario S2.
func TestChunkedRequestBody(t *testing.T) {
	c := newTestConnection()
	var body []byte
	var entityLen int64
	c.Hooks = Hooks{
		RequestBodyData: func(e DataEvent) HookResult {
			body = append(body, e.Bytes...)
			entityLen = e.Tx.ReqEntityLen
			return HookOk
		},
	}

	req := "POST / HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	c.ReqData([]byte(req))

	require.Len(t, c.Txs, 1)
	tx := c.Txs[0]
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int64(5), entityLen)
	assert.Equal(t, TrChunked, tx.ReqTrCoding)
	assert.False(t, tx.Flags.Test(FlagRequestSmuggling))
}

// TestChunkedRequestWithContentLengthIsSmuggling is scenario S3.
func TestChunkedRequestWithContentLengthIsSmuggling(t *testing.T) {
	c := newTestConnection()
	var body []byte
	c.Hooks = Hooks{
		RequestBodyData: func(e DataEvent) HookResult {
			body = append(body, e.Bytes...)
			return HookOk
		},
	}

	req := "POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 0\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	c.ReqData([]byte(req))

	require.Len(t, c.Txs, 1)
	tx := c.Txs[0]
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, TrChunked, tx.ReqTrCoding)
	assert.True(t, tx.Flags.Test(FlagRequestSmuggling))
}

// TestConnectTunnel is scenario S4: a CONNECT request suspends the
// client->server side until the response resolves the tunnel decision;
// a 200 response switches both directions to TUNNEL, after which a
// further ReqData call returns TUNNEL without consuming any bytes.
func TestConnectTunnel(t *testing.T) {
	c := newTestConnection()

	reqRes := c.ReqData([]byte("CONNECT host:443 HTTP/1.1\r\nHost: host:443\r\n\r\n"))
	assert.Equal(t, ResSuspend, reqRes)

	require.Len(t, c.Txs, 1)
	assert.True(t, c.Txs[0].IsConnect)

	resRes := c.ResData([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	assert.Equal(t, ResTunnel, resRes)
	assert.True(t, c.Connect.Tunneling())

	again := c.ReqData([]byte("whatever raw bytes"))
	assert.Equal(t, ResTunnel, again)
}
