// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"net"

	"github.com/google/uuid"
	"github.com/intuitivelabs/htpscan/config"
)

// Connection is the top-level bidirectional parser: one instance per TCP
// conversation. The request and response state machines share Txs
// (append-only, written only by the request side, walked by increasing
// index on the response side) and the CONNECT coordinator.
type Connection struct {
	ID uuid.UUID

	ClientAddr net.IP
	ClientPort uint16
	ServerAddr net.IP
	ServerPort uint16
	LocalPort  uint16 // the TCP port this side of the conversation owns

	Txs []*Transaction

	In  ReqDirection
	Out ResDirection

	Connect ConnectCoord

	Hooks  Hooks
	Config *config.Config
}

// Open initializes a Connection for a new TCP conversation. localPort is
// used only for the CONNECT authority-form port-vs-TCP-port check in
// request parsing (the "otherwise warn and keep the TCP port" rule); it
// is never required to match anything in the URI. A nil cfg falls back
// to config.Default().
func (c *Connection) Open(clientAddr, serverAddr net.IP, clientPort, serverPort, localPort uint16, cfg *config.Config) {
	if cfg == nil {
		cfg = config.Default()
	}
	*c = Connection{
		ID:         uuid.New(),
		ClientAddr: clientAddr,
		ClientPort: clientPort,
		ServerAddr: serverAddr,
		ServerPort: serverPort,
		LocalPort:  localPort,
		Config:     cfg,
	}
}

// fieldLimit returns the configured field-size limit, falling back to
// fieldLimitHard if no Config (or an unset limit) is present.
func (c *Connection) fieldLimit() int {
	if c.Config != nil && c.Config.FieldLimitHard > 0 {
		return c.Config.FieldLimitHard
	}
	return fieldLimitHard
}

// Close marks both directions CLOSED. A direction holding an
// IDENTITY_STREAM_CLOSE body in progress gets its final
// ResponseBodyData(IsLast=true) delivery here, since that framing mode's
// length is only known at connection close.
func (c *Connection) Close() {
	c.closeStreamClose()
	if c.In.Status != DirError && c.In.Status != DirStop {
		c.In.Status = DirClosed
	}
	if c.Out.Status != DirError && c.Out.Status != DirStop {
		c.Out.Status = DirClosed
	}
}
