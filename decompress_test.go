// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/htpscan/config"
)

func gzipBytes(t *testing.T, payload []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func deflateBytes(t *testing.T, payload []byte) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// ceHdr builds a synthetic Content-Encoding header whose value is
// contained in buf at the returned offset.
func ceHdr(value string) (buf []byte, hdr *Hdr) {
	buf = []byte(value + "\r\n")
	hdr = &Hdr{Type: HdrCEncoding}
	hdr.Val.Set(0, len(value))
	return buf, hdr
}

func TestDecompChainSingleGzipStage(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad this out")
	compressed := gzipBytes(t, payload)

	hdrBuf, hdr := ceHdr("gzip")
	var flags TxFlags
	ch := newDecompChain(hdrBuf, hdr, &flags, config.Default())
	require.NotNil(t, ch)
	require.Len(t, ch.stages, 1)

	out := ch.feed(compressed, true)
	assert.Equal(t, payload, out)
}

func TestDecompChainIdentityEncodingSkipsChain(t *testing.T) {
	hdrBuf, hdr := ceHdr("identity")
	var flags TxFlags
	ch := newDecompChain(hdrBuf, hdr, &flags, config.Default())
	assert.Nil(t, ch)
}

func TestDecompChainNoContentEncodingHeader(t *testing.T) {
	var flags TxFlags
	ch := newDecompChain(nil, nil, &flags, config.Default())
	assert.Nil(t, ch)
}

func TestDecompChainTwoStagesReverseOrder(t *testing.T) {
	payload := []byte("layered payload for a gzip-then-deflate chain")
	inner := deflateBytes(t, payload)
	outer := gzipBytes(t, inner)

	// Content-Encoding: deflate, gzip -- "gzip" is listed last so it is
	// the outermost wire layer and must be decoded first.
	hdrBuf, hdr := ceHdr("deflate, gzip")
	var flags TxFlags
	ch := newDecompChain(hdrBuf, hdr, &flags, config.Default())
	require.NotNil(t, ch)
	require.Len(t, ch.stages, 2)

	out := ch.feed(outer, true)
	assert.Equal(t, payload, out)
}

func TestDecompChainIncrementalFeedAcrossPushes(t *testing.T) {
	payload := []byte("streamed across two separate ReqData-style pushes")
	compressed := gzipBytes(t, payload)
	split := len(compressed) / 2

	hdrBuf, hdr := ceHdr("gzip")
	var flags TxFlags
	ch := newDecompChain(hdrBuf, hdr, &flags, config.Default())
	require.NotNil(t, ch)

	first := ch.feed(compressed[:split], false)
	assert.Empty(t, first, "a truncated gzip stream should not decode any output yet")

	second := ch.feed(compressed[split:], true)
	assert.Equal(t, payload, second)
}

func TestDecompChainMalformedStreamEventuallyPassesThrough(t *testing.T) {
	garbage := bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x03}, 16)
	hdrBuf, hdr := ceHdr("gzip")
	var flags TxFlags
	ch := newDecompChain(hdrBuf, hdr, &flags, config.Default())
	require.NotNil(t, ch)

	out := ch.feed(garbage, true)
	assert.Equal(t, garbage, out, "unrecoverable codec failure should fall back to raw passthrough")
	assert.True(t, flags.Test(FlagDecompressionFailed))
}

func TestDecompChainTooManyLayersFlagsLimitExceeded(t *testing.T) {
	hdrBuf, hdr := ceHdr("gzip, gzip, gzip, gzip, gzip")
	var flags TxFlags
	cfg := config.Default()
	cfg.MaxEncodingLayers = 2
	ch := newDecompChain(hdrBuf, hdr, &flags, cfg)
	require.NotNil(t, ch)
	assert.Len(t, ch.stages, 2)
	assert.True(t, flags.Test(FlagDecompressionLimitExceeded))
}
