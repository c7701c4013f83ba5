// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"

	"github.com/intuitivelabs/htpscan/config"
)

// decompAlg identifies one decompressor chain stage's codec.
type decompAlg uint8

const (
	algNone decompAlg = iota
	algGzip
	algDeflate
	algBrotli
	algLzma
)

// decompAlgFromTrEnc maps a resolved Content-Encoding token to a chain
// algorithm. Tokens this parser doesn't recognize as a codec (identity,
// chunked, trailers, ...) resolve to algNone and are skipped when the
// chain is built.
func decompAlgFromTrEnc(e TrEncT) decompAlg {
	switch {
	case e&TrEncGzipF != 0 || e&TrEncXGzipF != 0:
		return algGzip
	case e&TrEncDeflateF != 0:
		return algDeflate
	case e&TrEncBrotliF != 0:
		return algBrotli
	case e&TrEncLzmaF != 0:
		return algLzma
	default:
		return algNone
	}
}

// swapAlg returns the restart protocol's GZIP<->DEFLATE swap partner, or
// algNone if this codec has none (BROTLI/LZMA restart straight to
// passthrough, per the configured restart budget).
func swapAlg(a decompAlg) decompAlg {
	switch a {
	case algGzip:
		return algDeflate
	case algDeflate:
		return algGzip
	default:
		return algNone
	}
}

// decompStage is one node of a response's decompressor chain: it accepts
// raw (still-encoded) bytes appended to raw, re-attempts a full decode of
// everything accumulated so far, and exposes whatever decoded suffix
// hasn't yet been delivered to the next stage (or, for the last stage, to
// the ResponseBodyData hook).
//
// Re-decoding the whole accumulated buffer on every call (instead of
// resuming a live streaming reader) trades some redundant CPU work for a
// much simpler fit with the push-based, single-threaded state machine
// this parser builds everything else on: no second goroutine, no pipe, no
// extra synchronization. Bodies a security analyzer decompresses are
// small enough in practice (and bounded by Config limits) for this to be
// the right tradeoff.
type decompStage struct {
	alg         decompAlg
	raw         bytes.Buffer
	delivered   int
	restarts    int
	passthrough bool
	memLimit    uint64
}

func newDecompStage(alg decompAlg, memLimit uint64) *decompStage {
	return &decompStage{alg: alg, memLimit: memLimit}
}

// decoder builds a fresh io.Reader over everything accumulated in raw so
// far, using the stage's current algorithm.
func (s *decompStage) decoder() (io.Reader, error) {
	r := bytes.NewReader(s.raw.Bytes())
	switch s.alg {
	case algGzip:
		return gzip.NewReader(r)
	case algDeflate:
		return flate.NewReader(r), nil
	case algBrotli:
		return brotli.NewReader(r), nil
	case algLzma:
		cfg := lzma.ReaderConfig{}
		if s.memLimit > 0 && s.memLimit < 1<<32 {
			cfg.DictCap = int(s.memLimit)
		}
		return cfg.NewReader(r)
	default:
		return r, nil
	}
}

// feed appends newly-arrived encoded bytes and returns whatever new
// decoded suffix is now available. needMore is true if the codec simply
// needs more input before it can produce (more) output; it is never true
// once the stage has degraded to passthrough, since passthrough always
// has an answer.
func (s *decompStage) feed(in []byte, atEOF bool, flags *TxFlags, maxRestarts int) (out []byte, needMore bool) {
	s.raw.Write(in)
	if s.passthrough || s.alg == algNone {
		out = s.raw.Bytes()[s.delivered:]
		s.delivered = s.raw.Len()
		return out, false
	}

	dec, err := s.decoder()
	if err == nil {
		var buf bytes.Buffer
		_, err = io.Copy(&buf, dec)
		if err == nil || err == io.EOF {
			full := buf.Bytes()
			if len(full) > s.delivered {
				out = append([]byte(nil), full[s.delivered:]...)
				s.delivered = len(full)
			}
			return out, false
		}
	}
	if !atEOF && (err == io.ErrUnexpectedEOF || isTruncatedStream(err)) {
		// codec is well-formed so far, just waiting on more bytes. At EOF
		// this same error means the stream really is short, so it falls
		// through to the restart protocol below instead.
		return nil, true
	}

	// a real decode failure (or an unrecoverable truncation at EOF): run
	// the restart protocol.
	s.restarts++
	flags.Set(FlagDecompressionRestart)
	if s.restarts > maxRestarts {
		flags.Set(FlagDecompressionLimitExceeded)
		flags.Set(FlagDecompressionFailed)
		s.passthrough = true
		out = s.raw.Bytes()[s.delivered:]
		s.delivered = s.raw.Len()
		return out, false
	}
	if s.restarts == 2 {
		if alt := swapAlg(s.alg); alt != algNone {
			s.alg = alt
			return s.feed(nil, atEOF, flags, maxRestarts)
		}
	}
	if s.restarts >= 2 {
		flags.Set(FlagDecompressionFailed)
		s.passthrough = true
		out = s.raw.Bytes()[s.delivered:]
		s.delivered = s.raw.Len()
		return out, false
	}
	// restarts == 1: reinitialize the same algorithm. Off EOF, wait for
	// more bytes before trying again; at EOF there won't be any more, so
	// retry immediately against the same accumulated buffer.
	if atEOF {
		return s.feed(nil, atEOF, flags, maxRestarts)
	}
	return nil, true
}

// isTruncatedStream reports whether err looks like "not enough
// compressed input yet" rather than a genuine corruption, across the
// handful of sentinel/wrapped errors the codecs in this chain return.
func isTruncatedStream(err error) bool {
	if err == nil {
		return false
	}
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

// decompChain is the ordered set of stages built for one response's
// Content-Encoding header: stage 0 consumes the raw wire bytes, each
// later stage consumes the previous stage's decoded output, and the last
// stage's output is what gets delivered to ResponseBodyData.
type decompChain struct {
	stages []*decompStage
	flags  *TxFlags
	maxRst int
}

// newDecompChain resolves a Content-Encoding header value into a chain.
// Tokens are applied in the order the recipient must undo them: the
// header lists encodings in application order, so the last-listed
// encoding is the outermost one on the wire and must be decoded first.
// Layers past cfg.MaxEncodingLayers are left raw (flagged, not decoded).
func newDecompChain(buf []byte, hdr *Hdr, flags *TxFlags, cfg *config.Config) *decompChain {
	if hdr == nil || hdr.Missing() {
		return nil
	}
	var te PTrEnc
	var teVals [8]TrEncVal
	te.Init(teVals[:])
	ParseAllTrEncValues(buf, int(hdr.Val.Offs), &te)
	n := te.VNo()
	if n == 0 {
		return nil
	}
	maxLayers := 4
	maxRst := 3
	var memLimit uint64 = 64 * 1024 * 1024
	if cfg != nil {
		if cfg.MaxEncodingLayers > 0 {
			maxLayers = cfg.MaxEncodingLayers
		}
		if cfg.MaxDecompressionRestarts > 0 {
			maxRst = cfg.MaxDecompressionRestarts
		}
		if cfg.LzmaMemLimit > 0 {
			memLimit = cfg.LzmaMemLimit
		}
	}

	haveCodec := false
	for i := 0; i < n; i++ {
		if decompAlgFromTrEnc(te.GetExt(i).Enc) != algNone {
			haveCodec = true
			break
		}
	}
	if !haveCodec {
		return nil
	}

	ch := &decompChain{flags: flags, maxRst: maxRst}
	layers := n
	if layers > maxLayers {
		flags.Set(FlagDecompressionLimitExceeded)
		layers = maxLayers
	}
	for i := n - 1; i >= n-layers; i-- {
		alg := decompAlgFromTrEnc(te.GetExt(i).Enc)
		ch.stages = append(ch.stages, newDecompStage(alg, memLimit))
	}
	return ch
}

// feed pushes newly-arrived (still fully encoded) body bytes through every
// stage in order and returns the final stage's newly decoded suffix.
// atEOF marks the last call for this body: a stage that's merely short on
// input elsewhere runs its restart protocol here instead of waiting
// forever for bytes that will never come.
func (ch *decompChain) feed(in []byte, atEOF bool) []byte {
	data := in
	for _, st := range ch.stages {
		out, needMore := st.feed(data, atEOF, ch.flags, ch.maxRst)
		if needMore {
			return nil
		}
		data = out
	}
	return data
}
