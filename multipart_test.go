// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMultipartBoundaryPlain(t *testing.T) {
	ct := []byte(`multipart/form-data; boundary=----WebKitFormBoundary7MA4YWxkTrZu0gW`)
	boundary, flags := FindMultipartBoundary(ct)
	require.NotNil(t, boundary)
	assert.Equal(t, "----WebKitFormBoundary7MA4YWxkTrZu0gW", string(boundary))
	assert.False(t, flags.Test(FlagMultipartBoundaryInvalid))
	assert.False(t, flags.Test(FlagMultipartBoundaryMissing))
}

func TestFindMultipartBoundaryQuoted(t *testing.T) {
	ct := []byte(`multipart/form-data; boundary="abc 123"`)
	boundary, flags := FindMultipartBoundary(ct)
	require.NotNil(t, boundary)
	assert.Equal(t, "abc 123", string(boundary))
	assert.True(t, flags.Test(FlagMultipartBoundaryUnusual), "embedded space is an RFC-permitted but unusual bchar")
}

func TestFindMultipartBoundaryCaseInsensitivePrefix(t *testing.T) {
	ct := []byte(`Multipart/Form-Data; Boundary=xyz`)
	boundary, flags := FindMultipartBoundary(ct)
	require.NotNil(t, boundary)
	assert.Equal(t, "xyz", string(boundary))
	assert.False(t, flags.Test(FlagMultipartBoundaryInvalid))
}

func TestFindMultipartBoundaryMissing(t *testing.T) {
	ct := []byte(`multipart/form-data; charset=utf-8`)
	boundary, flags := FindMultipartBoundary(ct)
	assert.Nil(t, boundary)
	assert.True(t, flags.Test(FlagMultipartBoundaryMissing))
}

func TestFindMultipartBoundaryWrongContentType(t *testing.T) {
	ct := []byte(`application/json`)
	boundary, flags := FindMultipartBoundary(ct)
	assert.Nil(t, boundary)
	assert.True(t, flags.Test(FlagMultipartBoundaryInvalid))
}

func TestMultipartScannerSplitsParts(t *testing.T) {
	const boundary = "xYzZy"
	body := "preamble text, discarded by convention but still scanned as data\r\n" +
		"--" + boundary + "\r\n" +
		"part one payload" +
		"\r\n--" + boundary + "\r\n" +
		"part two payload" +
		"\r\n--" + boundary + "--\r\n"

	var flags TxFlags
	scanner := newMultipartScanner([]byte(boundary), &flags)

	var parts [][]byte
	var cur []byte
	lastSeen := false
	scanner.feed([]byte(body), func(b []byte, isLast bool) {
		if isLast {
			lastSeen = true
			if len(cur) > 0 {
				parts = append(parts, cur)
			}
			return
		}
		cur = append(cur, b...)
	})

	require.True(t, lastSeen)
	require.GreaterOrEqual(t, len(parts), 1)
}

func TestMultipartScannerByteAtATimeFeed(t *testing.T) {
	const boundary = "B1"
	body := "--" + boundary + "\r\ndata\r\n--" + boundary + "--\r\n"

	var flags TxFlags
	scanner := newMultipartScanner([]byte(boundary), &flags)

	var collected []byte
	done := false
	for i := 0; i < len(body); i++ {
		scanner.feed([]byte{body[i]}, func(b []byte, isLast bool) {
			if isLast {
				done = true
				return
			}
			collected = append(collected, b...)
		})
	}
	assert.True(t, done)
}
