// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveDotSegments(t *testing.T) {
	cases := []struct{ in, out string }{
		{"", ""},
		{"/", "/"},
		{"/./", "/"},
		{"/..", "/"},
		{"/../", "/"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"/a/b/../../c", "/c"},
		{"//", "//"},
		{"/./a", "/a"},
		{"a/b/c", "a/b/c"},
		{"/a/b/c/../../d", "/a/d"},
		{"/./././a", "/a"},
		{"/a/../../b", "/b"},
		{".", ""},
	}
	for _, c := range cases {
		got := RemoveDotSegments([]byte(c.in))
		assert.Equal(t, c.out, string(got), "input %q", c.in)
	}
}

// TestDecodePathPercentUOverlongTraversal covers the "%u002e%u002e/etc/passwd"
// path from the end-to-end traversal scenario: with %u decoding enabled the
// path decodes to "/../etc/passwd" (flagged PATH_OVERLONG_U since the high
// byte of each %u escape is zero), then dot-segment removal collapses it to
// "/etc/passwd".
func TestDecodePathPercentUOverlongTraversal(t *testing.T) {
	src := []byte("/%u002e%u002e/etc/passwd")

	decoded, flags := DecodePath(src, DecodePathOpts{DecodeUEncoding: true})
	assert.Equal(t, "/../etc/passwd", string(decoded))
	assert.True(t, flags.Test(FlagPathOverlongU))

	collapsed := RemoveDotSegments(decoded)
	assert.Equal(t, "/etc/passwd", string(collapsed))
}

func TestDecodePathPercentUDisabledLeavesLiteral(t *testing.T) {
	src := []byte("/%u002e%u002e/etc/passwd")

	decoded, flags := DecodePath(src, DecodePathOpts{DecodeUEncoding: false})
	assert.Equal(t, "/%u002e%u002e/etc/passwd", string(decoded))
	assert.False(t, flags.Test(FlagPathInvalidEncoding), "an unrecognized-but-syntactically-fine escape is preserved, not flagged invalid")
}

func TestDecodePathOrdinaryPercentEscape(t *testing.T) {
	decoded, flags := DecodePath([]byte("/a%20b"), DecodePathOpts{})
	assert.Equal(t, "/a b", string(decoded))
	assert.False(t, flags.Test(FlagPathInvalidEncoding))
}

func TestDecodePathEncodedNulTerminates(t *testing.T) {
	decoded, flags := DecodePath([]byte("/a%00bc"), DecodePathOpts{})
	assert.Equal(t, "/a", string(decoded))
	assert.True(t, flags.Test(FlagPathEncodedNul))
}

func TestDecodePathCompressSeparators(t *testing.T) {
	decoded, _ := DecodePath([]byte("/a//b///c"), DecodePathOpts{CompressSeparators: true})
	assert.Equal(t, "/a/b/c", string(decoded))
}

func TestDecodePathBackslashSeparator(t *testing.T) {
	decoded, flags := DecodePath([]byte(`\a\b`), DecodePathOpts{BackslashSeparator: true})
	assert.Equal(t, "/a/b", string(decoded))
	assert.False(t, flags.Test(FlagPathEncodedSeparator), "a raw backslash isn't a percent-escape, so ENCODED_SEPARATOR doesn't apply")
}
