// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htpscan

// TxFlags is a bitset of per-transaction parsing anomalies. Anomalies
// never interrupt parsing -- they accumulate on the transaction for a
// caller to inspect or alert on, as opposed to the fatal ErrorHdr/Result
// codes that stop a direction outright. Mirrors the HdrFlags bitset idiom
// in headers.go, applied to the wider set of structural and
// evasion-adjacent anomalies a permissive parser needs to surface.
type TxFlags uint64

const (
	// Structural anomalies, raised while scanning the first line and
	// header block.
	FlagInvalidFolding TxFlags = 1 << iota
	FlagInvalidChunking
	FlagMultiPacketHead
	FlagFieldUnparseable
	FlagFieldInvalid
	FlagFieldFolded
	FlagFieldRepeated
	FlagFieldNulByte

	// Evasion-adjacent anomalies, raised while determining the body
	// framing and normalizing the request URI/Host.
	FlagAmbiguousHost
	FlagHostMissing
	FlagRequestSmuggling
	FlagPathEncodedNul
	FlagPathEncodedSeparator
	FlagPathInvalidEncoding
	FlagPathOverlongU
	FlagPathFullwidthEvasion
	FlagPathUTF8Valid
	FlagPathUTF8Invalid
	FlagPathUTF8Overlong

	// Body-layer anomalies, raised while decompressing and demultiplexing
	// the entity body.
	FlagDecompressionRestart
	FlagDecompressionFailed
	FlagDecompressionLimitExceeded
	FlagMultipartBoundaryMissing
	FlagMultipartBoundaryInvalid
	FlagMultipartBoundaryUnusual

	// FlagPathStatus400 marks a malformed percent-escape that a real
	// server configured for STATUS_400 handling would have rejected
	// outright; a permissive analyzer keeps parsing but raises this so a
	// caller can still see the anomaly.
	FlagPathStatus400
)

var txFlagNames = map[TxFlags]string{
	FlagInvalidFolding:       "INVALID_FOLDING",
	FlagInvalidChunking:      "INVALID_CHUNKING",
	FlagMultiPacketHead:      "MULTI_PACKET_HEAD",
	FlagFieldUnparseable:     "FIELD_UNPARSEABLE",
	FlagFieldInvalid:         "FIELD_INVALID",
	FlagFieldFolded:          "FIELD_FOLDED",
	FlagFieldRepeated:        "FIELD_REPEATED",
	FlagFieldNulByte:         "FIELD_NUL_BYTE",
	FlagAmbiguousHost:        "AMBIGUOUS_HOST",
	FlagHostMissing:          "HOST_MISSING",
	FlagRequestSmuggling:     "REQUEST_SMUGGLING",
	FlagPathEncodedNul:       "PATH_ENCODED_NUL",
	FlagPathEncodedSeparator: "PATH_ENCODED_SEPARATOR",
	FlagPathInvalidEncoding:  "PATH_INVALID_ENCODING",
	FlagPathOverlongU:        "PATH_OVERLONG_U",
	FlagPathFullwidthEvasion: "PATH_FULLWIDTH_EVASION",
	FlagPathUTF8Valid:        "PATH_UTF8_VALID",
	FlagPathUTF8Invalid:      "PATH_UTF8_INVALID",
	FlagPathUTF8Overlong:     "PATH_UTF8_OVERLONG",

	FlagDecompressionRestart:       "DECOMPRESSION_RESTART",
	FlagDecompressionFailed:        "DECOMPRESSION_FAILED",
	FlagDecompressionLimitExceeded: "DECOMPRESSION_LIMIT_EXCEEDED",
	FlagMultipartBoundaryMissing:   "MULTIPART_BOUNDARY_MISSING",
	FlagMultipartBoundaryInvalid:   "MULTIPART_BOUNDARY_INVALID",
	FlagMultipartBoundaryUnusual:   "MULTIPART_BOUNDARY_UNUSUAL",

	FlagPathStatus400: "PATH_STATUS_400",
}

// Set raises f in the bitset.
func (t *TxFlags) Set(f TxFlags) {
	*t |= f
}

// Test returns true if f is raised in the bitset.
func (t TxFlags) Test(f TxFlags) bool {
	return t&f != 0
}

// Names returns the set flags as their glossary names, in bit order.
func (t TxFlags) Names() []string {
	var names []string
	for i := TxFlags(1); i != 0; i <<= 1 {
		if t.Test(i) {
			if n, ok := txFlagNames[i]; ok {
				names = append(names, n)
			}
		}
	}
	return names
}

// String implements the Stringer interface.
func (t TxFlags) String() string {
	names := t.Names()
	if len(names) == 0 {
		return "-"
	}
	s := names[0]
	for _, n := range names[1:] {
		s += "|" + n
	}
	return s
}
