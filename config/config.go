// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package config holds the immutable runtime configuration for a
// Connection: field-size limits, path-decoding toggles, and
// decompressor-chain resource limits. A Config is built once via New and
// never mutated afterwards, so a single instance can be shared by many
// concurrently-parsed connections.
package config

import (
	"github.com/mitchellh/mapstructure"
)

// InvalidEncodingHandling controls what DecodePath does with a malformed
// percent or %u escape.
type InvalidEncodingHandling uint8

const (
	RemovePercent InvalidEncodingHandling = iota
	PreservePercent
	DecodeInvalid
	Status400
)

// Config is the immutable parser configuration.
type Config struct {
	// FieldLimitHard bounds any single accumulated region (request line,
	// header block, chunk-size line) in bytes.
	FieldLimitHard int `mapstructure:"field_limit_hard"`

	// DecodeUEncoding enables recognizing the non-standard %uHHHH escape
	// in request paths.
	DecodeUEncoding bool `mapstructure:"decode_u_encoding"`
	// BackslashSeparator treats '\' as a path separator (IIS behavior).
	BackslashSeparator bool `mapstructure:"backslash_separator"`
	// CompressSeparators collapses runs of '/' into a single one.
	CompressSeparators bool `mapstructure:"compress_separators"`
	// CaseInsensitivePath lowercases the decoded path.
	CaseInsensitivePath bool `mapstructure:"case_insensitive_path"`
	// InvalidEncoding selects the fallback for a malformed escape.
	InvalidEncoding InvalidEncodingHandling `mapstructure:"invalid_encoding"`
	// BestFitReplacement is the byte substituted for a %u-decoded
	// codepoint >= 256 with no better mapping (libhtp's bestfit_1252
	// default is '?').
	BestFitReplacement byte `mapstructure:"best_fit_replacement"`

	// MaxDecompressionRestarts bounds the decompressor restart protocol
	// (reinit, algorithm-switch, passthrough) per response.
	MaxDecompressionRestarts int `mapstructure:"max_decompression_restarts"`
	// MaxEncodingLayers bounds how many chained Content-Encoding stages
	// are honored before the remainder is treated as passthrough.
	MaxEncodingLayers int `mapstructure:"max_encoding_layers"`
	// LzmaMemLimit bounds the LZMA decoder's dictionary memory use.
	LzmaMemLimit uint64 `mapstructure:"lzma_mem_limit"`
}

// Default returns the conservative, permissive-by-default configuration
// used when a caller doesn't supply one.
func Default() *Config {
	return &Config{
		FieldLimitHard:           32 * 1024,
		DecodeUEncoding:          false,
		BackslashSeparator:       false,
		CompressSeparators:       true,
		CaseInsensitivePath:      false,
		InvalidEncoding:          PreservePercent,
		BestFitReplacement:       '?',
		MaxDecompressionRestarts: 3,
		MaxEncodingLayers:        4,
		LzmaMemLimit:             64 * 1024 * 1024,
	}
}

// New builds a Config by decoding a plain map (e.g. parsed from JSON/YAML
// by the caller) over Default().
func New(raw map[string]any) (*Config, error) {
	cfg := Default()
	if raw == nil {
		return cfg, nil
	}
	if err := mapstructure.Decode(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
