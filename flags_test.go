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

func TestTxFlagsSetAndTest(t *testing.T) {
	var f TxFlags
	assert.False(t, f.Test(FlagInvalidFolding))
	f.Set(FlagInvalidFolding)
	assert.True(t, f.Test(FlagInvalidFolding))
	assert.False(t, f.Test(FlagRequestSmuggling))
}

func TestTxFlagsStringEmpty(t *testing.T) {
	var f TxFlags
	assert.Equal(t, "-", f.String())
}

func TestTxFlagsStringMultiple(t *testing.T) {
	var f TxFlags
	f.Set(FlagHostMissing)
	f.Set(FlagRequestSmuggling)
	names := f.Names()
	assert.Contains(t, names, "HOST_MISSING")
	assert.Contains(t, names, "REQUEST_SMUGGLING")
	assert.Len(t, names, 2)
}

func TestTxFlagsBodyLayerAnomalyNames(t *testing.T) {
	var f TxFlags
	f.Set(FlagDecompressionRestart)
	f.Set(FlagMultipartBoundaryUnusual)
	assert.Equal(t, "DECOMPRESSION_RESTART|MULTIPART_BOUNDARY_UNUSUAL", f.String())
}
