// The MIT License
//
// Copyright (c) 2020-2021 by the author(s)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package plnvme

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBlockLaw(t *testing.T) {
	// word w of block b holds b*1024 + w
	for _, blockNum := range []uint32{0, 1, 7, 262143} {
		block := make([]byte, BLOCK_SIZE)
		for w := uint32(0); w < BLOCK_WORDS; w++ {
			le.PutUint32(block[4*w:], blockNum*1024+w)
		}
		assert.NoError(t, ValidateBlock(blockNum, block))
	}
}

func TestValidateBlockMismatch(t *testing.T) {
	block := make([]byte, BLOCK_SIZE)
	for w := uint32(0); w < BLOCK_WORDS; w++ {
		le.PutUint32(block[4*w:], 5*1024+w)
	}
	le.PutUint32(block[4*17:], 99)

	err := ValidateBlock(5, block)
	var corruption *DataCorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Equal(t, uint32(5), corruption.BlockNum)
	assert.Equal(t, uint32(17), corruption.WordIndex)
	assert.Equal(t, uint32(5*1024+17), corruption.Expected)
	assert.Equal(t, uint32(99), corruption.Actual)
}

func TestBlockFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "blocks.bin")

	file, err := BlockFileCreate(filename)
	require.NoError(t, err)

	block0 := make([]byte, BLOCK_SIZE)
	block1 := make([]byte, BLOCK_SIZE)
	for i := range block0 {
		block0[i] = 0xAA
		block1[i] = 0x55
	}
	require.NoError(t, file.WriteBlock(0, block0))
	require.NoError(t, file.WriteBlock(1, block1))
	require.NoError(t, file.Close())

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Len(t, data, 2*BLOCK_SIZE)
	assert.Equal(t, block0, data[:BLOCK_SIZE])
	assert.Equal(t, block1, data[BLOCK_SIZE:])
}
