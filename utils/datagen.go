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
//
// Description:
//
// Implements several functions for working with the FPGA's test data
// pattern outside of a live capture: generating reference dumps and
// verifying block dump files produced by the read stream.

package utils

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	plnvme "github.com/DUNE/pl-nvme"
)

// GenPatternFile writes numBlocks blocks of the FPGA test data pattern to
// the named file. The resulting file is byte identical to a validated read
// stream dump of the same block range.
func GenPatternFile(filename string, startBlock, numBlocks uint32) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	defer file.Close()

	w := bufio.NewWriterSize(file, 1024*1024)
	word := make([]byte, 4)

	for b := startBlock; b < startBlock+numBlocks; b++ {
		for i := uint32(0); i < plnvme.BLOCK_WORDS; i++ {
			binary.LittleEndian.PutUint32(word, b*plnvme.BLOCK_WORDS+i)
			if _, err := w.Write(word); err != nil {
				return fmt.Errorf("write %s: %w", filename, err)
			}
		}
	}

	return w.Flush()
}

// VerifyPatternFile checks a block dump file against the test data pattern,
// returning the number of valid blocks. The file length must be a whole
// number of blocks.
func VerifyPatternFile(filename string, startBlock uint32) (uint32, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", filename, err)
	}
	defer file.Close()

	r := bufio.NewReaderSize(file, 1024*1024)
	block := make([]byte, plnvme.BLOCK_SIZE)

	var numBlocks uint32
	for {
		_, err := io.ReadFull(r, block)
		if err == io.EOF {
			return numBlocks, nil
		}
		if err != nil {
			return numBlocks, fmt.Errorf("%s: partial block after %d blocks: %w",
				filename, numBlocks, err)
		}

		if err := plnvme.ValidateBlock(startBlock+numBlocks, block); err != nil {
			return numBlocks, err
		}
		numBlocks++
	}
}
