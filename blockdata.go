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
// Block sinks for the read stream and validation of the FPGA's test data
// pattern.

package plnvme

import (
	"bufio"
	"fmt"
	"os"
)

// BlockSink consumes the 4 KByte blocks emitted by the read stream
// assembler.
type BlockSink interface {
	WriteBlock(blockNum uint32, data []byte) error
}

// ValidateBlock checks a block against the FPGA test data pattern: the
// 32bit word at position w of block b holds b*1024 + w.
func ValidateBlock(blockNum uint32, data []byte) error {
	for w := uint32(0); w < uint32(len(data))/4; w++ {
		expected := blockNum*BLOCK_WORDS + w
		actual := le.Uint32(data[4*w:])
		if actual != expected {
			return &DataCorruptionError{
				BlockNum:  blockNum,
				WordIndex: w,
				Expected:  expected,
				Actual:    actual,
			}
		}
	}
	return nil
}

// BlockFile is a BlockSink writing blocks sequentially to a file.
type BlockFile struct {
	file *os.File
	w    *bufio.Writer
}

// BlockFileCreate creates the named output file.
func BlockFileCreate(filename string) (*BlockFile, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return &BlockFile{
		file: file,
		w:    bufio.NewWriterSize(file, 1024*1024),
	}, nil
}

// WriteBlock appends one block to the file.
func (bf *BlockFile) WriteBlock(blockNum uint32, data []byte) error {
	if _, err := bf.w.Write(data); err != nil {
		return fmt.Errorf("write block %d: %w", blockNum, err)
	}
	return nil
}

// Close flushes and closes the file.
func (bf *BlockFile) Close() error {
	if err := bf.w.Flush(); err != nil {
		bf.file.Close()
		return err
	}
	return bf.file.Close()
}
