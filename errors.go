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
// Error types.

package plnvme

import (
	"errors"
	"fmt"
)

// errors
var (
	// ErrTransport indicates a failed or short read/write on the bfpga
	// device nodes, or a failure opening/mapping them.
	ErrTransport = errors.New("dma transport failure")

	// ErrProtocol indicates a malformed frame on the DMA stream.
	ErrProtocol = errors.New("dma protocol violation")

	// ErrTimeout indicates that an expected reply or progress did not
	// arrive within the wall-clock budget.
	ErrTimeout = errors.New("timed out")

	// ErrConfig indicates parameter or command line misuse.
	ErrConfig = errors.New("invalid configuration")
)

// PcieError is the non-zero error field of a PCIe reply packet.
type PcieError struct {
	Code uint8
}

func (e *PcieError) Error() string {
	return fmt.Sprintf("pcie reply error %d", e.Code)
}

// NvmeStatusError is a non-zero NVMe completion status.
type NvmeStatusError struct {
	Status uint32
}

func (e *NvmeStatusError) Error() string {
	return fmt.Sprintf("nvme completion status 0x%4.4x", e.Status)
}

// DataCorruptionError reports a block that failed test pattern validation.
type DataCorruptionError struct {
	BlockNum  uint32
	WordIndex uint32
	Expected  uint32
	Actual    uint32
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("data corruption in block %d word %d: expected %8.8x, got %8.8x",
		e.BlockNum, e.WordIndex, e.Expected, e.Actual)
}
