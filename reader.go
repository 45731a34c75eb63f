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
// The read stream controller. It drives the FPGA's NvmeRead engine, which
// issues NVMe read commands and streams the returned data back to the host
// as bus-master writes on the 0xF00000 region. The controller reassembles
// the variable sized write packets into 4 KByte blocks through one byte
// FIFO per NVMe unit and emits the blocks of the two units in strictly
// alternating order, reconstructing the original block stream.
//
//  --------       --------------       ------------       -----------
// | NVMe 0 | --> | FIFO 0       | --> | block      | --> | BlockSink |
// | NVMe 1 | --> | FIFO 1       |     | assembler  |     |           |
//  --------       --------------       ------------       -----------

package plnvme

import "fmt"

// fifo sizing: enough for several outstanding blocks per unit
const readFifoSize = 64 * 1024

// readStream is the DataSink installed for the duration of a Read run. The
// dispatcher invokes it for every streaming region write; block assembly,
// validation and sink delivery all run on the dispatcher goroutine.
type readStream struct {
	nvme *NvmeAccess

	startBlock uint32 // block stream position of the first emitted block
	numBlocks  uint32 // number of blocks to emit
	dual       bool   // both units streaming, interleave their blocks
	validate   bool   // check blocks against the test data pattern
	sink       BlockSink

	fifos    [2]*Fifo
	curDrive int    // unit the next block is drained from
	blockNum uint32 // number of blocks emitted so far
	block    []byte // block assembly buffer

	err      error
	done     bool
	complete *Semaphore
}

// NvmeDataPacket routes a streaming write into the per-unit FIFO selected
// by address bit 0x10000000 and runs the block assembler.
func (rs *readStream) NvmeDataPacket(pkt *NvmeRequestPacket) {
	if rs.done {
		return
	}

	address := uint32(pkt.Address)
	if address&REGION_MASK != REGION_STREAM {
		// discard region, nothing to assemble
		return
	}

	drive := 0
	if address&ADDR_NVME1_BIT != 0 {
		drive = 1
	}

	var data [4 * PCIE_MAX_PAYLOAD_SIZE]byte
	for i := uint32(0); i < pkt.NumWords; i++ {
		le.PutUint32(data[4*i:], pkt.Data[i])
	}

	if n := rs.fifos[drive].Write(data[:4*pkt.NumWords]); n != int(4*pkt.NumWords) {
		rs.fail(fmt.Errorf("nvme %d stream overran its FIFO: %w", drive,
			ErrProtocol))
		return
	}

	rs.assemble()
}

// assemble drains complete blocks from the FIFOs, strictly alternating
// between the two units in dual mode.
func (rs *readStream) assemble() {
	for !rs.done {
		fifo := rs.fifos[rs.curDrive]
		if fifo.ReadAvailable() < BLOCK_SIZE {
			return
		}
		fifo.Read(rs.block)

		if rs.validate {
			if err := ValidateBlock(rs.startBlock+rs.blockNum, rs.block); err != nil {
				rs.fail(err)
				return
			}
		}

		if rs.sink != nil {
			if err := rs.sink.WriteBlock(rs.blockNum, rs.block); err != nil {
				rs.fail(err)
				return
			}
		}

		rs.blockNum++
		if rs.dual {
			rs.curDrive ^= 1
		}

		if rs.blockNum == rs.numBlocks {
			rs.done = true
			rs.complete.Set()
		}
	}
}

// fail records the first error and releases the waiting foreground.
func (rs *readStream) fail(err error) {
	if rs.err == nil {
		rs.err = err
	}
	rs.done = true
	rs.complete.Set()
}

// Read streams numBlocks blocks starting at startBlock out of the selected
// NVMe unit(s), delivering each assembled 4 KByte block to the sink (which
// may be nil to discard). With validate set every block is checked against
// the FPGA test data pattern. With both units selected, startBlock and
// numBlocks must be even; blocks are emitted strictly alternating unit 0,
// unit 1, starting with unit 0.
func (nvme *NvmeAccess) Read(startBlock, numBlocks uint32, sink BlockSink,
	validate bool) error {

	readStart, readNum := startBlock, numBlocks
	dual := nvme.nvmeNum == 2
	if dual {
		if startBlock%2 != 0 || numBlocks%2 != 0 {
			return fmt.Errorf("dual nvme read needs even start and count: %w",
				ErrConfig)
		}
		readStart, readNum = startBlock/2, numBlocks/2
	}

	rs := &readStream{
		nvme:       nvme,
		startBlock: startBlock,
		numBlocks:  numBlocks,
		dual:       dual,
		validate:   validate,
		sink:       sink,
		block:      make([]byte, BLOCK_SIZE),
		complete:   SemaphoreCreate(1),
	}
	rs.fifos[0] = FifoCreate(readFifoSize)
	rs.fifos[1] = FifoCreate(readFifoSize)
	if nvme.nvmeNum == 1 {
		// single unit 1 streams arrive with the unit select bit set
		rs.curDrive = 1
	}

	prev := nvme.SetDataSink(rs)
	defer nvme.SetDataSink(prev)

	// program the block range and start the NvmeRead engine
	nvme.WriteNvmeStorageReg(REG_READ_BLOCK, readStart)
	nvme.WriteNvmeStorageReg(REG_READ_NUM_BLOCKS, readNum)
	nvme.WriteNvmeStorageReg(REG_READ_CONTROL, READ_CONTROL_START)

	ok := rs.complete.Wait(captureBudget(numBlocks))

	nvme.WriteNvmeStorageReg(REG_READ_CONTROL, 0)

	if !ok {
		return fmt.Errorf("read stream stalled after %d of %d blocks: %w",
			rs.blockNum, numBlocks, ErrTimeout)
	}
	return rs.err
}
