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
// Diagnostics: register dumps for the NvmeStorage units, the NVMe
// controllers and the XDMA core.

package plnvme

import "fmt"

// XDMA channel register offsets
const (
	dmaRegId       = 0x00
	dmaRegControl  = 0x04
	dmaRegStatus   = 0x40
	dmaRegComplete = 0x48
	dmaRegIntMask  = 0x90
)

// DumpRegs prints the register bank of the given NvmeStorage unit. Passing
// -1 dumps the bank of the currently selected unit.
func (nvme *NvmeAccess) DumpRegs(nvmeNum int) {
	base := nvme.nvmeRegbase
	switch nvmeNum {
	case 0:
		base = REGBASE_NVME0
	case 1:
		base = REGBASE_NVME1
	case 2:
		base = REGBASE_NVME_ALL
	}

	reg := func(offset uint32) uint32 {
		return nvme.regs[(base+offset)/4]
	}

	fmt.Printf("NvmeStorageUnit's registers: base: 0x%x\n", base)
	fmt.Printf("Id:             %8.8x\n", reg(REG_IDENT))
	fmt.Printf("Control:        %8.8x\n", reg(REG_CONTROL))
	fmt.Printf("Status:         %8.8x\n", reg(REG_STATUS))
	fmt.Printf("TotalBlocks:    %8.8x\n", reg(REG_TOTAL_BLOCKS))
	fmt.Printf("LostBlocks:     %8.8x\n", reg(REG_LOST_BLOCKS))
	fmt.Printf("DataChunkStart: %8.8x\n", reg(REG_DATA_CHUNK_START))
	fmt.Printf("DataChunkSize:  %8.8x\n", reg(REG_DATA_CHUNK_SIZE))
	fmt.Printf("Error:          %8.8x\n", reg(REG_WRITE_ERROR))
	fmt.Printf("NumBlocks:      %8.8x\n", reg(REG_WRITE_NUM_BLOCKS))
	fmt.Printf("TimeUs:         %8.8x\n", reg(REG_WRITE_TIME))
	fmt.Printf("PeakLatencyUs:  %8.8x\n", reg(REG_WRITE_PEAK_LATENCY))
	fmt.Printf("ReadControl:    %8.8x\n", reg(REG_READ_CONTROL))
	fmt.Printf("ReadStatus:     %8.8x\n", reg(REG_READ_STATUS))
	fmt.Printf("ReadBlock:      %8.8x\n", reg(REG_READ_BLOCK))
	fmt.Printf("ReadNumBlocks:  %8.8x\n", reg(REG_READ_NUM_BLOCKS))
}

// DumpNvmeRegisters prints the first NVMe controller registers of the
// selected unit.
func (nvme *NvmeAccess) DumpNvmeRegisters() error {
	fmt.Printf("Nvme regs\n")
	for a := uint32(0); a < 16; a++ {
		data, err := nvme.ReadNvmeReg32(a * 4)
		if err != nil {
			return err
		}
		fmt.Printf("Reg: 0x%3.3x 0x%8.8x\n", a*4, data)
	}
	return nil
}

// DumpStatus prints the NVMe controller status register of the selected
// unit.
func (nvme *NvmeAccess) DumpStatus() error {
	data, err := nvme.ReadNvmeReg32(NVME_REG_CSTS)
	if err != nil {
		return err
	}
	fmt.Printf("StatusReg: 0x%3.3x 0x%8.8x\n", NVME_REG_CSTS, data)
	return nil
}

// DumpDmaRegs prints the XDMA core's channel registers. Only available when
// the NvmeAccess struct was created against the real device.
func (nvme *NvmeAccess) DumpDmaRegs(c2h bool, chan_ int) {
	if nvme.dmaRegs == nil {
		fmt.Printf("DMA registers not mapped\n")
		return
	}

	regsAddress := chan_ << 8
	if c2h {
		regsAddress |= 1 << 12
	}
	regs := nvme.dmaRegs[regsAddress/4:]

	fmt.Printf("DMA Channel:    %v.%d\n", c2h, chan_)
	fmt.Printf("DMA_ID:         %x\n", regs[dmaRegId/4])
	fmt.Printf("DMA_CONTROL:    %x\n", regs[dmaRegControl/4])
	fmt.Printf("DMA_STATUS:     %x\n", regs[dmaRegStatus/4])
	fmt.Printf("DMA_COMPLETE:   %x\n", regs[dmaRegComplete/4])
	fmt.Printf("DMA_INT_MASK:   %x\n", regs[dmaRegIntMask/4])
}
