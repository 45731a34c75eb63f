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
// Global definitions.

package plnvme

import "time"

const (
	// use the FPGA's hardware queue engine rather than driving the NVMe
	// submission queues from emulated host memory (default, can be
	// overridden per NvmeAccess instance)
	USE_QUEUE_ENGINE = true

	// maximum PCIe packet payload in 32bit words
	PCIE_MAX_PAYLOAD_SIZE = 32

	// NvmeStorage block size in bytes
	BLOCK_SIZE = 4096

	// number of 32bit words per block
	BLOCK_WORDS = BLOCK_SIZE / 4

	// number of slots in the admin and IO submission/completion queues
	QUEUE_NUM = 16
)

// bfpga device names
const (
	BFPGA_DEV_REGS = "/dev/bfpga0"
	BFPGA_DEV_SEND = "/dev/bfpga0-send0"
	BFPGA_DEV_RECV = "/dev/bfpga0-recv0"
)

// NvmeStorage unit register bank base addresses. The 0x000 bank broadcasts
// writes to both units in hardware.
const (
	REGBASE_NVME0    = uint32(0x100)
	REGBASE_NVME1    = uint32(0x200)
	REGBASE_NVME_ALL = uint32(0x000)
)

// NvmeStorage unit register offsets within a bank
const (
	REG_IDENT              = uint32(0x000)
	REG_CONTROL            = uint32(0x004)
	REG_STATUS             = uint32(0x008)
	REG_TOTAL_BLOCKS       = uint32(0x00C)
	REG_LOST_BLOCKS        = uint32(0x010)
	REG_DATA_CHUNK_START   = uint32(0x040)
	REG_DATA_CHUNK_SIZE    = uint32(0x044)
	REG_WRITE_ERROR        = uint32(0x048)
	REG_WRITE_NUM_BLOCKS   = uint32(0x04C)
	REG_WRITE_TIME         = uint32(0x050)
	REG_WRITE_PEAK_LATENCY = uint32(0x054)
	REG_READ_CONTROL       = uint32(0x080)
	REG_READ_STATUS        = uint32(0x084)
	REG_READ_BLOCK         = uint32(0x088)
	REG_READ_NUM_BLOCKS    = uint32(0x08C)
)

// RegControl bits
const (
	CONTROL_RESET         = uint32(0x00000001)
	CONTROL_CONFIGURE     = uint32(0x00000002)
	CONTROL_START_CAPTURE = uint32(0x00000004)
)

// RegReadControl bits
const (
	READ_CONTROL_START = uint32(0x00000001)
)

// PCIe packet request codes
const (
	PCIE_REQ_MEM_READ     = 0
	PCIE_REQ_MEM_WRITE    = 1
	PCIE_REQ_CONFIG_READ  = 8
	PCIE_REQ_CONFIG_WRITE = 10
	PCIE_REQ_VENDOR_WRITE = 12
)

// NVMe controller register offsets, accessed over the PCIe transport
const (
	NVME_REG_INTMS = uint32(0x0C)
	NVME_REG_CC    = uint32(0x14)
	NVME_REG_CSTS  = uint32(0x1C)
	NVME_REG_AQA   = uint32(0x24)
	NVME_REG_ASQ   = uint32(0x28)
	NVME_REG_ACQ   = uint32(0x30)
)

// NVMe doorbell register offsets
const (
	DOORBELL_ADMIN_SQ = uint32(0x1000)
	DOORBELL_ADMIN_CQ = uint32(0x1004)
	DOORBELL_IO_SQ    = uint32(0x1008)
	DOORBELL_IO_CQ    = uint32(0x100C)
)

// Emulated host memory region address prefixes. Bus-master requests from the
// NVMe's select the region by (address & 0x00FF0000).
const (
	REGION_MASK      = uint32(0x00FF0000)
	REGION_ADMIN_SQ  = uint32(0x00000000)
	REGION_IO_SQ     = uint32(0x00010000)
	REGION_ADMIN_CQ  = uint32(0x00100000)
	REGION_IO_CQ     = uint32(0x00110000)
	REGION_BLOCK     = uint32(0x00800000)
	REGION_DATA_SINK = uint32(0x00E00000)
	REGION_STREAM    = uint32(0x00F00000)
)

// Host memory addresses as programmed into the NVMe's. The 0x01 top byte
// routes bus-master accesses to the host, 0x02 routes them via the FPGA
// queue engine. Bit 0x10000000 selects NVMe unit 1.
const (
	ADDR_ADMIN_SQ     = uint32(0x01000000)
	ADDR_ADMIN_CQ     = uint32(0x01100000)
	ADDR_QE_ADMIN_SQ  = uint32(0x02000000)
	ADDR_QE_ADMIN_CQ  = uint32(0x02100000)
	ADDR_BLOCK_BUFFER = uint32(0x01800000)
	ADDR_DATA_SINK    = uint32(0x01E00000)
	ADDR_NVME1_BIT    = uint32(0x10000000)
)

// NVMe admin command opcodes used here
const (
	NVME_ADMIN_DELETE_SQ    = 0x00
	NVME_ADMIN_CREATE_SQ    = 0x01
	NVME_ADMIN_GET_LOG_PAGE = 0x02
	NVME_ADMIN_DELETE_CQ    = 0x04
	NVME_ADMIN_CREATE_CQ    = 0x05
	NVME_ADMIN_IDENTIFY     = 0x06
	NVME_ADMIN_SET_FEATURES = 0x09
	NVME_ADMIN_GET_FEATURES = 0x0A
	NVME_ADMIN_ASYNC_EVENT  = 0x0C
)

// NVMe IO command opcodes used here
const (
	NVME_IO_WRITE = 0x01
	NVME_IO_READ  = 0x02
	NVME_IO_TRIM  = 0x08
)

// reply wait budgets
const (
	PCIE_REPLY_TIMEOUT  = 2 * time.Second
	QUEUE_REPLY_TIMEOUT = 10 * time.Second
)
