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
// The NVMe submission queue discipline: building 64 byte commands,
// allocating submission slots, writing doorbells and optionally waiting for
// the completion to come back through the dispatcher.

package plnvme

import "fmt"

// NvmeRequest sends a queued command to the NVMe. queue selects the admin
// (0) or an IO submission queue, opcode is the NVMe command opcode, address
// is PRP1 (PRP2 is set to the following 4 KByte page) and arg10 to arg12
// fill command dwords 10 to 12. With wait set, the call blocks until the
// NVMe posts the completion and surfaces a non-zero completion status as an
// NvmeStatusError.
func (nvme *NvmeAccess) NvmeRequest(wait bool, queue int, opcode uint8,
	nameSpace uint32, address uint32, arg10, arg11, arg12 uint32) error {

	var cmd [16]uint32

	nvme.queueAdminId++
	cmd[0] = (0x01 << 24) | ((nvme.queueAdminId & 0xFF) << 16) | uint32(opcode)
	cmd[1] = nameSpace
	cmd[6] = address        // PRP1
	cmd[8] = address + 4096 // PRP2
	cmd[10] = arg10
	cmd[11] = arg11
	cmd[12] = arg12

	// make sure a stale completion signal is not picked up
	nvme.queueReplySem.Wait(0)
	nvme.setQueueStatus(0)

	if nvme.useQueueEngine {
		// hand the command to the FPGA queue engine
		nvmeAddress := uint32(0x02000000) | (uint32(queue) << 16)
		Log(LOG_DEBUG, "NvmeAccess: queue engine submit: 0x%8.8x opcode 0x%x",
			nvmeAddress, opcode)
		if err := nvme.PcieWrite(PCIE_REQ_MEM_WRITE, nvmeAddress, cmd[:]); err != nil {
			return err
		}
	} else if queue != 0 {
		// copy into the emulated IO submission queue and ring the
		// doorbell
		copy(nvme.queueDataMem[nvme.queueDataTx*16:], cmd[:])

		Log(LOG_DEBUG, "NvmeAccess: submit IO opcode 0x%x to slot %d",
			opcode, nvme.queueDataTx)

		nvme.queueDataTx++
		if nvme.queueDataTx >= nvme.queueNum {
			nvme.queueDataTx = 0
		}

		if err := nvme.WriteNvmeReg32(DOORBELL_IO_SQ, nvme.queueDataTx); err != nil {
			return err
		}
	} else {
		// copy into the emulated admin submission queue and ring the
		// doorbell
		copy(nvme.queueAdminMem[nvme.queueAdminTx*16:], cmd[:])

		Log(LOG_DEBUG, "NvmeAccess: submit admin opcode 0x%x to slot %d",
			opcode, nvme.queueAdminTx)

		nvme.queueAdminTx++
		if nvme.queueAdminTx >= nvme.queueNum {
			nvme.queueAdminTx = 0
		}

		if err := nvme.WriteNvmeReg32(DOORBELL_ADMIN_SQ, nvme.queueAdminTx); err != nil {
			return err
		}
	}

	if wait {
		// wait for the completion processed by the dispatcher
		if !nvme.queueReplySem.Wait(QUEUE_REPLY_TIMEOUT) {
			return fmt.Errorf("nvme command 0x%x: %w", opcode, ErrTimeout)
		}
		if status := nvme.lastQueueStatus(); status != 0 {
			return &NvmeStatusError{Status: status}
		}
	}

	return nil
}
