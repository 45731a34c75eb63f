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
// The dispatcher goroutine. It owns the receive side of the DMA stream
// exclusively and classifies every inbound frame as either a reply to a
// host request or a bus-master request from one of the NVMe's. Replies are
// correlated to the waiting foreground transaction; NVMe reads are served
// from the emulated host memory regions; NVMe writes update the completion
// queues, drive the doorbells and feed the streaming sink.

package plnvme

// dispatcher runs until the DMA endpoint is closed. It is started by
// NvmeAccess.Start().
func (nvme *NvmeAccess) dispatcher() {
	defer nvme.dispatcherWait.Done()

	buf := make([]byte, FRAME_SIZE_MAX)

	for {
		// read the next packet from the FPGA. Could be a request or a
		// reply
		nt, err := nvme.ep.RecvFrame(buf)
		if err != nil {
			// endpoint closed, terminate
			Log(LOG_DEBUG, "NvmeAccess: dispatcher exiting: %v", err)
			return
		}
		if nt < REPLY_HEADER_SIZE {
			Log(LOG_WARN, "NvmeAccess: runt frame of %d bytes dropped", nt)
			continue
		}

		// the reply bit in the third header word discriminates replies
		// from NVMe originated requests
		if frameIsReply(buf[:nt]) {
			if err := nvme.packetReply.Decode(buf[:nt]); err != nil {
				Log(LOG_WARN, "NvmeAccess: bad reply frame: %v", err)
				continue
			}
			nvme.packetReplySem.Set()
			continue
		}

		var request NvmeRequestPacket
		if err := request.Decode(buf[:nt]); err != nil {
			Log(LOG_WARN, "NvmeAccess: bad request frame: %v", err)
			continue
		}

		switch request.Request {
		case PCIE_REQ_MEM_READ:
			nvme.serveMemoryRead(&request)
		case PCIE_REQ_MEM_WRITE:
			nvme.serveMemoryWrite(&request)
		default:
			Log(LOG_WARN, "NvmeAccess: unknown request %d dropped",
				request.Request)
		}
	}
}

// serveMemoryRead answers an NVMe bus-master read from the emulated host
// memory region addressed by the request. The response is chunked into
// replies of at most PCIE_MAX_PAYLOAD_SIZE words each.
func (nvme *NvmeAccess) serveMemoryRead(request *NvmeRequestPacket) {
	address := uint32(request.Address)

	var region []uint32
	switch address & REGION_MASK {
	case REGION_ADMIN_SQ:
		region = nvme.queueAdminMem[:]
	case REGION_IO_SQ:
		region = nvme.queueDataMem[:]
	case REGION_BLOCK, REGION_DATA_SINK:
		region = nvme.dataBlockMem[:]
	default:
		nvme.statUnknownReads++
		Log(LOG_WARN, "NvmeAccess: read from unknown address 0x%8.8x dropped",
			address)
		return
	}

	if offset := (address & 0xFFFF) / 4; int(offset+request.NumWords) > len(region) {
		nvme.statUnknownReads++
		Log(LOG_WARN, "NvmeAccess: read of %d words at 0x%8.8x overruns its region",
			request.NumWords, address)
		return
	}

	remaining := request.NumWords
	for remaining > 0 {
		numWords := remaining
		if numWords > PCIE_MAX_PAYLOAD_SIZE {
			numWords = PCIE_MAX_PAYLOAD_SIZE
		}

		reply := NvmeReplyPacket{
			Reply:    true,
			Address:  uint16(address & 0x0FFF),
			NumBytes: remaining * 4,
			NumWords: numWords,
			Tag:      request.Tag,
		}
		if nvme.nvmeNum == 1 {
			reply.CompleterId = 0x0100
		}
		copy(reply.Data[:numWords], region[(address&0xFFFF)/4:])

		if err := nvme.ep.SendFrame(reply.Encode()); err != nil {
			Log(LOG_WARN, "NvmeAccess: reply send failed: %v", err)
			return
		}

		remaining -= numWords
		address += 4 * numWords
	}
}

// serveMemoryWrite handles an NVMe bus-master write: a completion queue
// entry, block data for the block buffer, or streamed read data for the
// installed data sink.
func (nvme *NvmeAccess) serveMemoryWrite(request *NvmeRequestPacket) {
	address := uint32(request.Address)

	switch address & REGION_MASK {
	case REGION_ADMIN_CQ:
		// admin completion entry: dword3 holds the phase and status bits
		status := request.Data[3] >> 17
		Log(LOG_DEBUG,
			"NvmeAccess: admin completion: queue %d head %d status 0x%4.4x cmd 0x%x",
			request.Data[2]>>16, request.Data[2]&0xFFFF, status,
			request.Data[3]&0xFFFF)

		nvme.queueAdminRx++
		if nvme.queueAdminRx >= nvme.queueNum {
			nvme.queueAdminRx = 0
		}

		if !nvme.useQueueEngine {
			if err := nvme.WriteNvmeReg32(DOORBELL_ADMIN_CQ, nvme.queueAdminRx); err != nil {
				Log(LOG_WARN, "NvmeAccess: admin doorbell write failed: %v", err)
			}
		}

		nvme.setQueueStatus(status)
		nvme.queueReplySem.Set()

	case REGION_IO_CQ:
		status := request.Data[3] >> 17
		Log(LOG_DEBUG,
			"NvmeAccess: IO completion: queue %d head %d status 0x%4.4x cmd 0x%x",
			request.Data[2]>>16, request.Data[2]&0xFFFF, status,
			request.Data[3]&0xFFFF)

		nvme.queueDataRx++
		if nvme.queueDataRx >= nvme.queueNum {
			nvme.queueDataRx = 0
		}

		if !nvme.useQueueEngine {
			if err := nvme.WriteNvmeReg32(DOORBELL_IO_CQ, nvme.queueDataRx); err != nil {
				Log(LOG_WARN, "NvmeAccess: IO doorbell write failed: %v", err)
			}
		}

		if status != 0 {
			Log(LOG_WARN, "NvmeAccess: queued command returned status 0x%4.4x",
				status)
		}
		nvme.setQueueStatus(status)
		nvme.queueReplySem.Set()

	case REGION_BLOCK:
		offset := (address & 0xFFFF) / 4
		if int(offset+request.NumWords) > len(nvme.dataBlockMem) {
			nvme.statUnknownWrites++
			Log(LOG_WARN,
				"NvmeAccess: write of %d words at 0x%8.8x overruns the block buffer",
				request.NumWords, address)
			return
		}
		copy(nvme.dataBlockMem[offset:], request.Data[:request.NumWords])

	case REGION_DATA_SINK, REGION_STREAM:
		nvme.dataSink().NvmeDataPacket(request)

	default:
		nvme.statUnknownWrites++
		Log(LOG_WARN, "NvmeAccess: write to unknown address 0x%8.8x dropped",
			address)
	}
}

// setQueueStatus records the status word of the most recent NVMe
// completion.
func (nvme *NvmeAccess) setQueueStatus(status uint32) {
	nvme.queueMutex.Lock()
	nvme.queueStatus = status
	nvme.queueMutex.Unlock()
}

// lastQueueStatus returns the status word of the most recent NVMe
// completion.
func (nvme *NvmeAccess) lastQueueStatus() uint32 {
	nvme.queueMutex.Lock()
	defer nvme.queueMutex.Unlock()
	return nvme.queueStatus
}
