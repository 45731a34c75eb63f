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
// In-memory frame endpoint standing in for the bfpga device in tests. A
// test installs a handler that models the FPGA side: it sees every frame
// the host sends and pushes the FPGA's frames into the receive queue.

package plnvme

import (
	"errors"
	"sync"
)

type fakeEndpoint struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool

	// handler models the FPGA: called synchronously with every frame the
	// host sends
	handler func(frame []byte)

	// record of all frames sent by the host
	sent [][]byte
}

func fakeEndpointCreate() *fakeEndpoint {
	fe := &fakeEndpoint{}
	fe.cond = sync.NewCond(&fe.mutex)
	return fe
}

// push queues a frame for reception by the dispatcher.
func (fe *fakeEndpoint) push(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	fe.mutex.Lock()
	fe.queue = append(fe.queue, cp)
	fe.mutex.Unlock()
	fe.cond.Signal()
}

// sentFrames returns a snapshot of the frames the host has sent.
func (fe *fakeEndpoint) sentFrames() [][]byte {
	fe.mutex.Lock()
	defer fe.mutex.Unlock()
	return append([][]byte(nil), fe.sent...)
}

func (fe *fakeEndpoint) SendFrame(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	fe.mutex.Lock()
	if fe.closed {
		fe.mutex.Unlock()
		return errors.New("endpoint closed")
	}
	fe.sent = append(fe.sent, cp)
	handler := fe.handler
	fe.mutex.Unlock()

	if handler != nil {
		handler(cp)
	}
	return nil
}

func (fe *fakeEndpoint) RecvFrame(buf []byte) (int, error) {
	fe.mutex.Lock()
	defer fe.mutex.Unlock()

	for len(fe.queue) == 0 && !fe.closed {
		fe.cond.Wait()
	}
	if fe.closed {
		return 0, errors.New("endpoint closed")
	}

	frame := fe.queue[0]
	fe.queue = fe.queue[1:]
	copy(buf, frame)
	return len(frame), nil
}

func (fe *fakeEndpoint) Readable() (int, error) {
	fe.mutex.Lock()
	defer fe.mutex.Unlock()

	n := 0
	for _, frame := range fe.queue {
		n += len(frame)
	}
	return n, nil
}

func (fe *fakeEndpoint) Close() error {
	fe.mutex.Lock()
	fe.closed = true
	fe.mutex.Unlock()
	fe.cond.Broadcast()
	return nil
}

// fakeFpga models the FPGA's config space, NVMe registers and queue engine
// behind a fakeEndpoint.
type fakeFpga struct {
	fe *fakeEndpoint

	mutex      sync.Mutex
	configRegs map[uint32]uint32
	nvmeRegs   map[uint32]uint32
	memWrites  []NvmeRequestPacket // recorded bus-master style writes
	replies    []NvmeReplyPacket   // host replies to NVMe reads

	// completionStatus is placed into completions the model posts in
	// response to queue engine submissions
	completionStatus uint32
	postCompletions  bool
}

func fakeFpgaCreate() *fakeFpga {
	fpga := &fakeFpga{
		fe:         fakeEndpointCreate(),
		configRegs: map[uint32]uint32{4: 0x00100000},
		nvmeRegs:   map[uint32]uint32{},
	}
	fpga.fe.handler = fpga.handle
	return fpga
}

// handle processes one frame sent by the host.
func (fpga *fakeFpga) handle(frame []byte) {
	if frameIsReply(frame) {
		var reply NvmeReplyPacket
		if err := reply.Decode(frame); err != nil {
			panic(err)
		}
		fpga.mutex.Lock()
		fpga.replies = append(fpga.replies, reply)
		fpga.mutex.Unlock()
		return
	}

	var request NvmeRequestPacket
	if err := request.Decode(frame); err != nil {
		panic(err)
	}
	address := uint32(request.Address)

	switch request.Request {
	case PCIE_REQ_CONFIG_READ:
		fpga.mutex.Lock()
		data := fpga.configRegs[address]
		fpga.mutex.Unlock()
		fpga.reply(&request, []uint32{data})

	case PCIE_REQ_CONFIG_WRITE:
		fpga.mutex.Lock()
		fpga.configRegs[address] = request.Data[0]
		fpga.mutex.Unlock()
		fpga.reply(&request, nil)

	case PCIE_REQ_MEM_READ:
		words := make([]uint32, request.NumWords)
		fpga.mutex.Lock()
		for i := range words {
			words[i] = fpga.nvmeRegs[address+4*uint32(i)]
		}
		fpga.mutex.Unlock()
		fpga.reply(&request, words)

	case PCIE_REQ_MEM_WRITE:
		fpga.mutex.Lock()
		fpga.memWrites = append(fpga.memWrites, request)
		for i := uint32(0); i < request.NumWords; i++ {
			fpga.nvmeRegs[address+4*i] = request.Data[i]
		}
		post := fpga.postCompletions && address&0x0F000000 == 0x02000000
		status := fpga.completionStatus
		fpga.mutex.Unlock()

		if post {
			// queue engine submission: post a completion entry to
			// the admin or IO completion queue region
			region := REGION_ADMIN_CQ
			if (address>>16)&0xFF != 0 {
				region = REGION_IO_CQ
			}
			fpga.postCompletion(region, request.Data[0], status)
		}
	}
}

// reply sends a reply frame for a host request.
func (fpga *fakeFpga) reply(request *NvmeRequestPacket, data []uint32) {
	reply := NvmeReplyPacket{
		Reply:    true,
		Address:  uint16(request.Address & 0xFFF),
		NumWords: uint32(len(data)),
		NumBytes: uint32(4 * len(data)),
		Tag:      request.Tag,
	}
	copy(reply.Data[:], data)
	fpga.fe.push(reply.Encode())
}

// postCompletion pushes an NVMe completion entry write to the host.
func (fpga *fakeFpga) postCompletion(region uint32, cmd0 uint32, status uint32) {
	completion := NvmeRequestPacket{
		Request:  PCIE_REQ_MEM_WRITE,
		Address:  uint64(region),
		NumWords: 4,
	}
	completion.Data[2] = 0 // queue and head pointer
	completion.Data[3] = (status << 17) | (cmd0 >> 16 & 0xFF)
	fpga.fe.push(completion.Encode())
}

// memWriteCount returns the number of recorded memory writes.
func (fpga *fakeFpga) memWriteCount() int {
	fpga.mutex.Lock()
	defer fpga.mutex.Unlock()
	return len(fpga.memWrites)
}

// memWrite returns a recorded memory write.
func (fpga *fakeFpga) memWrite(i int) NvmeRequestPacket {
	fpga.mutex.Lock()
	defer fpga.mutex.Unlock()
	return fpga.memWrites[i]
}

// hostReplies returns the host replies observed so far.
func (fpga *fakeFpga) hostReplies() []NvmeReplyPacket {
	fpga.mutex.Lock()
	defer fpga.mutex.Unlock()
	return append([]NvmeReplyPacket(nil), fpga.replies...)
}

// nvmeAccessOnFake creates an NvmeAccess struct wired to the model.
func nvmeAccessOnFake(fpga *fakeFpga) *NvmeAccess {
	regs := make([]uint32, 1024)
	return newNvmeAccess(fpga.fe, regs)
}
