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
// Toplevel NvmeAccess struct, which provides access to one or two NVMe
// storage devices sitting behind the NvmeStorage FPGA fabric. It implements
// the packet multiplexing protocol on the single bidirectional DMA stream:
// register and config requests from the host with their replies from the
// FPGA, and bus-master requests from the NVMe's with their replies from the
// host. A new NvmeAccess struct is created by calling the
// NvmeAccessCreate() function.

package plnvme

import (
	"fmt"
	"sync"
	"time"
)

// DataSink receives the bus-master write packets that the NVMe's direct at
// the streaming regions (0xE00000 and 0xF00000). The read stream controller
// installs its own implementation; the default routes payloads into the
// block data buffer.
type DataSink interface {
	NvmeDataPacket(pkt *NvmeRequestPacket)
}

// NvmeAccess is the toplevel struct providing access to the NvmeStorage
// FPGA design and the NVMe devices behind it.
type NvmeAccess struct {
	ep      packetEndpoint
	regs    []uint32 // memory mapped NvmeStorage registers
	dmaRegs []uint32 // memory mapped XDMA control registers, may be nil

	nvmeNum        uint32 // the nvme to communicate with, 2 is both
	nvmeRegbase    uint32 // the register bank base address
	queueNum       uint32 // number of queue slots
	useQueueEngine bool   // drive queues through the FPGA queue engine

	tag       uint8      // rolling tag for PCIe transactions
	pcieMutex sync.Mutex // one reply-carrying PCIe transaction at a time

	packetReplySem *Semaphore // set when a reply packet has been received
	packetReply    NvmeReplyPacket
	queueReplySem  *Semaphore // set when a queue completion has been received

	queueMutex  sync.Mutex
	queueStatus uint32 // status of the last NVMe completion

	// emulated host memory regions served to the NVMe's
	queueAdminMem [QUEUE_NUM * 16]uint32
	queueDataMem  [QUEUE_NUM * 16]uint32
	dataBlockMem  [2 * BLOCK_WORDS]uint32

	queueAdminRx uint32 // next expected admin completion slot
	queueAdminTx uint32 // next admin submission slot
	queueAdminId uint32 // rolling NVMe command id
	queueDataRx  uint32
	queueDataTx  uint32

	sinkMutex sync.Mutex
	sink      DataSink

	// diagnostics, written by the dispatcher only
	statUnknownReads  uint32
	statUnknownWrites uint32

	dispatcherWait sync.WaitGroup
	started        bool
}

// NvmeAccessCreate opens the bfpga device and creates a new NvmeAccess
// struct bound to NVMe unit 0.
func NvmeAccessCreate() (*NvmeAccess, error) {
	return NvmeAccessCreateDevices(BFPGA_DEV_REGS, BFPGA_DEV_SEND, BFPGA_DEV_RECV)
}

// NvmeAccessCreateDevices creates a new NvmeAccess struct against explicit
// bfpga device nodes.
func NvmeAccessCreateDevices(devRegs, devSend, devRecv string) (*NvmeAccess, error) {
	ep, err := EndpointOpen(devRegs, devSend, devRecv)
	if err != nil {
		return nil, err
	}

	nvme := newNvmeAccess(ep, ep.Regs())
	nvme.dmaRegs = ep.DmaRegs()
	return nvme, nil
}

// newNvmeAccess wires an NvmeAccess struct to the given frame endpoint and
// register window.
func newNvmeAccess(ep packetEndpoint, regs []uint32) *NvmeAccess {
	nvme := &NvmeAccess{
		ep:             ep,
		regs:           regs,
		nvmeRegbase:    REGBASE_NVME0,
		queueNum:       QUEUE_NUM,
		useQueueEngine: USE_QUEUE_ENGINE,
		packetReplySem: SemaphoreCreate(1),
		queueReplySem:  SemaphoreCreate(1),
	}
	nvme.sink = &blockBufferSink{nvme: nvme}
	return nvme
}

// Close shuts the endpoint down and waits for the dispatcher to exit.
func (nvme *NvmeAccess) Close() {
	nvme.ep.Close()
	nvme.dispatcherWait.Wait()
}

// SetNvme selects the NVMe unit to communicate with: 0, 1 or 2 for both.
// Selecting both makes register writes broadcast to the two units.
func (nvme *NvmeAccess) SetNvme(n uint32) {
	nvme.nvmeNum = n
	switch n {
	case 0:
		nvme.nvmeRegbase = REGBASE_NVME0
	case 1:
		nvme.nvmeRegbase = REGBASE_NVME1
	default:
		nvme.nvmeRegbase = REGBASE_NVME_ALL
	}
}

// GetNvme returns the selected NVMe unit.
func (nvme *NvmeAccess) GetNvme() uint32 {
	return nvme.nvmeNum
}

// Start drains stale frames left in the receive stream and starts the
// dispatcher goroutine. It must be called once, before any PCIe or NVMe
// transactions are performed.
func (nvme *NvmeAccess) Start() error {
	if nvme.started {
		return nil
	}

	// drain packets left over from before the last reset
	buf := make([]byte, FRAME_SIZE_MAX)
	for {
		n, err := nvme.ep.Readable()
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		nr, err := nvme.ep.RecvFrame(buf)
		if err != nil {
			return err
		}
		Log(LOG_DEBUG, "NvmeAccess: drained stale frame of %d bytes", nr)
	}

	nvme.started = true
	nvme.dispatcherWait.Add(1)
	go nvme.dispatcher()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// SetDataSink installs the handler for streaming-region bus-master writes
// and returns the previously installed one.
func (nvme *NvmeAccess) SetDataSink(sink DataSink) DataSink {
	nvme.sinkMutex.Lock()
	defer nvme.sinkMutex.Unlock()
	prev := nvme.sink
	nvme.sink = sink
	return prev
}

// dataSink returns the currently installed streaming sink.
func (nvme *NvmeAccess) dataSink() DataSink {
	nvme.sinkMutex.Lock()
	defer nvme.sinkMutex.Unlock()
	return nvme.sink
}

// ReadNvmeStorageReg reads a 32bit register of the selected NvmeStorage
// unit's register bank.
func (nvme *NvmeAccess) ReadNvmeStorageReg(address uint32) uint32 {
	return nvme.regs[(nvme.nvmeRegbase+address)/4]
}

// WriteNvmeStorageReg writes a 32bit register of the selected NvmeStorage
// unit's register bank.
func (nvme *NvmeAccess) WriteNvmeStorageReg(address uint32, data uint32) {
	nvme.regs[(nvme.nvmeRegbase+address)/4] = data
}

// readUnitReg reads a register of an explicitly selected unit's bank,
// independent of the current SetNvme selection.
func (nvme *NvmeAccess) readUnitReg(unit uint32, address uint32) uint32 {
	base := REGBASE_NVME0
	if unit == 1 {
		base = REGBASE_NVME1
	}
	return nvme.regs[(base+address)/4]
}

// Reset resets the NvmeStorage fabric and the NVMe's behind it. It polls
// the status register until the fabric reports the reset complete and then
// waits for the downstream PCIe links to retrain.
func (nvme *NvmeAccess) Reset() {
	Log(LOG_DEBUG, "NvmeAccess: reset")
	nvme.WriteNvmeStorageReg(REG_CONTROL, CONTROL_RESET)

	for {
		data := nvme.ReadNvmeStorageReg(REG_STATUS)
		if data&CONTROL_RESET == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// let the downstream link retrain
	time.Sleep(100 * time.Millisecond)
}

// PcieWrite performs a PCIe write transaction of the given request type to
// the NVMe. Config writes wait for the FPGA's reply and surface its error
// field; memory writes receive no reply from the hardware and return as
// soon as the frame is sent.
func (nvme *NvmeAccess) PcieWrite(request uint8, address uint32, data []uint32) error {
	if len(data) > PCIE_MAX_PAYLOAD_SIZE {
		return fmt.Errorf("pcie write of %d words: %w", len(data), ErrConfig)
	}
	if nvme.nvmeNum == 1 {
		address |= ADDR_NVME1_BIT
	}

	txPacket := NvmeRequestPacket{
		Request:           request,
		Address:           uint64(address),
		NumWords:          uint32(len(data)),
		RequesterId:       0x0001,
		RequesterIdEnable: true,
	}
	copy(txPacket.Data[:], data)

	if request != PCIE_REQ_CONFIG_WRITE {
		// no reply expected, do not serialize against reply-carrying
		// transactions (the dispatcher itself sends these on the
		// completion path)
		txPacket.Tag = nvme.nextTag()
		return nvme.ep.SendFrame(txPacket.Encode())
	}

	nvme.pcieMutex.Lock()
	defer nvme.pcieMutex.Unlock()

	txPacket.Tag = nvme.nextTag()
	nvme.packetReplySem.Wait(0)

	if err := nvme.ep.SendFrame(txPacket.Encode()); err != nil {
		return err
	}

	if !nvme.packetReplySem.Wait(PCIE_REPLY_TIMEOUT) {
		return fmt.Errorf("pcie write to 0x%8.8x: %w", address, ErrTimeout)
	}
	if nvme.packetReply.Error != 0 {
		return &PcieError{Code: nvme.packetReply.Error}
	}

	return nil
}

// PcieRead performs a PCIe read transaction of the given request type,
// returning num 32bit words from the reply payload.
func (nvme *NvmeAccess) PcieRead(request uint8, address uint32, num uint32) ([]uint32, error) {
	if num > PCIE_MAX_PAYLOAD_SIZE {
		return nil, fmt.Errorf("pcie read of %d words: %w", num, ErrConfig)
	}
	if nvme.nvmeNum == 1 {
		address |= ADDR_NVME1_BIT
	}

	nvme.pcieMutex.Lock()
	defer nvme.pcieMutex.Unlock()

	txPacket := NvmeRequestPacket{
		Request:           request,
		Address:           uint64(address),
		NumWords:          num,
		Tag:               nvme.nextTag(),
		RequesterId:       0x0001,
		RequesterIdEnable: true,
	}

	nvme.packetReplySem.Wait(0)

	if err := nvme.ep.SendFrame(txPacket.Encode()); err != nil {
		return nil, err
	}

	if !nvme.packetReplySem.Wait(PCIE_REPLY_TIMEOUT) {
		return nil, fmt.Errorf("pcie read from 0x%8.8x: %w", address, ErrTimeout)
	}
	if nvme.packetReply.Error != 0 {
		return nil, &PcieError{Code: nvme.packetReply.Error}
	}

	data := make([]uint32, num)
	copy(data, nvme.packetReply.Data[:num])
	return data, nil
}

// nextTag increments and returns the PCIe transaction tag. With one request
// in flight at a time the tag serves as a diagnostic aid.
func (nvme *NvmeAccess) nextTag() uint8 {
	nvme.tag++
	return nvme.tag
}

// ReadNvmeReg32 reads a 32bit NVMe controller register.
func (nvme *NvmeAccess) ReadNvmeReg32(address uint32) (uint32, error) {
	data, err := nvme.PcieRead(PCIE_REQ_MEM_READ, address, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteNvmeReg32 writes a 32bit NVMe controller register.
func (nvme *NvmeAccess) WriteNvmeReg32(address uint32, data uint32) error {
	return nvme.PcieWrite(PCIE_REQ_MEM_WRITE, address, []uint32{data})
}

// ReadNvmeReg64 reads a 64bit NVMe controller register.
func (nvme *NvmeAccess) ReadNvmeReg64(address uint32) (uint64, error) {
	data, err := nvme.PcieRead(PCIE_REQ_MEM_READ, address, 2)
	if err != nil {
		return 0, err
	}
	return uint64(data[0]) | uint64(data[1])<<32, nil
}

// WriteNvmeReg64 writes a 64bit NVMe controller register.
func (nvme *NvmeAccess) WriteNvmeReg64(address uint32, data uint64) error {
	return nvme.PcieWrite(PCIE_REQ_MEM_WRITE, address,
		[]uint32{uint32(data), uint32(data >> 32)})
}

// ConfigureNvme configures the selected NVMe unit(s) for operation: enables
// PCIe memory and bus-master access, programs the admin queues, starts the
// controller and creates the IO queue pairs.
func (nvme *NvmeAccess) ConfigureNvme() error {
	drives := []uint32{nvme.nvmeNum}
	if nvme.nvmeNum == 2 {
		drives = []uint32{0, 1}
	}

	savedNum := nvme.nvmeNum
	defer nvme.SetNvme(savedNum)

	for _, drive := range drives {
		nvme.SetNvme(drive)
		if err := nvme.configureDrive(); err != nil {
			return fmt.Errorf("nvme %d: %w", drive, err)
		}
	}

	return nil
}

// configureDrive configures the currently selected NVMe drive.
func (nvme *NvmeAccess) configureDrive() error {
	// enable PCIe memory accesses and bus mastering
	data, err := nvme.PcieRead(PCIE_REQ_CONFIG_READ, 4, 1)
	if err != nil {
		return err
	}
	if err := nvme.PcieWrite(PCIE_REQ_CONFIG_WRITE, 4, []uint32{data[0] | 6}); err != nil {
		return err
	}

	// stop the controller
	if err := nvme.WriteNvmeReg32(NVME_REG_CC, 0x00460000); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)

	// disable interrupts
	if err := nvme.WriteNvmeReg32(NVME_REG_INTMS, 0xFFFFFFFF); err != nil {
		return err
	}

	// admin queue lengths
	aqa := ((nvme.queueNum - 1) << 16) | (nvme.queueNum - 1)
	if err := nvme.WriteNvmeReg32(NVME_REG_AQA, aqa); err != nil {
		return err
	}

	// admin queue base addresses, routed either directly to the host's
	// emulated queues or through the FPGA queue engine
	sqBase, cqBase := uint64(ADDR_ADMIN_SQ), uint64(ADDR_ADMIN_CQ)
	if nvme.useQueueEngine {
		sqBase, cqBase = uint64(ADDR_QE_ADMIN_SQ), uint64(ADDR_QE_ADMIN_CQ)
	}
	if err := nvme.WriteNvmeReg64(NVME_REG_ASQ, sqBase); err != nil {
		return err
	}
	if err := nvme.WriteNvmeReg64(NVME_REG_ACQ, cqBase); err != nil {
		return err
	}

	// start the controller
	if err := nvme.WriteNvmeReg32(NVME_REG_CC, 0x00460001); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	// create the IO queue pairs
	queueBase := uint32(0x01000000)
	if nvme.useQueueEngine {
		queueBase = 0x02000000
	}
	cmd0 := (nvme.queueNum - 1) << 16

	for queue := uint32(1); queue <= 2; queue++ {
		err = nvme.NvmeRequest(true, 0, NVME_ADMIN_CREATE_CQ, 0,
			queueBase|0x00100000|(queue<<16), cmd0|queue, 0x00000001, 0)
		if err != nil {
			return fmt.Errorf("create IO completion queue %d: %w", queue, err)
		}

		err = nvme.NvmeRequest(true, 0, NVME_ADMIN_CREATE_SQ, 0,
			queueBase|(queue<<16), cmd0|queue, (queue<<16)|1, 0)
		if err != nil {
			return fmt.Errorf("create IO submission queue %d: %w", queue, err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	return nil
}

// BlockBuffer returns the emulated block data buffer, the PRP target for
// single block IO commands.
func (nvme *NvmeAccess) BlockBuffer() []uint32 {
	return nvme.dataBlockMem[:]
}

// Stats returns diagnostic counters: bus-master accesses that targeted
// unknown region prefixes, or overran the bounds of their region, and were
// dropped.
func (nvme *NvmeAccess) Stats() (unknownReads, unknownWrites uint32) {
	return nvme.statUnknownReads, nvme.statUnknownWrites
}

// blockBufferSink is the default streaming sink. It copies streamed payloads
// into the block data buffer.
type blockBufferSink struct {
	nvme *NvmeAccess
}

func (sink *blockBufferSink) NvmeDataPacket(pkt *NvmeRequestPacket) {
	offset := (uint32(pkt.Address) & 0xFFFF) / 4
	if int(offset+pkt.NumWords) > len(sink.nvme.dataBlockMem) {
		return
	}
	copy(sink.nvme.dataBlockMem[offset:], pkt.Data[:pkt.NumWords])
}
