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
// Access to the bfpga kernel driver: the memory mapped register window and
// the two framed DMA streams. The driver delivers exactly one framed packet
// per read on the receive stream and expects exactly one framed packet per
// write on the send stream.

package plnvme

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BFpgaMem describes one memory window exported by the bfpga driver.
type BFpgaMem struct {
	PhysAddress uint64
	Length      uint64
}

// BFpgaInfo is the information block returned by the BFPGA_CMD_GETINFO
// ioctl. The layout matches the driver's BFpgaInfo struct.
type BFpgaInfo struct {
	Regs        BFpgaMem
	DmaRegs     BFpgaMem
	DmaChannels [8]BFpgaMem
}

// BFPGA_CMD_GETINFO is _IOR('Z', 0, BFpgaInfo).
const BFPGA_CMD_GETINFO = uintptr(2<<30 | uint32(unsafe.Sizeof(BFpgaInfo{}))<<16 | 'Z'<<8 | 0)

// packetEndpoint is the frame transport the dispatcher and the PCIe
// transport operate on. The bfpga Endpoint implements it against the real
// device nodes; tests substitute an in-memory implementation.
type packetEndpoint interface {
	SendFrame(frame []byte) error
	RecvFrame(buf []byte) (int, error)
	Readable() (int, error)
	Close() error
}

// Endpoint is the bfpga device endpoint: one register window and a framed
// DMA send/receive stream pair.
type Endpoint struct {
	regsFd int
	sendFd int
	recvFd int
	info   BFpgaInfo

	regsMap    []byte
	dmaRegsMap []byte
	regs       []uint32
	dmaRegs    []uint32

	// SendFrame is called from both the foreground and the dispatcher
	sendMutex sync.Mutex
}

// EndpointOpen opens the bfpga device nodes and maps the register windows.
func EndpointOpen(devRegs, devSend, devRecv string) (*Endpoint, error) {
	ep := &Endpoint{
		regsFd: -1,
		sendFd: -1,
		recvFd: -1,
	}

	var err error
	ep.regsFd, err = unix.Open(devRegs, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", devRegs, err, ErrTransport)
	}

	// fetch the physical addresses of the register windows
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(ep.regsFd),
		BFPGA_CMD_GETINFO, uintptr(unsafe.Pointer(&ep.info)))
	if errno != 0 {
		ep.Close()
		return nil, fmt.Errorf("ioctl GETINFO: %v: %w", errno, ErrTransport)
	}

	Log(LOG_DEBUG, "bfpga register window: 0x%x(0x%x)",
		ep.info.Regs.PhysAddress, ep.info.Regs.Length)

	ep.regsMap, err = unix.Mmap(ep.regsFd, int64(ep.info.Regs.PhysAddress),
		int(ep.info.Regs.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("mmap registers: %v: %w", err, ErrTransport)
	}
	ep.regs = wordSlice(ep.regsMap)

	ep.dmaRegsMap, err = unix.Mmap(ep.regsFd, int64(ep.info.DmaRegs.PhysAddress),
		int(ep.info.DmaRegs.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("mmap dma registers: %v: %w", err, ErrTransport)
	}
	ep.dmaRegs = wordSlice(ep.dmaRegsMap)

	ep.sendFd, err = unix.Open(devSend, unix.O_RDWR, 0)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("open %s: %v: %w", devSend, err, ErrTransport)
	}

	ep.recvFd, err = unix.Open(devRecv, unix.O_RDWR, 0)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("open %s: %v: %w", devRecv, err, ErrTransport)
	}

	return ep, nil
}

// wordSlice views a byte mapping as 32bit words.
func wordSlice(mem []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), len(mem)/4)
}

// Regs returns the NvmeStorage register window.
func (ep *Endpoint) Regs() []uint32 {
	return ep.regs
}

// DmaRegs returns the XDMA core's control register window.
func (ep *Endpoint) DmaRegs() []uint32 {
	return ep.dmaRegs
}

// SendFrame writes one framed packet to the send stream. The write is
// serialized, as frames are sent from both the foreground and the
// dispatcher.
func (ep *Endpoint) SendFrame(frame []byte) error {
	ep.sendMutex.Lock()
	defer ep.sendMutex.Unlock()

	n, err := unix.Write(ep.sendFd, frame)
	if err != nil {
		return fmt.Errorf("send frame: %v: %w", err, ErrTransport)
	}
	if n != len(frame) {
		return fmt.Errorf("send frame: short write %d of %d bytes: %w",
			n, len(frame), ErrTransport)
	}
	return nil
}

// RecvFrame reads one framed packet from the receive stream, blocking until
// a frame arrives. The driver guarantees frame aligned reads.
func (ep *Endpoint) RecvFrame(buf []byte) (int, error) {
	for {
		n, err := unix.Read(ep.recvFd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("recv frame: %v: %w", err, ErrTransport)
		}
		return n, nil
	}
}

// Readable returns the number of bytes immediately available on the receive
// stream. Used at startup to drain stale frames left over from before a
// reset.
func (ep *Endpoint) Readable() (int, error) {
	n, err := unix.IoctlGetInt(ep.recvFd, unix.FIONREAD)
	if err != nil {
		return 0, fmt.Errorf("FIONREAD: %v: %w", err, ErrTransport)
	}
	return n, nil
}

// Close unmaps the register windows and closes the device nodes. Closing
// the receive stream causes a blocked RecvFrame to return an error, which
// terminates the dispatcher.
func (ep *Endpoint) Close() error {
	if ep.recvFd >= 0 {
		unix.Close(ep.recvFd)
		ep.recvFd = -1
	}
	if ep.sendFd >= 0 {
		unix.Close(ep.sendFd)
		ep.sendFd = -1
	}
	if ep.dmaRegsMap != nil {
		unix.Munmap(ep.dmaRegsMap)
		ep.dmaRegsMap = nil
		ep.dmaRegs = nil
	}
	if ep.regsMap != nil {
		unix.Munmap(ep.regsMap)
		ep.regsMap = nil
		ep.regs = nil
	}
	if ep.regsFd >= 0 {
		unix.Close(ep.regsFd)
		ep.regsFd = -1
	}
	return nil
}
