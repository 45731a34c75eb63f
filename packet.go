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
// Request and reply packet frames as exchanged with the FPGA on the DMA
// stream. The bit layout is the compatibility contract with the FPGA fabric
// and is encoded with explicit shifts and masks into little-endian 32bit
// words, independent of the host byte order.
//
// Request header (16 bytes):
//   word0  address[31:0]
//   word1  address[63:32]
//   word2  numWords[10:0], request[14:11], requesterId[31:16]
//   word3  tag[7:0], completerId[23:8], requesterIdEnable[24]
//
// Reply header (12 bytes):
//   word0  address[11:0], error[15:12], numBytes[28:16]
//   word1  numWords[10:0], status[13:11], requesterId[31:16]
//   word2  tag[7:0], completerId[23:8], reply[31]
//
// The reply bit at bit 31 of header word 2 is the sole discriminator
// between inbound replies and inbound NVMe originated requests.

package plnvme

import (
	"encoding/binary"
	"fmt"
)

// abbreviations
var le = binary.LittleEndian

// frame sizes in bytes
const (
	REQUEST_HEADER_SIZE = 16
	REPLY_HEADER_SIZE   = 12
	FRAME_SIZE_MAX      = REQUEST_HEADER_SIZE + 4*PCIE_MAX_PAYLOAD_SIZE
)

// NvmeRequestPacket is a request frame. It is sent host to FPGA to access
// the NVMe's PCIe config space and registers, and is received FPGA to host
// when an NVMe bus-masters into emulated host memory.
type NvmeRequestPacket struct {
	Address           uint64 // 64bit read/write address
	NumWords          uint32 // number of 32bit data words to transfer
	Request           uint8  // request code (PCIE_REQ_*)
	RequesterId       uint16 // requester's ID, used as the stream ID
	Tag               uint8  // returned in the reply
	CompleterId       uint16 // completer's ID
	RequesterIdEnable bool   // enable manual use of the requesterId field

	Data [PCIE_MAX_PAYLOAD_SIZE]uint32
}

// NvmeReplyPacket is a reply frame, sent host to FPGA in response to NVMe
// bus-master reads and received FPGA to host in response to config and
// register accesses.
type NvmeReplyPacket struct {
	Address     uint16 // lower 12 bits of the request address
	Error       uint8  // error number, non-zero on failure
	NumBytes    uint32 // total number of bytes remaining to transfer
	NumWords    uint32 // number of 32bit words in this reply
	Status      uint8  // request status
	RequesterId uint16
	Tag         uint8
	CompleterId uint16
	Reply       bool // discriminates replies from requests

	Data [PCIE_MAX_PAYLOAD_SIZE]uint32
}

// hasPayload determines whether a request code carries inline data words.
func hasPayload(request uint8) bool {
	return request == PCIE_REQ_MEM_WRITE || request == PCIE_REQ_CONFIG_WRITE ||
		request == PCIE_REQ_VENDOR_WRITE
}

// frameIsReply tests the reply discriminator bit of an encoded frame. The
// frame must hold at least the three common header words.
func frameIsReply(frame []byte) bool {
	return le.Uint32(frame[8:12])&0x80000000 != 0
}

// Encode serializes the request into its wire format. Read requests are
// header-only, write requests append NumWords payload words.
func (pkt *NvmeRequestPacket) Encode() []byte {
	size := REQUEST_HEADER_SIZE
	if hasPayload(pkt.Request) {
		size += 4 * int(pkt.NumWords)
	}
	frame := make([]byte, size)

	le.PutUint32(frame[0:4], uint32(pkt.Address))
	le.PutUint32(frame[4:8], uint32(pkt.Address>>32))

	w2 := (pkt.NumWords & 0x7FF) |
		(uint32(pkt.Request&0xF) << 11) |
		(uint32(pkt.RequesterId) << 16)
	le.PutUint32(frame[8:12], w2)

	w3 := uint32(pkt.Tag) |
		(uint32(pkt.CompleterId) << 8)
	if pkt.RequesterIdEnable {
		w3 |= 1 << 24
	}
	le.PutUint32(frame[12:16], w3)

	if hasPayload(pkt.Request) {
		for i := uint32(0); i < pkt.NumWords; i++ {
			le.PutUint32(frame[16+4*i:20+4*i], pkt.Data[i])
		}
	}

	return frame
}

// Decode deserializes a request frame. Excess trailing bytes are tolerated;
// the encoded numWords field bounds payload extraction.
func (pkt *NvmeRequestPacket) Decode(frame []byte) error {
	if len(frame) < REQUEST_HEADER_SIZE {
		return fmt.Errorf("request frame of %d bytes: %w", len(frame), ErrProtocol)
	}

	pkt.Address = uint64(le.Uint32(frame[0:4])) |
		(uint64(le.Uint32(frame[4:8])) << 32)

	w2 := le.Uint32(frame[8:12])
	pkt.NumWords = w2 & 0x7FF
	pkt.Request = uint8((w2 >> 11) & 0xF)
	pkt.RequesterId = uint16(w2 >> 16)

	w3 := le.Uint32(frame[12:16])
	pkt.Tag = uint8(w3)
	pkt.CompleterId = uint16((w3 >> 8) & 0xFFFF)
	pkt.RequesterIdEnable = (w3>>24)&1 != 0

	pkt.Data = [PCIE_MAX_PAYLOAD_SIZE]uint32{}
	if hasPayload(pkt.Request) {
		// read requests may ask for more than a payload's worth of
		// words (the reply is chunked); frames carrying data are
		// bounded by the payload size
		if pkt.NumWords > PCIE_MAX_PAYLOAD_SIZE {
			return fmt.Errorf("request numWords %d: %w", pkt.NumWords, ErrProtocol)
		}
		if len(frame) < REQUEST_HEADER_SIZE+4*int(pkt.NumWords) {
			return fmt.Errorf("request frame of %d bytes with %d payload words: %w",
				len(frame), pkt.NumWords, ErrProtocol)
		}
		for i := uint32(0); i < pkt.NumWords; i++ {
			pkt.Data[i] = le.Uint32(frame[16+4*i : 20+4*i])
		}
	}

	return nil
}

// Encode serializes the reply into its wire format: the three header words
// followed by NumWords payload words.
func (pkt *NvmeReplyPacket) Encode() []byte {
	frame := make([]byte, REPLY_HEADER_SIZE+4*int(pkt.NumWords))

	w0 := (uint32(pkt.Address) & 0xFFF) |
		(uint32(pkt.Error&0xF) << 12) |
		((pkt.NumBytes & 0x1FFF) << 16)
	le.PutUint32(frame[0:4], w0)

	w1 := (pkt.NumWords & 0x7FF) |
		(uint32(pkt.Status&0x7) << 11) |
		(uint32(pkt.RequesterId) << 16)
	le.PutUint32(frame[4:8], w1)

	w2 := uint32(pkt.Tag) |
		(uint32(pkt.CompleterId) << 8)
	if pkt.Reply {
		w2 |= 1 << 31
	}
	le.PutUint32(frame[8:12], w2)

	for i := uint32(0); i < pkt.NumWords; i++ {
		le.PutUint32(frame[12+4*i:16+4*i], pkt.Data[i])
	}

	return frame
}

// Decode deserializes a reply frame. Excess trailing bytes are tolerated.
func (pkt *NvmeReplyPacket) Decode(frame []byte) error {
	if len(frame) < REPLY_HEADER_SIZE {
		return fmt.Errorf("reply frame of %d bytes: %w", len(frame), ErrProtocol)
	}

	w0 := le.Uint32(frame[0:4])
	pkt.Address = uint16(w0 & 0xFFF)
	pkt.Error = uint8((w0 >> 12) & 0xF)
	pkt.NumBytes = (w0 >> 16) & 0x1FFF

	w1 := le.Uint32(frame[4:8])
	pkt.NumWords = w1 & 0x7FF
	pkt.Status = uint8((w1 >> 11) & 0x7)
	pkt.RequesterId = uint16(w1 >> 16)

	w2 := le.Uint32(frame[8:12])
	pkt.Tag = uint8(w2)
	pkt.CompleterId = uint16((w2 >> 8) & 0xFFFF)
	pkt.Reply = w2&0x80000000 != 0

	if pkt.NumWords > PCIE_MAX_PAYLOAD_SIZE {
		return fmt.Errorf("reply numWords %d: %w", pkt.NumWords, ErrProtocol)
	}
	if len(frame) < REPLY_HEADER_SIZE+4*int(pkt.NumWords) {
		return fmt.Errorf("reply frame of %d bytes with %d payload words: %w",
			len(frame), pkt.NumWords, ErrProtocol)
	}

	pkt.Data = [PCIE_MAX_PAYLOAD_SIZE]uint32{}
	for i := uint32(0); i < pkt.NumWords; i++ {
		pkt.Data[i] = le.Uint32(frame[12+4*i : 16+4*i])
	}

	return nil
}
