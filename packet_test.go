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

package plnvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  NvmeRequestPacket
	}{
		{
			name: "config read",
			pkt: NvmeRequestPacket{
				Address:           0x00000004,
				NumWords:          1,
				Request:           PCIE_REQ_CONFIG_READ,
				RequesterId:       0x0001,
				Tag:               0x42,
				RequesterIdEnable: true,
			},
		},
		{
			name: "memory write full payload",
			pkt: NvmeRequestPacket{
				Address:           0x12345678DEADBEEF,
				NumWords:          PCIE_MAX_PAYLOAD_SIZE,
				Request:           PCIE_REQ_MEM_WRITE,
				RequesterId:       0xFFFF,
				Tag:               0xFF,
				CompleterId:       0x0100,
				RequesterIdEnable: true,
			},
		},
		{
			name: "vendor write",
			pkt: NvmeRequestPacket{
				Address:  0x02010000,
				NumWords: 16,
				Request:  PCIE_REQ_VENDOR_WRITE,
				Tag:      0x01,
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if hasPayload(test.pkt.Request) {
				for i := uint32(0); i < test.pkt.NumWords; i++ {
					test.pkt.Data[i] = 0xA5000000 | i
				}
			}

			frame := test.pkt.Encode()

			if hasPayload(test.pkt.Request) {
				require.Len(t, frame, REQUEST_HEADER_SIZE+4*int(test.pkt.NumWords))
			} else {
				require.Len(t, frame, REQUEST_HEADER_SIZE)
			}

			var decoded NvmeRequestPacket
			require.NoError(t, decoded.Decode(frame))
			assert.Equal(t, test.pkt, decoded)
		})
	}
}

func TestReplyPacketRoundTrip(t *testing.T) {
	pkt := NvmeReplyPacket{
		Address:     0xFFF,
		Error:       0xF,
		NumBytes:    0x1FFF,
		NumWords:    PCIE_MAX_PAYLOAD_SIZE,
		Status:      0x7,
		RequesterId: 0x1234,
		Tag:         0xAB,
		CompleterId: 0x0100,
		Reply:       true,
	}
	for i := uint32(0); i < pkt.NumWords; i++ {
		pkt.Data[i] = i * 1024
	}

	frame := pkt.Encode()
	require.Len(t, frame, REPLY_HEADER_SIZE+4*int(pkt.NumWords))

	var decoded NvmeReplyPacket
	require.NoError(t, decoded.Decode(frame))
	assert.Equal(t, pkt, decoded)
}

func TestReplyDiscrimination(t *testing.T) {
	// only bit 31 of header word 2 participates in the discrimination
	reply := NvmeReplyPacket{Reply: true, Tag: 0xFF, CompleterId: 0xFFFF}
	assert.True(t, frameIsReply(reply.Encode()))

	reply.Reply = false
	assert.False(t, frameIsReply(reply.Encode()))

	// a request with numWords, request and the low 15 requesterId bits all
	// set still decodes as a request
	request := NvmeRequestPacket{
		NumWords:    0x7FF,
		Request:     0xF,
		RequesterId: 0x7FFF,
	}
	assert.False(t, frameIsReply(request.Encode()))
}

func TestPacketDecodeErrors(t *testing.T) {
	// truncated frames
	var request NvmeRequestPacket
	assert.ErrorIs(t, request.Decode(make([]byte, 11)), ErrProtocol)

	var reply NvmeReplyPacket
	assert.ErrorIs(t, reply.Decode(make([]byte, 11)), ErrProtocol)

	// a data carrying request whose numWords exceeds the payload size
	bad := NvmeRequestPacket{Request: PCIE_REQ_MEM_WRITE, NumWords: 4}
	frame := bad.Encode()
	frame[8] = 33 // numWords = 33
	assert.ErrorIs(t, request.Decode(frame), ErrProtocol)

	// a reply whose encoded numWords exceeds its payload
	short := NvmeReplyPacket{Reply: true, NumWords: 2}
	frame = short.Encode()
	frame[4] = 8 // numWords = 8, but only 2 words of payload follow
	assert.ErrorIs(t, reply.Decode(frame), ErrProtocol)
}

func TestRequestDecodeToleratesTrailingBytes(t *testing.T) {
	pkt := NvmeRequestPacket{
		Address:  0x00010040,
		NumWords: 16,
		Request:  PCIE_REQ_MEM_READ,
		Tag:      7,
	}
	frame := append(pkt.Encode(), make([]byte, 32)...)

	var decoded NvmeRequestPacket
	require.NoError(t, decoded.Decode(frame))
	assert.Equal(t, pkt, decoded)
}

func TestReadRequestLargeNumWords(t *testing.T) {
	// NVMe read requests may ask for more words than fit one payload;
	// the reply is chunked instead
	pkt := NvmeRequestPacket{
		Address:  0x00800000,
		NumWords: 1024,
		Request:  PCIE_REQ_MEM_READ,
	}

	var decoded NvmeRequestPacket
	require.NoError(t, decoded.Decode(pkt.Encode()))
	assert.Equal(t, uint32(1024), decoded.NumWords)
}
