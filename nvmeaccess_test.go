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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNvmeSelectsRegisterBank(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)

	nvme.SetNvme(0)
	nvme.WriteNvmeStorageReg(REG_DATA_CHUNK_SIZE, 11)
	nvme.SetNvme(1)
	nvme.WriteNvmeStorageReg(REG_DATA_CHUNK_SIZE, 22)
	nvme.SetNvme(2)
	nvme.WriteNvmeStorageReg(REG_DATA_CHUNK_SIZE, 33)

	assert.Equal(t, uint32(11), nvme.regs[(REGBASE_NVME0+REG_DATA_CHUNK_SIZE)/4])
	assert.Equal(t, uint32(22), nvme.regs[(REGBASE_NVME1+REG_DATA_CHUNK_SIZE)/4])
	assert.Equal(t, uint32(33), nvme.regs[(REGBASE_NVME_ALL+REG_DATA_CHUNK_SIZE)/4])

	nvme.SetNvme(0)
	assert.Equal(t, uint32(11), nvme.ReadNvmeStorageReg(REG_DATA_CHUNK_SIZE))
}

func TestResetIdempotent(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)
	nvme.SetNvme(0)

	statusWord := (REGBASE_NVME0 + REG_STATUS) / 4

	// the fabric holds the status busy bit for a short while
	nvme.regs[statusWord] = 1
	go func() {
		time.Sleep(5 * time.Millisecond)
		nvme.regs[statusWord] = 0
	}()

	start := time.Now()
	nvme.Reset()
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// a second reset with no intervening IO leaves the same observable
	// register state and sends no frames
	nvme.Reset()
	assert.Equal(t, CONTROL_RESET, nvme.ReadNvmeStorageReg(REG_CONTROL))
	assert.Empty(t, fpga.fe.sentFrames())
}

func TestCloseStopsDispatcher(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)
	require.NoError(t, nvme.Start())

	done := make(chan struct{})
	go func() {
		nvme.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not join the dispatcher")
	}
}
