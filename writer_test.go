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

// presetCaptureRegs marks a unit's write engine as complete with the given
// statistics.
func presetCaptureRegs(nvme *NvmeAccess, unit uint32, numBlocks, timeUs,
	peakUs, errBits uint32) {
	base := REGBASE_NVME0
	if unit == 1 {
		base = REGBASE_NVME1
	}
	nvme.regs[(base+REG_WRITE_NUM_BLOCKS)/4] = numBlocks
	nvme.regs[(base+REG_WRITE_TIME)/4] = timeUs
	nvme.regs[(base+REG_WRITE_PEAK_LATENCY)/4] = peakUs
	nvme.regs[(base+REG_WRITE_ERROR)/4] = errBits
}

func TestCaptureSingleUnit(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)
	require.NoError(t, nvme.Start())
	defer nvme.Close()
	nvme.SetNvme(0)

	// 1024 blocks in one second
	presetCaptureRegs(nvme, 0, 1024, 1000000, 150, 0)

	stats, err := nvme.Capture(0, 1024)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	assert.Equal(t, uint32(0), stats[0].Unit)
	assert.Equal(t, uint32(0), stats[0].Error)
	assert.Equal(t, uint32(1024), stats[0].NumBlocks)
	assert.Equal(t, uint32(150), stats[0].PeakLatencyUs)
	assert.InDelta(t, 4.0, stats[0].Rate, 0.01) // 4 MByte in 1 s

	// the engine was programmed with the full range and stopped after
	assert.Equal(t, uint32(0), nvme.regs[(REGBASE_NVME0+REG_DATA_CHUNK_START)/4])
	assert.Equal(t, uint32(1024), nvme.regs[(REGBASE_NVME0+REG_DATA_CHUNK_SIZE)/4])
	assert.Equal(t, uint32(0), nvme.regs[(REGBASE_NVME0+REG_CONTROL)/4])
}

func TestCaptureDualHalvesRange(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)
	require.NoError(t, nvme.Start())
	defer nvme.Close()
	nvme.SetNvme(2)

	presetCaptureRegs(nvme, 0, 512, 500000, 100, 0)
	presetCaptureRegs(nvme, 1, 512, 600000, 200, 0)

	stats, err := nvme.Capture(128, 1024)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, uint32(512), stats[0].NumBlocks)
	assert.Equal(t, uint32(512), stats[1].NumBlocks)

	// each unit was programmed with half the range through the broadcast
	// bank
	assert.Equal(t, uint32(64), nvme.regs[(REGBASE_NVME_ALL+REG_DATA_CHUNK_START)/4])
	assert.Equal(t, uint32(512), nvme.regs[(REGBASE_NVME_ALL+REG_DATA_CHUNK_SIZE)/4])
}

func TestCaptureDualNeedsEvenRange(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)
	require.NoError(t, nvme.Start())
	defer nvme.Close()
	nvme.SetNvme(2)

	_, err := nvme.Capture(1, 1024)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = nvme.Capture(0, 1023)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCaptureHardwareError(t *testing.T) {
	fpga := fakeFpgaCreate()
	nvme := nvmeAccessOnFake(fpga)
	require.NoError(t, nvme.Start())
	defer nvme.Close()
	nvme.SetNvme(0)

	presetCaptureRegs(nvme, 0, 64, 1000, 10, 0x2)

	stats, err := nvme.Capture(0, 64)
	require.Error(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, uint32(0x2), stats[0].Error)
}
