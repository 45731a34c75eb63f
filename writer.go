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
// The capture controller. It drives the FPGA's NvmeWrite engine, which
// streams blocks from the FPGA test data source into the NVMe's, and polls
// the engine's progress and statistics registers. When both NVMe units are
// selected each unit captures half of the block range.

package plnvme

import (
	"fmt"
	"time"
)

// CaptureStats holds the per-unit statistics of a completed capture run.
type CaptureStats struct {
	Unit          uint32
	Error         uint32
	NumBlocks     uint32
	TimeUs        uint32
	PeakLatencyUs uint32
	Rate          float64 // MBytes/s
}

// captureBudget is the wall-clock budget for capturing numBlocks blocks,
// assuming a minimum aggregate rate of 4 GByte/s.
func captureBudget(numBlocks uint32) time.Duration {
	return 10*time.Second +
		time.Duration(float64(numBlocks)*BLOCK_SIZE/4e9*float64(time.Second))
}

// Capture writes numBlocks blocks of test data starting at startBlock into
// the selected NVMe unit(s) and blocks until the engine has processed them
// all. With both units selected, startBlock and numBlocks must be even and
// each unit receives half the range. Returns per-unit statistics; a
// non-zero hardware write error status is a hard failure.
func (nvme *NvmeAccess) Capture(startBlock, numBlocks uint32) ([]CaptureStats, error) {
	drives := []uint32{nvme.nvmeNum}
	chunkStart, chunkSize := startBlock, numBlocks

	if nvme.nvmeNum == 2 {
		if startBlock%2 != 0 || numBlocks%2 != 0 {
			return nil, fmt.Errorf(
				"dual nvme capture needs even start and count: %w", ErrConfig)
		}
		drives = []uint32{0, 1}
		chunkStart, chunkSize = startBlock/2, numBlocks/2
	}

	// program the block range; with both units selected the writes
	// broadcast to the two register banks
	nvme.WriteNvmeStorageReg(REG_DATA_CHUNK_START, chunkStart)
	nvme.WriteNvmeStorageReg(REG_DATA_CHUNK_SIZE, chunkSize)

	Log(LOG_DEBUG, "Capture: start block %d, %d blocks per unit",
		chunkStart, chunkSize)

	// start the NvmeWrite engine
	nvme.WriteNvmeStorageReg(REG_CONTROL, CONTROL_START_CAPTURE)

	// poll progress until every unit processed its chunk
	deadline := time.Now().Add(captureBudget(numBlocks))
	for {
		done := true
		for _, drive := range drives {
			n := nvme.readUnitReg(drive, REG_WRITE_NUM_BLOCKS)
			Log(LOG_DEBUG, "Capture: nvme %d: %d/%d blocks", drive, n, chunkSize)
			if n != chunkSize {
				done = false
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			nvme.WriteNvmeStorageReg(REG_CONTROL, 0)
			return nil, fmt.Errorf("capture of %d blocks: %w", numBlocks,
				ErrTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	// collect statistics and stop the engine
	stats := make([]CaptureStats, 0, len(drives))
	var failed bool
	for _, drive := range drives {
		st := CaptureStats{
			Unit:          drive,
			Error:         nvme.readUnitReg(drive, REG_WRITE_ERROR),
			NumBlocks:     nvme.readUnitReg(drive, REG_WRITE_NUM_BLOCKS),
			TimeUs:        nvme.readUnitReg(drive, REG_WRITE_TIME),
			PeakLatencyUs: nvme.readUnitReg(drive, REG_WRITE_PEAK_LATENCY),
		}
		if st.TimeUs > 0 {
			st.Rate = float64(st.NumBlocks) * BLOCK_SIZE /
				(1e-6 * float64(st.TimeUs)) / (1024 * 1024)
		}
		if st.Error != 0 {
			failed = true
		}
		stats = append(stats, st)
	}

	nvme.WriteNvmeStorageReg(REG_CONTROL, 0)

	if failed {
		for _, st := range stats {
			if st.Error != 0 {
				Log(LOG_WARN, "Capture: nvme %d write error 0x%8.8x",
					st.Unit, st.Error)
			}
		}
		return stats, fmt.Errorf("capture flagged a hardware write error")
	}
	return stats, nil
}
