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
// Test and operation program for NVMe access over the NvmeStorage FPGA
// fabric. Provides capture and read streaming operations as well as a
// collection of lower level diagnostic tests.

package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	plnvme "github.com/DUNE/pl-nvme"
	"github.com/joho/godotenv"
)

const version = "1.0.0"

// control drives the requested operation.
type control struct {
	nvme *plnvme.NvmeAccess

	verbose    bool
	machine    bool
	noReset    bool
	noValidate bool
	nvmeNum    uint
	startBlock uint
	numBlocks  uint
	readStart  uint
	readBlocks uint
	output     string

	agent *plnvme.DaqAgent
}

func usage() {
	fmt.Fprintf(os.Stderr, "test_nvme: Version: %s\n", version)
	fmt.Fprintf(os.Stderr, "Usage: test_nvme [options] <command>\n")
	fmt.Fprintf(os.Stderr, "This program provides access tests and capture/read operation of NVMe devices on a FPGA development board\n")
	flag.PrintDefaults()
}

func main() {
	// optional .env file with device node and agent overrides
	godotenv.Load()

	ctl := &control{}

	flag.Usage = usage
	flag.BoolVar(&ctl.verbose, "v", false, "verbose output")
	flag.BoolVar(&ctl.machine, "m", false, "machine readable output")
	list := flag.Bool("l", false, "list commands")
	flag.BoolVar(&ctl.noReset, "nr", false, "no reset at startup")
	flag.BoolVar(&ctl.noReset, "no-reset", false, "no reset at startup")
	flag.BoolVar(&ctl.noValidate, "nv", false, "no block validation")
	flag.BoolVar(&ctl.noValidate, "no-validate", false, "no block validation")
	flag.UintVar(&ctl.nvmeNum, "d", 2, "operate on: 0: Nvme0, 1: Nvme1, 2: both Nvme's")
	flag.UintVar(&ctl.startBlock, "s", 0, "capture start block")
	flag.UintVar(&ctl.numBlocks, "n", 2, "capture number of blocks")
	flag.UintVar(&ctl.readStart, "rs", 0, "read start block")
	flag.UintVar(&ctl.readBlocks, "rn", 2, "read number of blocks")
	flag.StringVar(&ctl.output, "o", "", "read output file")
	flag.Parse()

	if *list {
		listCommands()
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Requires the command name\n")
		usage()
		os.Exit(1)
	}

	if ctl.verbose {
		plnvme.LogSetLevel(plnvme.LOG_DEBUG)
	}

	if ctl.nvmeNum == 2 && (ctl.startBlock%2 != 0 || ctl.numBlocks%2 != 0 ||
		ctl.readStart%2 != 0 || ctl.readBlocks%2 != 0) {
		fmt.Fprintf(os.Stderr, "Dual Nvme operation needs even start blocks and counts\n")
		os.Exit(1)
	}

	if err := ctl.run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func listCommands() {
	fmt.Printf("capture:        Capture FPGA data to the Nvme's\n")
	fmt.Printf("captureRepeat:  Repeatedly capture chunks until the devices are full\n")
	fmt.Printf("read:           Read blocks from the Nvme's, validating and optionally saving them\n")
	fmt.Printf("captureAndRead: Capture FPGA data and read it back\n")
	fmt.Printf("write:          Write a test data block over the IO queues\n")
	fmt.Printf("trim:           Trim the Nvme's block range\n")
	fmt.Printf("trim1:          Send a single trim command\n")
	fmt.Printf("regs:           Dump the NvmeStorage registers\n")
	fmt.Printf("info:           Read Nvme controller information\n")
	fmt.Printf("test1:          Simple PCIe command register read, write and read\n")
	fmt.Printf("test2:          Configure Nvme\n")
	fmt.Printf("test3:          Get info from Nvme\n")
	fmt.Printf("test4:          Read blocks\n")
	fmt.Printf("test5:          Write blocks\n")
	fmt.Printf("test6:          Enable FPGA write blocks\n")
	fmt.Printf("test7:          Validate blocks\n")
	fmt.Printf("test8:          Trim Nvme\n")
	fmt.Printf("test9:          Dual Nvme register test\n")
	fmt.Printf("test10:         Read blocks using the NvmeRead engine\n")
	fmt.Printf("test_misc:      Collection of misc tests\n")
}

// run opens the device, performs the startup reset and dispatches to the
// requested command.
func (ctl *control) run(command string) error {
	devRegs := envDefault("PLNVME_DEV_REGS", plnvme.BFPGA_DEV_REGS)
	devSend := envDefault("PLNVME_DEV_SEND", plnvme.BFPGA_DEV_SEND)
	devRecv := envDefault("PLNVME_DEV_RECV", plnvme.BFPGA_DEV_RECV)

	nvme, err := plnvme.NvmeAccessCreateDevices(devRegs, devSend, devRecv)
	if err != nil {
		return err
	}
	defer nvme.Close()
	ctl.nvme = nvme

	nvme.SetNvme(uint32(ctl.nvmeNum))

	if !ctl.noReset {
		nvme.Reset()
	}
	if err := nvme.Start(); err != nil {
		return err
	}

	if endpoint := os.Getenv("PLNVME_AGENT"); endpoint != "" {
		ctl.agent = plnvme.DaqAgentCreate("daq", endpoint)
		if err := ctl.agent.Connect(); err != nil {
			return err
		}
		defer ctl.agent.Disconnect()
	}

	switch command {
	case "capture":
		return ctl.capture()
	case "captureRepeat":
		return ctl.captureRepeat()
	case "read":
		return ctl.read()
	case "captureAndRead":
		if err := ctl.capture(); err != nil {
			return err
		}
		return ctl.read()
	case "write":
		return ctl.write()
	case "trim":
		return ctl.trim()
	case "trim1":
		return ctl.trim1()
	case "regs":
		ctl.nvme.DumpRegs(0)
		ctl.nvme.DumpRegs(1)
		return nil
	case "info":
		return ctl.info()
	case "test1":
		return ctl.test1()
	case "test2":
		return ctl.nvme.ConfigureNvme()
	case "test3":
		return ctl.info()
	case "test4":
		return ctl.test4()
	case "test5":
		return ctl.test5()
	case "test6":
		return ctl.capture()
	case "test7":
		return ctl.test7()
	case "test8":
		return ctl.trim()
	case "test9":
		return ctl.test9()
	case "test10":
		return ctl.test10()
	case "test_misc":
		return ctl.testMisc()
	default:
		return fmt.Errorf("no such command: %s", command)
	}
}

func envDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// notify reports an event to the run-control agent, if one is configured.
func (ctl *control) notify(evtType string, args interface{}) {
	if ctl.agent == nil {
		return
	}
	if err := ctl.agent.NotifyEvent(evtType, args); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// capture runs the FPGA NvmeWrite engine over the configured block range.
func (ctl *control) capture() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	if !ctl.machine {
		fmt.Printf("Capture: start block %d, %d blocks\n",
			ctl.startBlock, ctl.numBlocks)
	}
	ctl.notify("captureStart", map[string]interface{}{
		"startBlock": ctl.startBlock, "numBlocks": ctl.numBlocks,
	})

	stats, err := ctl.nvme.Capture(uint32(ctl.startBlock), uint32(ctl.numBlocks))
	ctl.notify("captureDone", stats)
	if err != nil {
		return err
	}

	for _, st := range stats {
		if ctl.machine {
			fmt.Printf("%d, %d, %.3f, %d\n",
				st.Error, ctl.startBlock, st.Rate, st.PeakLatencyUs)
		} else {
			fmt.Printf("Nvme%d: %d blocks in %d us: %.3f MBytes/s, peak latency %d us\n",
				st.Unit, st.NumBlocks, st.TimeUs, st.Rate, st.PeakLatencyUs)
		}
	}
	return nil
}

// captureRepeat captures successive chunks until the device capacity is
// reached.
func (ctl *control) captureRepeat() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	totalBlocks := uint(ctl.nvme.ReadNvmeStorageReg(plnvme.REG_TOTAL_BLOCKS))
	if ctl.nvmeNum == 2 {
		totalBlocks *= 2
	}

	for start := ctl.startBlock; start+ctl.numBlocks <= totalBlocks; start += ctl.numBlocks {
		stats, err := ctl.nvme.Capture(uint32(start), uint32(ctl.numBlocks))
		if err != nil {
			return err
		}
		for _, st := range stats {
			if ctl.machine {
				fmt.Printf("%d, %d, %.3f, %d\n",
					st.Error, start, st.Rate, st.PeakLatencyUs)
			} else {
				fmt.Printf("Nvme%d: start %d: %.3f MBytes/s, peak latency %d us\n",
					st.Unit, start, st.Rate, st.PeakLatencyUs)
			}
		}
	}
	return nil
}

// read streams blocks back from the Nvme's, validating them against the
// test data pattern and optionally writing them to a file.
func (ctl *control) read() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	var sink plnvme.BlockSink
	if ctl.output != "" {
		file, err := plnvme.BlockFileCreate(ctl.output)
		if err != nil {
			return err
		}
		defer file.Close()
		sink = file
	}

	if !ctl.machine {
		fmt.Printf("Read: start block %d, %d blocks\n",
			ctl.readStart, ctl.readBlocks)
	}
	ctl.notify("readStart", map[string]interface{}{
		"startBlock": ctl.readStart, "numBlocks": ctl.readBlocks,
	})

	start := time.Now()
	err := ctl.nvme.Read(uint32(ctl.readStart), uint32(ctl.readBlocks), sink,
		!ctl.noValidate)
	elapsed := time.Since(start)
	ctl.notify("readDone", map[string]interface{}{"error": err != nil})
	if err != nil {
		return err
	}

	rate := float64(ctl.readBlocks) * plnvme.BLOCK_SIZE / elapsed.Seconds() /
		(1024 * 1024)
	if ctl.machine {
		fmt.Printf("0, %d, %.3f, 0\n", ctl.readStart, rate)
	} else {
		fmt.Printf("Read %d blocks in %s: %.3f MBytes/s\n",
			ctl.readBlocks, elapsed, rate)
	}
	return nil
}

// write performs an IO block write of test data through the IO queues.
func (ctl *control) write() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	r := rand.Uint32() & 0xFF
	fmt.Printf("Perform block write with: 0x%2.2x\n", r)
	buffer := ctl.nvme.BlockBuffer()
	for a := range buffer {
		buffer[a] = (r << 24) + uint32(a)
	}

	numBlocks := uint32(ctl.numBlocks)
	return ctl.nvme.NvmeRequest(true, 1, plnvme.NVME_IO_WRITE, 1,
		plnvme.ADDR_BLOCK_BUFFER, uint32(ctl.startBlock)*8, 0, numBlocks*8-1)
}

// trim discards the configured block range in chunks of 32k LBAs.
func (ctl *control) trim() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	const maxBlocks = 32768 // 512 byte LBAs per trim command
	for block := uint32(ctl.startBlock); block < uint32(ctl.startBlock+ctl.numBlocks); block += maxBlocks / 8 {
		err := ctl.nvme.NvmeRequest(true, 1, plnvme.NVME_IO_TRIM, 1,
			0, block*8, 0, (1<<25)|(maxBlocks-1))
		if err != nil {
			return err
		}
	}
	return nil
}

// trim1 sends a single trim command.
func (ctl *control) trim1() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}
	return ctl.nvme.NvmeRequest(true, 1, plnvme.NVME_IO_TRIM, 1,
		0, uint32(ctl.startBlock)*8, 0, (1<<25)|uint32(ctl.numBlocks*8-1))
}

// info reads the Nvme controller identify data.
func (ctl *control) info() error {
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	fmt.Printf("Get info\n")
	err := ctl.nvme.NvmeRequest(true, 0, plnvme.NVME_ADMIN_IDENTIFY, 0,
		plnvme.ADDR_DATA_SINK, 0x00000001, 0, 0)
	if err != nil {
		return err
	}

	hexDump(ctl.nvme.BlockBuffer()[:16])
	return nil
}

// test1 performs a simple PCIe command register read, write and read.
func (ctl *control) test1() error {
	fmt.Printf("Test1: Simple PCIe command register read, write and read.\n")

	data, err := ctl.nvme.PcieRead(plnvme.PCIE_REQ_CONFIG_READ, 4, 1)
	if err != nil {
		return err
	}
	fmt.Printf("Commandreg: %8.8x\n", data[0])

	err = ctl.nvme.PcieWrite(plnvme.PCIE_REQ_CONFIG_WRITE, 4, []uint32{data[0] | 6})
	if err != nil {
		return err
	}

	data, err = ctl.nvme.PcieRead(plnvme.PCIE_REQ_CONFIG_READ, 4, 1)
	if err != nil {
		return err
	}
	fmt.Printf("Commandreg: %8.8x\n", data[0])

	fmt.Printf("Complete\n")
	return nil
}

// test4 reads blocks over the IO queues into the block buffer.
func (ctl *control) test4() error {
	fmt.Printf("Test4: Read blocks\n")
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	err := ctl.nvme.NvmeRequest(true, 1, plnvme.NVME_IO_READ, 1,
		plnvme.ADDR_BLOCK_BUFFER, uint32(ctl.startBlock)*8, 0, 7)
	if err != nil {
		return err
	}

	fmt.Printf("DataBlock:\n")
	hexDump(ctl.nvme.BlockBuffer()[:128])
	return nil
}

// test5 writes test data blocks over the IO queues.
func (ctl *control) test5() error {
	fmt.Printf("Test5: Write blocks\n")
	return ctl.write()
}

// test7 validates blocks by repeatedly reading them over the IO queues and
// checking the test data pattern.
func (ctl *control) test7() error {
	fmt.Printf("Test7: Validate blocks\n")
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	block := make([]byte, plnvme.BLOCK_SIZE)
	for n := uint32(0); n < uint32(ctl.numBlocks); n++ {
		err := ctl.nvme.NvmeRequest(true, 1, plnvme.NVME_IO_READ, 1,
			plnvme.ADDR_BLOCK_BUFFER, (uint32(ctl.startBlock)+n)*8, 0, 7)
		if err != nil {
			return err
		}

		buffer := ctl.nvme.BlockBuffer()
		for w := 0; w < plnvme.BLOCK_WORDS; w++ {
			binary.LittleEndian.PutUint32(block[4*w:], buffer[w])
		}
		if err := plnvme.ValidateBlock(uint32(ctl.startBlock)+n, block); err != nil {
			return err
		}
	}

	fmt.Printf("Validated %d blocks\n", ctl.numBlocks)
	return nil
}

// test9 checks register access to both Nvme units.
func (ctl *control) test9() error {
	fmt.Printf("Test9: Dual Nvme register test\n")
	ctl.nvme.Reset()
	ctl.nvme.DumpRegs(0)
	ctl.nvme.DumpRegs(1)
	ctl.nvme.DumpRegs(2)
	return ctl.nvme.DumpNvmeRegisters()
}

// test10 performs a short run of the NvmeRead engine without validation.
func (ctl *control) test10() error {
	fmt.Printf("Test10: Read blocks using the NvmeRead engine\n")
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}
	return ctl.nvme.Read(0, uint32(ctl.readBlocks), nil, false)
}

// testMisc runs a collection of admin commands.
func (ctl *control) testMisc() error {
	fmt.Printf("Test_misc: Collection of misc tests\n")
	if err := ctl.nvme.ConfigureNvme(); err != nil {
		return err
	}

	fmt.Printf("Get info\n")
	err := ctl.nvme.NvmeRequest(true, 0, plnvme.NVME_ADMIN_IDENTIFY, 0,
		plnvme.ADDR_DATA_SINK, 0x00000001, 0, 0)
	if err != nil {
		return err
	}

	fmt.Printf("\nGet namespace list\n")
	err = ctl.nvme.NvmeRequest(true, 0, plnvme.NVME_ADMIN_IDENTIFY, 0,
		plnvme.ADDR_DATA_SINK, 0x00000002, 0, 0)
	if err != nil {
		return err
	}

	fmt.Printf("\nSet asynchronous feature\n")
	err = ctl.nvme.NvmeRequest(true, 0, plnvme.NVME_ADMIN_SET_FEATURES, 0,
		plnvme.ADDR_DATA_SINK, 0x0000000b, 0xFFFFFFFF, 0)
	if err != nil {
		return err
	}

	fmt.Printf("\nGet asynchronous feature\n")
	err = ctl.nvme.NvmeRequest(true, 0, plnvme.NVME_ADMIN_GET_FEATURES, 0,
		plnvme.ADDR_DATA_SINK, 0x0000000b, 0, 0)
	if err != nil {
		return err
	}

	fmt.Printf("\nGet log page\n")
	return ctl.nvme.NvmeRequest(true, 0, plnvme.NVME_ADMIN_GET_LOG_PAGE, 0,
		plnvme.ADDR_DATA_SINK, 0x00100001, 0, 0)
}

// hexDump prints 32bit words in rows of four.
func hexDump(data []uint32) {
	for i, word := range data {
		if i%4 == 0 {
			fmt.Printf("%4.4x:", i*4)
		}
		fmt.Printf(" %8.8x", word)
		if i%4 == 3 || i == len(data)-1 {
			fmt.Printf("\n")
		}
	}
}
