package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/gentam/spicard"
)

func sdCommand(args []string) {
	fs := flag.NewFlagSet("sd", flag.ExitOnError)
	var (
		device  string
		block   string
		count   int
		fast    bool
		csdOnly bool
		outFile string
	)
	fs.StringVar(&device, "d", "ftdi", "bridge: ftdi, fpgalink:<VID:PID> or sim:<image>")
	fs.StringVar(&block, "b", "0x00002672", "block to read from SD card")
	fs.IntVar(&count, "n", 1, "number of consecutive blocks to read")
	fs.BoolVar(&fast, "fast", false, "enable fast SPI after initialization")
	fs.BoolVar(&csdOnly, "csd", false, "just print the CSD register and card capacity")
	fs.StringVar(&outFile, "o", "", "output file (default: hexdump)")
	fs.Parse(args)

	lba, err := strconv.ParseUint(block, 0, 32)
	if err != nil {
		fatalUsage("bad block number %q", block)
	}
	if count < 1 {
		fatalUsage("block count must be positive")
	}

	card := spicard.NewCard(openDevice(device, simulatedCard))
	if err := card.Init(); err != nil {
		fail(exitInit, "SD card initialization failed: %v", err)
	}
	if fast {
		if err := card.SetHighSpeed(true); err != nil {
			fail(exitInit, "enable fast SPI: %v", err)
		}
	}

	if csdOnly {
		csd, err := card.ReadCSD()
		if err != nil {
			fail(exitRead, "read CSD failed: %v", err)
		}
		fmt.Printf("CSD:       %X\n", csd[:])
		fmt.Printf("Version:   %d.0\n", csd.Version()+1)
		fmt.Printf("Capacity:  %d bytes (%d blocks)\n", csd.Capacity(), csd.Blocks())
		return
	}

	fmt.Fprintf(os.Stderr, "Reading SD card block 0x%08X...\n", lba)
	data := make([]byte, count*spicard.BlockSize)
	if count == 1 {
		err = card.ReadBlock(uint32(lba), data)
	} else {
		err = card.ReadBlocks(uint32(lba), data)
	}
	if err != nil {
		fail(exitRead, "read block 0x%08X failed: %v", lba, err)
	}

	if outFile == "" {
		fmt.Print(hex.Dump(data))
		return
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		fail(exitOutput, "write file failed: %v", err)
	}
}
