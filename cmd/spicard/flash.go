package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/gentam/spicard"
)

func flashCommand(args []string) {
	fs := flag.NewFlagSet("flash", flag.ExitOnError)
	var (
		device   string
		size     string
		filename string
		verify   bool
	)
	fs.StringVar(&device, "d", "ftdi", "bridge: ftdi, fpgalink:<VID:PID> or sim:")
	fs.StringVar(&size, "s", "auto", "page size and page-address shift <528:10>, or auto to detect")
	fs.StringVar(&filename, "f", "", "file to load into flash")
	fs.BoolVar(&verify, "verify", false, "read the flash back and compare with the file")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required")
	}
	var g spicard.Geometry
	if size != "auto" {
		var err error
		if g, err = spicard.ParseGeometry(size); err != nil {
			fatalUsage("%v", err)
		}
	}

	df := spicard.NewDataFlash(openDevice(device, simulatedFlash))
	if size == "auto" {
		var err error
		if g, err = df.Detect(); err != nil {
			fail(exitInit, "flash detection failed: %v", err)
		}
	}
	fmt.Fprintf(os.Stderr, "pageSize = %d\npageShift = %d\n", g.PageSize, g.PageShift)

	fmt.Fprint(os.Stderr, "Flashing")
	df.Progress = func(int) { fmt.Fprint(os.Stderr, ".") }
	err := df.ProgramFile(filename, g)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		var fe *spicard.FileError
		if errors.As(err, &fe) {
			fail(exitFile, "%v", err)
		}
		fail(exitProgram, "flash programming failed: %v", err)
	}

	if !verify {
		return
	}
	want, err := os.ReadFile(filename)
	if err != nil {
		fail(exitFile, "%v", err)
	}
	if err := df.Verify(want, g); err != nil {
		fail(exitVerify, "%v", err)
	}
	fmt.Fprintf(os.Stderr, "Verified %d bytes\n", len(want))
}
