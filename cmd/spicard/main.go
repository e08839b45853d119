package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
)

// Exit codes; each failed step has its own.
const (
	exitFailure = 1
	exitUsage   = 2
	exitDevice  = 3 // bridge could not be opened
	exitInit    = 4 // card or flash did not come up
	exitRead    = 5 // SD read failed
	exitOutput  = 6 // output file could not be written
	exitFile    = 7 // input file could not be opened or read
	exitProgram = 8 // flash programming failed
	exitVerify  = 9 // flash contents differ from the input
)

var cleanups []func()

// atExit registers f to run before the process exits, on success or failure.
func atExit(f func()) {
	cleanups = append(cleanups, f)
}

func runCleanups() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
	glog.Flush()
}

func fail(code int, format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	runCleanups()
	os.Exit(code)
}

func fatalf(format string, a ...any) {
	fail(exitFailure, format, a...)
}

func fatalUsage(format string, a ...any) {
	fail(exitUsage, format, a...)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	spicard [-v=N] <command> [arguments]

Commands:
	sd	 read blocks from an SD card
	flash	 program a DataFlash from a file
	info	 describe the bridge and identify the SD card or DataFlash behind it

Devices (-d):
	ftdi			FT2232H in MPSSE mode (default)
	fpgalink:<VID:PID>	FPGALink bridge
	sim:<image>		simulated card backed by a disk image
`)
	os.Exit(exitUsage)
}

func main() {
	flag.Set("logtostderr", "true")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	switch cmd := flag.Arg(0); cmd {
	case "sd":
		sdCommand(flag.Args()[1:])
	case "flash":
		flashCommand(flag.Args()[1:])
	case "info":
		infoCommand(flag.Args()[1:])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
	runCleanups()
}
