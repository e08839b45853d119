package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"

	"github.com/gentam/spicard"
	"github.com/gentam/spicard/fpgalink"
	"github.com/gentam/spicard/sim"
)

// openDevice opens the named bridge and registers its cleanup. For
// "sim:<arg>", simulate builds the device behind the software bridge.
func openDevice(name string, simulate func(arg string) (sim.Device, error)) spicard.Transport {
	switch {
	case name == "ftdi":
		d, err := spicard.NewDevice()
		if err != nil {
			fail(exitDevice, "%v", err)
		}
		// Keep the FPGA from driving the SPI lines while we use them.
		if err := d.ResetFPGA(gpio.Low); err != nil {
			fail(exitDevice, "hold FPGA reset: %v", err)
		}
		atExit(func() {
			if err := d.ResetFPGA(gpio.High); err != nil {
				glog.Warningf("release FPGA reset: %v", err)
			}
			d.Close()
		})
		return d

	case strings.HasPrefix(name, "fpgalink:"):
		vp := strings.TrimPrefix(name, "fpgalink:")
		fmt.Fprintf(os.Stderr, "Attempting to open connection to FPGALink device %s...\n", vp)
		c, err := fpgalink.Open(vp)
		if err != nil {
			fail(exitDevice, "%v", err)
		}
		atExit(func() { c.Close() })
		return c

	case strings.HasPrefix(name, "sim:"):
		dev, err := simulate(strings.TrimPrefix(name, "sim:"))
		if err != nil {
			fail(exitDevice, "%v", err)
		}
		return sim.NewBridge(dev)

	default:
		fatalUsage("unknown device %q", name)
		return nil
	}
}

// simulatedCard opens path as the image of a simulated SD card.
func simulatedCard(path string) (sim.Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	atExit(func() { f.Close() })
	return sim.NewCard(f, fi.Size()), nil
}

// simulatedFlash returns an erased AT45DB161.
func simulatedFlash(string) (sim.Device, error) {
	return sim.NewAT45DB161(), nil
}
