package main

import (
	"flag"
	"fmt"

	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/spicard"
	"github.com/gentam/spicard/sim"
)

// infoCommand describes the bridge and identifies the part behind it.
func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	var device, target string
	fs.StringVar(&device, "d", "ftdi", "bridge: ftdi, fpgalink:<VID:PID> or sim:")
	fs.StringVar(&target, "probe", "sd", "part to identify: sd, flash or none")
	fs.Parse(args)

	var simulate func(string) (sim.Device, error)
	switch target {
	case "sd", "none":
		simulate = simulatedCard
	case "flash":
		simulate = simulatedFlash
	default:
		fatalUsage("unknown probe %q", target)
	}

	t := openDevice(device, simulate)
	if d, ok := t.(*spicard.Device); ok {
		printBridge(d)
	}

	switch target {
	case "sd":
		card := spicard.NewCard(t)
		if err := card.Init(); err != nil {
			fail(exitInit, "no SD card answered: %v", err)
		}
		csd, err := card.ReadCSD()
		if err != nil {
			fail(exitRead, "read CSD failed: %v", err)
		}
		fmt.Printf("SD card:         CSD version %d.0\n", csd.Version()+1)
		fmt.Printf("Capacity:        %d bytes (%d blocks)\n", csd.Capacity(), csd.Blocks())
	case "flash":
		df := spicard.NewDataFlash(t)
		sr, err := df.ReadStatusRegister()
		if err != nil {
			fail(exitDevice, "read status register: %v", err)
		}
		fmt.Printf("Status:          %s\n", sr)
		g, err := df.Detect()
		if err != nil {
			fail(exitInit, "flash detection failed: %v", err)
		}
		fmt.Printf("DataFlash:       %s, %d pages of %d bytes (shift %d)\n", g.Name, g.Pages, g.PageSize, g.PageShift)
	}
}

// printBridge dumps the FT2232H identity, its EEPROM and the pin functions.
func printBridge(d *spicard.Device) {
	ft := d.FTDI
	i := ftdi.Info{}
	ft.Info(&i)
	fmt.Printf("Bridge:          %s %#04x:%#04x\n", i.Type, i.VenID, i.DevID)

	ee := ftdi.EEPROM{}
	if err := ft.EEPROM(&ee); err != nil {
		fail(exitDevice, "failed to read EEPROM: %v", err)
	}
	fmt.Printf("Manufacturer:    %s (%s)\n", ee.Manufacturer, ee.ManufacturerID)
	fmt.Printf("Desc:            %s\n", ee.Desc)
	fmt.Printf("Serial:          %s\n", ee.Serial)
	h := ee.AsHeader()
	fmt.Printf("MaxPower:        %dmA\n", h.MaxPower)

	slow, fast := d.Clocks()
	fmt.Printf("SPI clock:       %s init, %s fast\n", slow, fast)
	for _, p := range ft.Header() {
		fmt.Printf("%s: %s\n", p, p.Function())
	}
}
