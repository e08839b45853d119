package spicard

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// Device is a Transport over an FT2232H in MPSSE mode. Channel 0 writes are
// full-duplex SPI transactions whose read-back is queued for ReadChannel;
// channel 1 writes drive chip-select and the clock from the Config bits.
type Device struct {
	FTDI *ftdi.FT232H

	cs    gpio.PinIO // ADBUS4 Chip Select
	reset gpio.PinIO // ADBUS7 FPGA Reset

	slow, fast physic.Frequency
	port       spi.PortCloser
	conn       spi.Conn

	config  Config
	pending []byte
}

var hostInitialized atomic.Bool

// NewDevice finds FT2232H device and opens MPSSE/SPI connection. Chip-select
// starts deasserted and the clock slow.
func NewDevice() (*Device, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	d := &Device{
		slow: 400 * physic.KiloHertz, // [SDPLS|6.4.1.1] identification mode ceiling
		fast: 30 * physic.MegaHertz,  // [FTDI-AN_135|3.2.1 Divisors]
	}
	if err := d.findFT2232H(); err != nil {
		return nil, err
	}

	// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [icebreaker-sch.pdf]
	// ADBUS0 | SCK
	// ADBUS1 | MOSI
	// ADBUS2 | MISO
	// ADBUS4 | SS_B
	// ADBUS7 | iCE_CRESET / iCE_RESET
	d.cs = d.FTDI.D4
	d.reset = d.FTDI.D7

	if err := d.connectSPI(); err != nil {
		return nil, err
	}
	if err := d.cs.Out(gpio.High); err != nil {
		return nil, err
	}
	return d, nil
}

// ResetFPGA asserts (low) or deasserts (high) the FPGA reset line. Holding
// the FPGA in reset keeps it from driving the shared SPI lines.
func (d *Device) ResetFPGA(l gpio.Level) error {
	return d.reset.Out(l)
}

// Clocks returns the initialization and high-speed SPI clock rates.
func (d *Device) Clocks() (slow, fast physic.Frequency) {
	return d.slow, d.fast
}

func (d *Device) findFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			return nil
		}
	}

	return errors.New("FT2232H not found")
}

func (d *Device) connectSPI() (err error) {
	if d.FTDI == nil {
		return errors.New("FT2232H device not found")
	}

	d.port, err = d.FTDI.SPI()
	if err != nil {
		return fmt.Errorf("failed to get SPI port: %w", err)
	}
	if err = d.port.LimitSpeed(d.slow); err != nil {
		return err
	}

	// [FTDI-AN_114|1.2]> FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	// [SDPLS|7.2] SD cards in SPI mode sample on the rising edge: mode 0
	d.conn, err = d.port.Connect(d.fast, spi.Mode0, 8)
	return err
}

// WriteChannel implements Transport.
func (d *Device) WriteChannel(ch uint8, p []byte) error {
	switch ch {
	case ChannelData:
		return d.shift(p)
	case ChannelConfig:
		if len(p) == 0 {
			return nil
		}
		// Leading bytes repeat the old value as a hold time; the MPSSE
		// queue already serializes transactions, so only the last counts.
		return d.apply(Config(p[len(p)-1]))
	default:
		return fmt.Errorf("channel %d not supported", ch)
	}
}

// ReadChannel implements Transport. Only read-back queued by earlier data
// channel writes can be read.
func (d *Device) ReadChannel(ch uint8, p []byte) error {
	if ch != ChannelData {
		return fmt.Errorf("channel %d not readable", ch)
	}
	if len(p) > len(d.pending) {
		return fmt.Errorf("read of %d bytes with %d queued", len(p), len(d.pending))
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return nil
}

func (d *Device) shift(p []byte) error {
	const maxTx = 65536 // [FTDI-AN_108]

	for len(p) > 0 {
		chunk := p[:min(len(p), maxTx)]
		var r []byte
		if !d.config.Suppress() {
			r = make([]byte, len(chunk))
		}
		if err := d.conn.Tx(chunk, r); err != nil {
			return err
		}
		d.pending = append(d.pending, r...)
		p = p[len(chunk):]
	}
	return nil
}

func (d *Device) apply(c Config) error {
	changed := d.config ^ c
	d.config = c
	if changed.Enable() {
		l := gpio.High
		if c.Enable() {
			l = gpio.Low
		}
		if err := d.cs.Out(l); err != nil {
			return err
		}
	}
	if changed.Turbo() {
		f := d.slow
		if c.Turbo() {
			f = d.fast
		}
		if err := d.port.LimitSpeed(f); err != nil {
			return fmt.Errorf("set SPI clock to %s: %w", f, err)
		}
	}
	return nil
}

// Close releases the SPI port.
func (d *Device) Close() error {
	return d.port.Close()
}
