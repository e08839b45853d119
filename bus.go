package spicard

import (
	"bytes"
	"fmt"
	"strings"
)

// Bridge channels [FPGALink].
const (
	ChannelData   uint8 = 0x00 // SPI data, shifted out byte by byte
	ChannelConfig uint8 = 0x01 // configuration register writes
)

// Transport moves bytes to and from a bridge channel. Calls are synchronous
// and ordered; a nil error means all of p was transferred.
type Transport interface {
	WriteChannel(ch uint8, p []byte) error
	ReadChannel(ch uint8, p []byte) error
}

// Config is the bridge's configuration register. The bridge never reports it
// back, so the host keeps the only copy.
//
//	Bits| Meaning
//	----+------------------------------------------
//	2   | SUPPRESS: do not queue read-back on channel 0
//	1   | ENABLE: chip-select asserted
//	0   | TURBO: high-speed SPI clock
type Config byte

const (
	ConfigTurbo    Config = 1 << 0
	ConfigEnable   Config = 1 << 1
	ConfigSuppress Config = 1 << 2
)

func (c Config) Turbo() bool    { return c&ConfigTurbo != 0 }
func (c Config) Enable() bool   { return c&ConfigEnable != 0 }
func (c Config) Suppress() bool { return c&ConfigSuppress != 0 }

func (c Config) String() string {
	b := fmt.Sprintf("%08b", byte(c))
	s := []string{}
	if c.Suppress() {
		s = append(s, "SUPPRESS")
	}
	if c.Enable() {
		s = append(s, "ENABLE")
	}
	if c.Turbo() {
		s = append(s, "TURBO")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

const (
	fillByte  = 0xFF // releases MOSI; the card clocks out its response
	blockSize = 512
)

// Bus is the SPI byte engine on top of a Transport. It owns the cached
// configuration register.
type Bus struct {
	t      Transport
	config Config
	one    [1]byte
}

// NewBus returns a Bus whose cached configuration register starts at initial.
// Nothing is written to the bridge until the first configuration change.
func NewBus(t Transport, initial Config) *Bus {
	return &Bus{t: t, config: initial}
}

// Config returns the cached configuration register.
func (b *Bus) Config() Config { return b.config }

// SetConfig replaces the bits in mask with value. The previous register value
// is written delay times first; the bridge clocks nothing while it holds an
// unchanged configuration, so the repeats act as a hold time.
func (b *Bus) SetConfig(mask, value Config, delay int) error {
	buf := bytes.Repeat([]byte{byte(b.config)}, delay)
	b.config = b.config&^mask | value&mask
	buf = append(buf, byte(b.config))
	return b.write(ChannelConfig, buf)
}

// Select asserts chip-select.
func (b *Bus) Select() error { return b.SetConfig(ConfigEnable, ConfigEnable, 0) }

// Deselect deasserts chip-select.
func (b *Bus) Deselect() error { return b.SetConfig(ConfigEnable, 0, 0) }

// SetTurbo selects the high-speed (on) or initialization (off) clock.
func (b *Bus) SetTurbo(on bool) error {
	var v Config
	if on {
		v = ConfigTurbo
	}
	return b.SetConfig(ConfigTurbo, v, 0)
}

// Exchange shifts out one byte and returns the byte shifted in.
func (b *Bus) Exchange(out byte) (byte, error) {
	b.one[0] = out
	if err := b.write(ChannelData, b.one[:]); err != nil {
		return 0, err
	}
	if err := b.read(ChannelData, b.one[:]); err != nil {
		return 0, err
	}
	return b.one[0], nil
}

// SendClocks performs n exchanges of fill and discards what comes back.
func (b *Bus) SendClocks(n int, fill byte) error {
	for range n {
		if _, err := b.Exchange(fill); err != nil {
			return err
		}
	}
	return nil
}

// WaitFor exchanges 0xFF until target comes back or budget exchanges have
// been made. ok reports whether target was seen; last is the final byte
// received either way.
func (b *Bus) WaitFor(target byte, budget int) (last byte, ok bool, err error) {
	return b.wait(budget, func(v byte) bool { return v == target })
}

// WaitForNot is WaitFor with the condition inverted: it stops on the first
// byte that differs from target.
func (b *Bus) WaitForNot(target byte, budget int) (last byte, ok bool, err error) {
	return b.wait(budget, func(v byte) bool { return v != target })
}

func (b *Bus) wait(budget int, done func(byte) bool) (last byte, ok bool, err error) {
	last = fillByte
	for range budget {
		if last, err = b.Exchange(fillByte); err != nil {
			return last, false, err
		}
		if done(last) {
			return last, true, nil
		}
	}
	return last, false, nil
}

// ExchangeBlock shifts out len(buf) filler bytes in one write and reads the
// same number of bytes back into buf.
func (b *Bus) ExchangeBlock(buf []byte) error {
	for i := range buf {
		buf[i] = fillByte
	}
	if err := b.write(ChannelData, buf); err != nil {
		return err
	}
	return b.read(ChannelData, buf)
}

// WriteData writes p on the data channel without reading anything back.
func (b *Bus) WriteData(p []byte) error { return b.write(ChannelData, p) }

// ReadData reads len(p) queued bytes from the data channel.
func (b *Bus) ReadData(p []byte) error { return b.read(ChannelData, p) }

func (b *Bus) write(ch uint8, p []byte) error {
	if err := b.t.WriteChannel(ch, p); err != nil {
		return &TransportError{Op: "write", Channel: ch, Err: err}
	}
	return nil
}

func (b *Bus) read(ch uint8, p []byte) error {
	if err := b.t.ReadChannel(ch, p); err != nil {
		return &TransportError{Op: "read", Channel: ch, Err: err}
	}
	return nil
}
