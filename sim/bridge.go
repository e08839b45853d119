// Package sim emulates a bridge and the SPI devices behind it, so the
// protocol engines can run against disk images and in-memory flash without
// hardware.
package sim

import (
	"fmt"

	"github.com/gentam/spicard"
)

// Device is an SPI slave on the bridge.
type Device interface {
	// Select is called on every chip-select edge (true = asserted).
	Select(asserted bool)
	// Exchange shifts out one byte to the device and returns the byte it
	// shifts back.
	Exchange(out byte) byte
}

// Bridge implements spicard.Transport on top of a Device. Channel 0 writes
// are shifted through the device and, unless SUPPRESS is set, the returned
// bytes are queued for channel 0 reads.
type Bridge struct {
	dev    Device
	config spicard.Config
	queue  []byte

	// Selects counts chip-select assertions.
	Selects int
	// Clocks counts bytes shifted on channel 0.
	Clocks int
}

// NewBridge returns a Bridge with the configuration register cleared.
func NewBridge(dev Device) *Bridge {
	return &Bridge{dev: dev}
}

// Config returns the current configuration register.
func (b *Bridge) Config() spicard.Config { return b.config }

// Pending returns the number of queued read-back bytes.
func (b *Bridge) Pending() int { return len(b.queue) }

// WriteChannel implements spicard.Transport.
func (b *Bridge) WriteChannel(ch uint8, p []byte) error {
	switch ch {
	case spicard.ChannelData:
		for _, out := range p {
			in := b.dev.Exchange(out)
			b.Clocks++
			if !b.config.Suppress() {
				b.queue = append(b.queue, in)
			}
		}
	case spicard.ChannelConfig:
		for _, v := range p {
			b.setConfig(spicard.Config(v))
		}
	default:
		return fmt.Errorf("channel %d not supported", ch)
	}
	return nil
}

// ReadChannel implements spicard.Transport.
func (b *Bridge) ReadChannel(ch uint8, p []byte) error {
	if ch != spicard.ChannelData {
		return fmt.Errorf("channel %d not readable", ch)
	}
	if len(p) > len(b.queue) {
		return fmt.Errorf("read of %d bytes with %d queued", len(p), len(b.queue))
	}
	n := copy(p, b.queue)
	b.queue = b.queue[n:]
	return nil
}

func (b *Bridge) setConfig(c spicard.Config) {
	changed := b.config ^ c
	b.config = c
	if changed.Enable() {
		if c.Enable() {
			b.Selects++
		}
		b.dev.Select(c.Enable())
	}
}
