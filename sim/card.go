package sim

import (
	"io"

	"github.com/golang/glog"
)

// SD card responses, as seen by the host.
const (
	r1Ready   = 0x00
	r1Idle    = 0x01
	r1Illegal = 0x04
	r1Address = 0x20

	dataToken = 0xFE
	sector    = 512
)

// Card is a high-capacity SD card in SPI mode backed by an image. It answers
// GO_IDLE_STATE, APP_CMD, SD_SEND_OP_COND, SEND_OP_COND, SEND_CSD,
// READ_SINGLE_BLOCK, READ_MULTIPLE_BLOCK and STOP_TRANSMISSION. Everything
// else is an illegal command.
type Card struct {
	img  io.ReaderAt
	size int64

	// InitDelay is the number of op-cond polls answered with IN_IDLE_STATE
	// before the card reports ready.
	InitDelay int

	// Commands lists every command index received, in order.
	Commands []byte

	selected  bool
	idle      bool
	ready     bool
	appCmd    bool
	polls     int
	frame     []byte
	out       []byte
	streaming bool
	next      uint32
}

// NewCard returns a card holding size bytes of img.
func NewCard(img io.ReaderAt, size int64) *Card {
	return &Card{img: img, size: size}
}

// Count returns how many times command cmd was received.
func (c *Card) Count(cmd byte) int {
	n := 0
	for _, v := range c.Commands {
		if v == cmd {
			n++
		}
	}
	return n
}

// Select implements Device. The card keeps its state across chip-select
// edges but drops a partially received frame.
func (c *Card) Select(asserted bool) {
	c.selected = asserted
	c.frame = nil
}

// Exchange implements Device. Responses are queued and shifted out one byte
// per exchange; while a multi-block read runs the queue is refilled with the
// next data packet.
func (c *Card) Exchange(out byte) byte {
	if !c.selected {
		return 0xFF
	}
	in := byte(0xFF)
	if len(c.out) > 0 {
		in, c.out = c.out[0], c.out[1:]
	}

	switch {
	case len(c.frame) > 0:
		c.frame = append(c.frame, out)
		if len(c.frame) == 6 {
			c.command(c.frame[0]&0x3F, uint32(c.frame[1])<<24|uint32(c.frame[2])<<16|uint32(c.frame[3])<<8|uint32(c.frame[4]))
			c.frame = nil
		}
	case out&0xC0 == 0x40:
		c.frame = []byte{out}
		c.out = nil
	case c.streaming && len(c.out) == 0:
		c.out = c.packet(c.next)
		c.next++
	}
	return in
}

func (c *Card) command(cmd byte, arg uint32) {
	c.Commands = append(c.Commands, cmd)
	if glog.V(2) {
		glog.Infof("sim: CMD%d arg=0x%08X", cmd, arg)
	}
	app := c.appCmd
	c.appCmd = false

	switch {
	case cmd == 0:
		*c = Card{img: c.img, size: c.size, InitDelay: c.InitDelay, Commands: c.Commands, selected: c.selected}
		c.idle = true
		c.respond(r1Idle)
	case cmd == 55:
		c.appCmd = true
		c.respond(c.status())
	case cmd == 41 && app, cmd == 1:
		if c.idle && c.polls >= c.InitDelay {
			c.idle, c.ready = false, true
		}
		c.polls++
		c.respond(c.status())
	case !c.ready:
		c.respond(c.status() | r1Illegal)
	case cmd == 9:
		c.respond(r1Ready)
		csd := c.csd()
		c.out = append(c.out, 0xFF, dataToken)
		c.out = append(c.out, csd[:]...)
		c.out = append(c.out, 0xFF, 0xFF)
	case cmd == 17, cmd == 18:
		if arg%sector != 0 || int64(arg) >= c.size {
			c.respond(r1Address)
			return
		}
		c.respond(r1Ready)
		if cmd == 17 {
			c.out = append(c.out, c.packet(arg/sector)...)
			return
		}
		c.streaming = true
		c.next = arg / sector
	case cmd == 12:
		c.streaming = false
		// One stuff byte follows STOP_TRANSMISSION before the response.
		c.out = []byte{0xFF, 0xFF, r1Ready}
	default:
		c.respond(r1Illegal)
	}
}

func (c *Card) status() byte {
	if c.idle {
		return r1Idle
	}
	return r1Ready
}

// respond queues r1 after one byte of response delay.
func (c *Card) respond(r1 byte) {
	c.out = []byte{0xFF, r1}
}

// packet returns the data packet for sector lba: a gap byte, the token, the
// data and a (blank) CRC. Bytes past the end of the image read as zero.
func (c *Card) packet(lba uint32) []byte {
	p := make([]byte, 2+sector+2)
	p[0] = 0xFF
	p[1] = dataToken
	if off := int64(lba) * sector; off < c.size {
		n := int(min(sector, c.size-off))
		if _, err := c.img.ReadAt(p[2:2+n], off); err != nil && err != io.EOF {
			glog.Errorf("sim: read sector %d: %v", lba, err)
		}
	}
	p[len(p)-2], p[len(p)-1] = 0xFF, 0xFF
	return p
}

// csd returns a version 2.0 CSD describing the image size.
func (c *Card) csd() [16]byte {
	cSize := uint32(0)
	if units := c.size / (512 << 10); units > 0 {
		cSize = uint32(units - 1)
	}
	// CSD_STRUCTURE = 1, TAAC, NSAC, TRAN_SPEED, CCC/READ_BL_LEN = 9, ...
	csd := [16]byte{0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0, 0, 0, 0x7F, 0x80, 0x0A, 0x40, 0x00, 0x01}
	csd[7] = byte(cSize>>16) & 0x3F
	csd[8] = byte(cSize >> 8)
	csd[9] = byte(cSize)
	return csd
}
