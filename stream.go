package spicard

import (
	"errors"
	"io"

	"github.com/golang/glog"
)

// BlockSize is the SD sector size in SPI byte-addressed mode.
const BlockSize = blockSize

// session is the state of an open block read.
type session struct {
	active    bool
	multiple  bool
	exhausted bool   // single-block session whose sector has been consumed
	offset    int    // byte position within the current sector, [0, BlockSize)
	lba       uint32 // sector being streamed, for diagnostics
}

// BeginReadSingle opens a single-block read of sector lba. On success
// chip-select stays asserted until EndRead.
func (c *Card) BeginReadSingle(lba uint32) error {
	return c.beginRead(cmdReadSingleBlock, lba, false)
}

// BeginReadMultiple opens a multi-block read starting at sector lba. The card
// streams consecutive sectors until EndRead sends STOP_TRANSMISSION.
func (c *Card) BeginReadMultiple(lba uint32) error {
	return c.beginRead(cmdReadMultiBlock, lba, true)
}

func (c *Card) beginRead(cmd byte, lba uint32, multiple bool) (err error) {
	if c.session.active {
		return ErrSessionActive
	}
	if err = c.bus.Select(); err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if cleanupErr := c.release(); cleanupErr != nil {
			glog.Warningf("sd: cleanup after failed CMD%d: %v", cmd, cleanupErr)
		}
	}()

	// Byte addressing: the argument is the sector's byte offset.
	arg := lba << 9
	var r R1
	attempts := 0
	for attempts < c.retries.read {
		attempts++
		if r, err = c.SendCommand(cmd, arg); err != nil {
			return err
		}
		if r == R1Success {
			break
		}
	}
	if r != R1Success {
		glog.Warningf("sd: CMD%d not accepted: lba=0x%08X token=0x%02X", cmd, lba, byte(r))
		return &TimeoutError{
			Phase:    PhaseReadCmd,
			Command:  cmd,
			LBA:      lba,
			Token:    r,
			Attempts: attempts,
		}
	}

	c.session = session{active: true, multiple: multiple, lba: lba}
	return nil
}

// Active reports whether a read session is open.
func (c *Card) Active() bool { return c.session.active }

// Offset returns the byte position within the current sector.
func (c *Card) Offset() int { return c.session.offset }

// ReadByte returns the next byte of the stream. At the start of each sector
// it first waits for the data token; after the last byte of a sector it
// flushes the two CRC bytes. A single-block session returns io.EOF once its
// sector is consumed. If the CRC flush fails, the sector's last byte is
// returned together with the error.
func (c *Card) ReadByte() (byte, error) {
	b, _, err := c.next()
	return b, err
}

// next is ReadByte that also reports whether b was consumed from the stream.
func (c *Card) next() (b byte, ok bool, err error) {
	if !c.session.active {
		return 0, false, ErrNoSession
	}
	if c.session.exhausted {
		return 0, false, io.EOF
	}
	if c.session.offset == 0 {
		token := byte(tokenReadSingle)
		if c.session.multiple {
			token = tokenReadMultiple
		}
		last, found, err := c.bus.WaitFor(token, c.retries.wait)
		if err != nil {
			return 0, false, err
		}
		if !found {
			cmd := byte(cmdReadSingleBlock)
			if c.session.multiple {
				cmd = cmdReadMultiBlock
			}
			return 0, false, &TimeoutError{
				Phase:    PhaseDataToken,
				Command:  cmd,
				LBA:      c.session.lba,
				Token:    R1(last),
				Attempts: c.retries.wait,
			}
		}
	}
	if b, err = c.bus.Exchange(fillByte); err != nil {
		return 0, false, err
	}
	c.session.offset++
	if c.session.offset == BlockSize {
		c.session.offset = 0
		c.session.lba++
		c.session.exhausted = !c.session.multiple
		if err := c.bus.SendClocks(2, fillByte); err != nil {
			return b, true, err
		}
	}
	return b, true, nil
}

// ReadUint16 reads a little-endian 16-bit value.
func (c *Card) ReadUint16() (uint16, error) {
	var v uint16
	for i := range 2 {
		b, err := c.ReadByte()
		if err != nil {
			return v, err
		}
		v |= uint16(b) << (8 * i)
	}
	return v, nil
}

// ReadUint32 reads a little-endian 32-bit value.
func (c *Card) ReadUint32() (uint32, error) {
	var v uint32
	for i := range 4 {
		b, err := c.ReadByte()
		if err != nil {
			return v, err
		}
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

// Read fills p from the stream. Sector boundaries are crossed transparently;
// a single-block session returns io.EOF once its sector is consumed.
func (c *Card) Read(p []byte) (n int, err error) {
	if !c.session.active {
		return 0, ErrNoSession
	}
	for n < len(p) {
		var ok bool
		p[n], ok, err = c.next()
		if ok {
			n++
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Skip discards n bytes of the stream.
func (c *Card) Skip(n int) error {
	for range n {
		if _, err := c.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}

// EndRead closes the read session: it drains the rest of a partially read
// sector, sends STOP_TRANSMISSION for multi-block reads and deasserts
// chip-select. Chip-select is deasserted and the session closed even if
// draining or stopping fails.
// EndRead without an open session does nothing and returns nil.
func (c *Card) EndRead() (err error) {
	if !c.session.active {
		return nil
	}
	s := c.session
	defer func() {
		c.session = session{}
		if csErr := c.bus.Deselect(); csErr != nil && err == nil {
			err = csErr
		}
	}()

	if s.offset != 0 {
		if err = c.Skip(BlockSize - s.offset); err != nil {
			return err
		}
	}
	if !s.multiple {
		return nil
	}
	var r R1
	attempts := 0
	for attempts < c.retries.stop {
		attempts++
		if r, err = c.SendCommand(cmdStopTransmission, 0); err != nil {
			return err
		}
		if r == R1Success {
			return nil
		}
	}
	glog.Warningf("sd: STOP_TRANSMISSION not acknowledged after %d attempts (token=0x%02X)", attempts, byte(r))
	return &TimeoutError{
		Phase:    PhaseStopCmd,
		Command:  cmdStopTransmission,
		LBA:      s.lba,
		Token:    r,
		Attempts: attempts,
	}
}

// ReadBlock reads sector lba into dst (len(dst) >= BlockSize) with a single
// bulk exchange instead of byte-wise reads.
func (c *Card) ReadBlock(lba uint32, dst []byte) (err error) {
	if len(dst) < BlockSize {
		return io.ErrShortBuffer
	}
	if err = c.BeginReadSingle(lba); err != nil {
		return err
	}
	defer func() {
		if endErr := c.EndRead(); endErr != nil && err == nil {
			err = endErr
		}
	}()

	last, ok, err := c.bus.WaitFor(tokenReadSingle, c.retries.wait)
	if err != nil {
		return err
	}
	if !ok {
		return &TimeoutError{
			Phase:    PhaseDataToken,
			Command:  cmdReadSingleBlock,
			LBA:      lba,
			Token:    R1(last),
			Attempts: c.retries.wait,
		}
	}
	if err = c.bus.ExchangeBlock(dst[:BlockSize]); err != nil {
		return err
	}
	// The block went around ReadByte, so the session offset is still 0 and
	// EndRead will not drain anything; flush the CRC here.
	return c.bus.SendClocks(2, fillByte)
}

// ReadBlocks reads len(dst)/BlockSize consecutive sectors starting at lba in
// one multi-block session.
func (c *Card) ReadBlocks(lba uint32, dst []byte) (err error) {
	if len(dst)%BlockSize != 0 {
		return errors.New("destination length must be a multiple of the block size")
	}
	if len(dst) == 0 {
		return nil
	}
	if err = c.BeginReadMultiple(lba); err != nil {
		return err
	}
	defer func() {
		if endErr := c.EndRead(); endErr != nil && err == nil {
			err = endErr
		}
	}()
	_, err = io.ReadFull(c, dst)
	return err
}
