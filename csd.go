package spicard

// CSD is the card-specific data register [SDPLS|5.3 CSD Register], most
// significant byte first.
type CSD [16]byte

// bits returns CSD bits [hi:lo] (inclusive, bit 127 is the MSB of csd[0]).
func (csd *CSD) bits(hi, lo int) uint32 {
	var v uint32
	for i := hi; i >= lo; i-- {
		b := csd[15-i/8] >> (i % 8) & 1
		v = v<<1 | uint32(b)
	}
	return v
}

// Version returns CSD_STRUCTURE: 0 for CSD 1.0 (standard capacity), 1 for
// CSD 2.0 (high capacity).
func (csd *CSD) Version() int { return int(csd.bits(127, 126)) }

// Capacity returns the user data area size in bytes, or 0 for an unknown
// CSD structure.
func (csd *CSD) Capacity() int64 {
	switch csd.Version() {
	case 0:
		// [SDPLS|5.3.2 CSD Register (CSD Version 1.0)]
		readBlLen := csd.bits(83, 80)
		cSize := csd.bits(73, 62)
		cSizeMult := csd.bits(49, 47)
		return int64(cSize+1) << (cSizeMult + 2) << readBlLen
	case 1:
		// [SDPLS|5.3.3 CSD Register (CSD Version 2.0)]
		cSize := csd.bits(69, 48)
		return int64(cSize+1) * 512 << 10
	default:
		return 0
	}
}

// Blocks returns the capacity in BlockSize sectors.
func (csd *CSD) Blocks() int64 { return csd.Capacity() / BlockSize }

// ReadCSD sends SEND_CSD and reads the 16-byte register that follows the data
// token. Chip-select is deasserted on return.
func (c *Card) ReadCSD() (csd CSD, err error) {
	if c.session.active {
		return csd, ErrSessionActive
	}
	if err = c.bus.Select(); err != nil {
		return csd, err
	}
	defer func() {
		if cleanupErr := c.release(); cleanupErr != nil && err == nil {
			err = cleanupErr
		}
	}()

	r, err := c.SendCommand(cmdSendCSD, 0)
	if err != nil {
		return csd, err
	}
	if r != R1Success {
		return csd, &CommandError{Command: cmdSendCSD, Token: r}
	}
	last, ok, err := c.bus.WaitFor(tokenReadRegister, c.retries.wait)
	if err != nil {
		return csd, err
	}
	if !ok {
		return csd, &TimeoutError{
			Phase:    PhaseRegisterCmd,
			Command:  cmdSendCSD,
			Token:    R1(last),
			Attempts: c.retries.wait,
		}
	}
	for i := range csd {
		if csd[i], err = c.bus.Exchange(fillByte); err != nil {
			return csd, err
		}
	}
	// release flushes the two CRC bytes.
	return csd, nil
}
