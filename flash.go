package spicard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
)

// DataFlash is an Atmel AT45-series DataFlash behind the bridge. Pages are
// written through SRAM buffer 1 and committed with built-in erase.
type DataFlash struct {
	bus *Bus

	// Progress, if set, is called after each page is committed.
	Progress func(page int)
}

// NewDataFlash returns a DataFlash talking through t. The bridge is assumed to
// be running its high-speed clock.
func NewDataFlash(t Transport) *DataFlash {
	return &DataFlash{bus: NewBus(t, ConfigTurbo)}
}

// Bus returns the flash's byte engine.
func (f *DataFlash) Bus() *Bus { return f.bus }

// Flash commands [AT45DB161D|15. Command Tables].
const (
	flashCmdBufferToPage = 0x83 // Buffer 1 to Main Memory Page Program with Built-in Erase
	flashCmdBufferWrite  = 0x84 // Buffer 1 Write
	flashCmdBufferRead   = 0xD1 // Buffer 1 Read (low frequency)
	flashCmdStatus       = 0xD7 // Status Register Read
	flashCmdRead         = 0x03 // Continuous Array Read (low frequency)
)

// csHold is how many times the configuration register is repeated before
// chip-select is released, giving the bridge time to shift out the last byte.
const csHold = 16

// ErrFlashFull is returned when the input does not fit the device.
var ErrFlashFull = errors.New("input larger than flash")

// tx writes p with chip-select asserted and bits in mask set to value.
func (f *DataFlash) tx(mask, value Config, p []byte) (err error) {
	if err = f.bus.SetConfig(mask|ConfigEnable, value|ConfigEnable, 0); err != nil {
		return err
	}
	defer func() {
		if csErr := f.bus.SetConfig(ConfigEnable, 0, csHold); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return f.bus.WriteData(p)
}

// ReadStatusRegister returns the status register. The bridge reads back both
// bytes of the transaction; the second one is the register.
func (f *DataFlash) ReadStatusRegister() (StatusRegister, error) {
	buf := []byte{flashCmdStatus, 0x00}
	if err := f.tx(ConfigSuppress, 0, buf); err != nil {
		return 0, err
	}
	if err := f.bus.ReadData(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

// BusyWait polls the status register until the device reports ready. There
// is no bound: a page program always completes on working hardware.
func (f *DataFlash) BusyWait() error {
	for polls := 1; ; polls++ {
		sr, err := f.ReadStatusRegister()
		if err != nil {
			return err
		}
		if sr.Ready() {
			if glog.V(2) {
				glog.Infof("flash: ready after %d polls (%v)", polls, sr)
			}
			return nil
		}
	}
}

// Detect reads the status register and looks up the part by its density
// code.
func (f *DataFlash) Detect() (Geometry, error) {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return Geometry{}, err
	}
	g, ok := knownDataFlash[sr.Density()]
	if !ok {
		return Geometry{}, fmt.Errorf("unknown DataFlash density code %04b (status %v)", sr.Density(), sr)
	}
	if sr.PowerOfTwo() {
		g = g.binary()
	}
	return g, nil
}

// programPage writes page (prefixed by 4 spare header bytes) into buffer 1,
// commits it to page number n and waits for the commit to finish.
func (f *DataFlash) programPage(g Geometry, n int, page []byte) error {
	// Buffer address 0; the 24 address bits are all don't-care or zero.
	page[0] = flashCmdBufferWrite
	page[1] = 0x00
	page[2] = 0x00
	page[3] = 0x00
	if err := f.tx(ConfigSuppress, ConfigSuppress, page); err != nil {
		return err
	}

	addr := g.Address(n)
	cmd := []byte{flashCmdBufferToPage, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	if err := f.tx(0, 0, cmd); err != nil {
		return err
	}
	return f.BusyWait()
}

// Program writes r to the flash page by page starting at page 0 until r is
// exhausted. A short final page is padded with 0xFF.
func (f *DataFlash) Program(r io.Reader, g Geometry) error {
	return f.program(r, g, "")
}

// ProgramFile programs the contents of the named file. Open and read failures
// are reported as *FileError.
func (f *DataFlash) ProgramFile(path string, g Geometry) error {
	file, err := os.Open(path)
	if err != nil {
		return &FileError{Path: path, Err: err}
	}
	defer file.Close()
	return f.program(file, g, path)
}

func (f *DataFlash) program(r io.Reader, g Geometry, path string) error {
	if err := g.validate(); err != nil {
		return err
	}
	buf := make([]byte, 4+g.PageSize)
	for n := 0; ; n++ {
		count, err := io.ReadFull(r, buf[4:])
		if err == io.EOF {
			return nil
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			if path != "" {
				return &FileError{Path: path, Err: err}
			}
			return err
		}
		// Data remains past the last page.
		if g.Pages > 0 && n >= g.Pages {
			return fmt.Errorf("%w: %s has %d pages", ErrFlashFull, g.Name, g.Pages)
		}
		for i := 4 + count; i < len(buf); i++ {
			buf[i] = 0xFF
		}
		if err := f.programPage(g, n, buf); err != nil {
			return err
		}
		glog.V(1).Infof("flash: page %d committed at 0x%06X", n, g.Address(n))
		if f.Progress != nil {
			f.Progress(n)
		}
		if err == io.ErrUnexpectedEOF {
			return nil
		}
	}
}

// readCmd issues a low-frequency read command and returns n bytes. The
// bridge reads back the 4 command bytes too; they are dropped.
func (f *DataFlash) readCmd(op byte, addr uint32, n int) ([]byte, error) {
	buf := make([]byte, 4+n)
	buf[0] = op
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	for i := 4; i < len(buf); i++ {
		buf[i] = 0xFF
	}
	if err := f.tx(ConfigSuppress, 0, buf); err != nil {
		return nil, err
	}
	if err := f.bus.ReadData(buf); err != nil {
		return nil, err
	}
	return buf[4:], nil
}

// Read returns n bytes of main memory starting at linear offset off, one
// page per transaction.
func (f *DataFlash) Read(g Geometry, off int64, n int) ([]byte, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for remaining := n; remaining > 0; {
		page := int(off / int64(g.PageSize))
		col := int(off % int64(g.PageSize))
		chunk := min(remaining, g.PageSize-col)
		data, err := f.readCmd(flashCmdRead, g.Address(page)|uint32(col), chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		off += int64(chunk)
		remaining -= chunk
	}
	return out, nil
}

// ReadBuffer returns n bytes of SRAM buffer 1 starting at off.
func (f *DataFlash) ReadBuffer(off, n int) ([]byte, error) {
	return f.readCmd(flashCmdBufferRead, uint32(off), n)
}

// Verify compares main memory from offset 0 with want.
func (f *DataFlash) Verify(want []byte, g Geometry) error {
	got, err := f.Read(g, 0, len(want))
	if err != nil {
		return err
	}
	if i := mismatch(got, want); i >= 0 {
		return fmt.Errorf("verify failed at offset 0x%X: got 0x%02X, want 0x%02X", i, got[i], want[i])
	}
	return nil
}

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range min(len(a), len(b)) {
		if a[i] != b[i] {
			return i
		}
	}
	return min(len(a), len(b))
}

// StatusRegister represents the status register of the DataFlash.
//
//	Bits| [AT45DB161D|11.4 Status Register Read]
//	----+--------------------------------------------
//	7   | RDY/BUSY: 1 = ready
//	6   | COMP: 1 = last compare did not match
//	5:2 | Density code
//	1   | PROTECT: sector protection enabled
//	0   | PAGE SIZE: 1 = power-of-two page size
type StatusRegister byte

func (sr StatusRegister) Ready() bool      { return sr&(1<<7) != 0 }
func (sr StatusRegister) CompareMiss() bool { return sr&(1<<6) != 0 }
func (sr StatusRegister) Density() byte    { return byte(sr>>2) & 0x0F }
func (sr StatusRegister) Protect() bool    { return sr&(1<<1) != 0 }
func (sr StatusRegister) PowerOfTwo() bool { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.Ready() {
		s = append(s, "RDY")
	} else {
		s = append(s, "BUSY")
	}
	if sr.CompareMiss() {
		s = append(s, "COMP")
	}
	if g, ok := knownDataFlash[sr.Density()]; ok {
		s = append(s, g.Name)
	}
	if sr.Protect() {
		s = append(s, "PROTECT")
	}
	if sr.PowerOfTwo() {
		s = append(s, "POW2")
	}
	return b + " " + strings.Join(s, ",")
}
