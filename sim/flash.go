package sim

import (
	"bytes"

	"github.com/golang/glog"

	"github.com/gentam/spicard"
)

// DataFlash is an AT45-series DataFlash with one SRAM buffer. It supports
// Buffer 1 Write, Buffer 1 to Main Memory Page Program, Buffer 1 Read,
// Continuous Array Read and Status Register Read.
type DataFlash struct {
	Geometry spicard.Geometry
	Density  byte // status register bits 5:2

	// BusyPolls is how many status reads report busy after each page program.
	BusyPolls int

	// Mem is main memory, Geometry.Pages pages of Geometry.PageSize bytes.
	Mem []byte
	// Buffer is SRAM buffer 1.
	Buffer []byte

	// BufferWrites counts Buffer 1 Write commands.
	BufferWrites int
	// Programs lists the address bytes of every page program, in order.
	Programs []uint32

	selected bool
	cmd      []byte
	busy     int
}

// NewDataFlash returns an erased part with geometry g.
func NewDataFlash(g spicard.Geometry, density byte) *DataFlash {
	return &DataFlash{
		Geometry: g,
		Density:  density,
		Mem:      bytes.Repeat([]byte{0xFF}, g.PageSize*g.Pages),
		Buffer:   bytes.Repeat([]byte{0xFF}, g.PageSize),
	}
}

// NewAT45DB161 returns an erased AT45DB161 in its default 528-byte page mode.
func NewAT45DB161() *DataFlash {
	return NewDataFlash(spicard.Geometry{Name: "AT45DB161", PageSize: 528, PageShift: 10, Pages: 4096}, 0b1011)
}

// Page returns the contents of main memory page n.
func (f *DataFlash) Page(n int) []byte {
	return f.Mem[n*f.Geometry.PageSize : (n+1)*f.Geometry.PageSize]
}

// Select implements Device. A page program starts when chip-select is
// released after its fourth byte.
func (f *DataFlash) Select(asserted bool) {
	if !asserted && f.selected && len(f.cmd) >= 4 && f.cmd[0] == 0x83 {
		f.commit(f.address())
	}
	f.selected = asserted
	f.cmd = f.cmd[:0]
}

// Exchange implements Device.
func (f *DataFlash) Exchange(out byte) byte {
	if !f.selected {
		return 0xFF
	}
	f.cmd = append(f.cmd, out)
	n := len(f.cmd) - 1
	switch f.cmd[0] {
	case 0xD7:
		if n >= 1 {
			return f.status()
		}
	case 0x84:
		if n == 0 {
			f.BufferWrites++
		}
		if n >= 4 {
			f.Buffer[(f.column()+n-4)%f.Geometry.PageSize] = out
		}
	case 0xD1:
		if n >= 4 {
			return f.Buffer[(f.column()+n-4)%f.Geometry.PageSize]
		}
	case 0x03:
		if n >= 4 {
			page := int(f.address() >> f.Geometry.PageShift)
			off := page*f.Geometry.PageSize + f.column() + n - 4
			if off < len(f.Mem) {
				return f.Mem[off]
			}
		}
	}
	return 0xFF
}

// address returns the 24 address bits of the current command.
func (f *DataFlash) address() uint32 {
	return uint32(f.cmd[1])<<16 | uint32(f.cmd[2])<<8 | uint32(f.cmd[3])
}

func (f *DataFlash) column() int {
	if len(f.cmd) < 4 {
		return 0
	}
	return int(f.address() & (1<<f.Geometry.PageShift - 1))
}

func (f *DataFlash) commit(addr uint32) {
	page := int(addr >> f.Geometry.PageShift)
	f.Programs = append(f.Programs, addr)
	if page >= f.Geometry.Pages {
		glog.Warningf("sim: program of page %d beyond %d pages", page, f.Geometry.Pages)
	} else {
		copy(f.Page(page), f.Buffer)
	}
	f.busy = f.BusyPolls
}

func (f *DataFlash) status() byte {
	sr := f.Density << 2
	if f.Geometry.PageSize == 1<<f.Geometry.PageShift {
		sr |= 1 // power-of-two page size
	}
	if f.busy > 0 {
		f.busy--
		return sr
	}
	return sr | 0x80
}
