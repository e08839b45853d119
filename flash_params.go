package spicard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Geometry describes how a DataFlash maps page numbers to the 24-bit address
// field: page n starts at address n<<PageShift, and the low PageShift bits
// select a byte within the page.
type Geometry struct {
	Name      string
	PageSize  int
	PageShift uint
	Pages     int // 0 if unknown
}

// Density codes from status register bits 5:2 [AT45DB161D|11.4 Status Register Read].
const (
	densityAT45DB011 = 0b0011
	densityAT45DB021 = 0b0101
	densityAT45DB041 = 0b0111
	densityAT45DB081 = 0b1001
	densityAT45DB161 = 0b1011
	densityAT45DB321 = 0b1101
	densityAT45DB642 = 0b1111
)

// Default ("DataFlash") page sizes; see binary for the power-of-two variant.
var knownDataFlash = map[byte]Geometry{
	densityAT45DB011: {Name: "AT45DB011", PageSize: 264, PageShift: 9, Pages: 512},
	densityAT45DB021: {Name: "AT45DB021", PageSize: 264, PageShift: 9, Pages: 1024},
	densityAT45DB041: {Name: "AT45DB041", PageSize: 264, PageShift: 9, Pages: 2048},
	densityAT45DB081: {Name: "AT45DB081", PageSize: 264, PageShift: 9, Pages: 4096},
	densityAT45DB161: {Name: "AT45DB161", PageSize: 528, PageShift: 10, Pages: 4096},
	densityAT45DB321: {Name: "AT45DB321", PageSize: 528, PageShift: 10, Pages: 8192},
	densityAT45DB642: {Name: "AT45DB642", PageSize: 1056, PageShift: 11, Pages: 8192},
}

// binary returns the geometry after the part was configured for power-of-two
// pages: the extra 8 bytes per 256 are gone and addresses become linear.
func (g Geometry) binary() Geometry {
	g.PageShift--
	g.PageSize = 1 << g.PageShift
	return g
}

// Address returns the 24-bit page address of page n.
func (g Geometry) Address(n int) uint32 {
	return uint32(n) << g.PageShift
}

// Capacity returns the main memory size in bytes, or 0 if unknown.
func (g Geometry) Capacity() int64 {
	return int64(g.PageSize) * int64(g.Pages)
}

func (g Geometry) String() string {
	if g.Name == "" {
		return fmt.Sprintf("%d:%d", g.PageSize, g.PageShift)
	}
	return fmt.Sprintf("%s (%d:%d)", g.Name, g.PageSize, g.PageShift)
}

func (g Geometry) validate() error {
	switch {
	case g.PageSize <= 0:
		return errors.New("page size must be positive")
	case g.PageShift == 0 || g.PageShift > 23:
		return fmt.Errorf("page shift %d out of range", g.PageShift)
	case g.PageSize > 1<<g.PageShift:
		return fmt.Errorf("page size %d does not fit in %d address bits", g.PageSize, g.PageShift)
	}
	return nil
}

var errGeometrySyntax = errors.New("the flash size should look like <528:10>")

// ParseGeometry parses "pageSize:pageShift", e.g. "528:10". Both numbers are
// decimal and non-zero.
func ParseGeometry(s string) (Geometry, error) {
	size, shift, ok := strings.Cut(s, ":")
	if !ok {
		return Geometry{}, errGeometrySyntax
	}
	pageSize, err := strconv.ParseUint(size, 10, 32)
	if err != nil || pageSize == 0 {
		return Geometry{}, errGeometrySyntax
	}
	pageShift, err := strconv.ParseUint(shift, 10, 8)
	if err != nil || pageShift == 0 {
		return Geometry{}, errGeometrySyntax
	}
	g := Geometry{PageSize: int(pageSize), PageShift: uint(pageShift)}
	if err := g.validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}
