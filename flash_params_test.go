package spicard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeometry(t *testing.T) {
	g, err := ParseGeometry("528:10")
	require.NoError(t, err)
	assert.Equal(t, Geometry{PageSize: 528, PageShift: 10}, g)
	assert.Equal(t, uint32(3<<10), g.Address(3))
	assert.Equal(t, "528:10", g.String())

	for _, s := range []string{"", "528", "528:", ":10", "x:10", "528:y", "0:10", "528:0", "-1:10", "1056:10", "528:24"} {
		_, err := ParseGeometry(s)
		assert.Error(t, err, "%q", s)
	}
}

func TestGeometryBinary(t *testing.T) {
	g := knownDataFlash[densityAT45DB161].binary()
	assert.Equal(t, 512, g.PageSize)
	assert.Equal(t, uint(9), g.PageShift)
	assert.Equal(t, int64(2<<20), g.Capacity())
	assert.Equal(t, "AT45DB161 (512:9)", g.String())
}

func TestKnownDataFlashFit(t *testing.T) {
	for code, g := range knownDataFlash {
		assert.NoError(t, g.validate(), g.Name)
		assert.NoError(t, g.binary().validate(), g.Name)
		assert.Equal(t, code, StatusRegister(code<<2).Density(), g.Name)
	}
}
