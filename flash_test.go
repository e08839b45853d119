package spicard

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramTransactions(t *testing.T) {
	f := &fakeBridge{} // reads back 0xFF: always ready
	df := NewDataFlash(f)
	g := Geometry{PageSize: 4, PageShift: 2}

	require.NoError(t, df.Program(bytes.NewReader([]byte{1, 2, 3, 4, 5}), g))

	// Buffer write, commit, status poll; twice.
	assert.Equal(t, []byte{
		0x84, 0, 0, 0, 1, 2, 3, 4,
		0x83, 0, 0, 0,
		0xD7, 0x00,
		0x84, 0, 0, 0, 5, 0xFF, 0xFF, 0xFF,
		0x83, 0, 0, 1 << 2,
		0xD7, 0x00,
	}, f.sent)

	const (
		T = ConfigTurbo
		E = ConfigEnable
		S = ConfigSuppress
	)
	// Each transaction is one select followed by csHold repeats and a
	// deselect: 18 configuration writes.
	require.Len(t, f.configs, 6*(2+csHold))
	assert.Equal(t, T|E|S, f.configs[0])
	assert.Equal(t, T|E|S, f.configs[csHold])
	assert.Equal(t, T|S, f.configs[17])
	assert.Equal(t, T|E|S, f.configs[18])
	assert.Equal(t, T|S, f.configs[35])
	assert.Equal(t, T|E, f.configs[36])
	assert.Equal(t, T, f.configs[53])
	assert.Empty(t, f.queue)
}

func TestBusyWait(t *testing.T) {
	polls := 0
	f := &fakeBridge{respond: func(out byte) byte {
		if out != 0x00 {
			return 0xFF
		}
		polls++
		if polls < 3 {
			return 0x2C
		}
		return 0xAC
	}}
	df := NewDataFlash(f)

	require.NoError(t, df.BusyWait())
	assert.Equal(t, 3, polls)

	sr, err := df.ReadStatusRegister()
	require.NoError(t, err)
	assert.True(t, sr.Ready())
	assert.Equal(t, byte(0b1011), sr.Density())
	g, err := df.Detect()
	require.NoError(t, err)
	assert.Equal(t, "AT45DB161", g.Name)
}

func TestDetect(t *testing.T) {
	for _, tc := range []struct {
		sr   byte
		want Geometry
		err  bool
	}{
		{sr: 0xAC, want: knownDataFlash[densityAT45DB161]},
		{sr: 0xAD, want: Geometry{Name: "AT45DB161", PageSize: 512, PageShift: 9, Pages: 4096}},
		{sr: 0xBC, want: knownDataFlash[densityAT45DB642]},
		{sr: 0x80, err: true},
	} {
		f := &fakeBridge{respond: func(out byte) byte {
			if out == 0x00 {
				return tc.sr
			}
			return 0xFF
		}}
		g, err := NewDataFlash(f).Detect()
		if tc.err {
			assert.Error(t, err, "%02X", tc.sr)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, g, "%02X", tc.sr)
	}
}

func TestProgramReadError(t *testing.T) {
	f := &fakeBridge{}
	df := NewDataFlash(f)
	boom := errors.New("disk on fire")

	err := df.Program(iotest.ErrReader(boom), Geometry{PageSize: 4, PageShift: 2})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.sent)

	err = df.Program(bytes.NewReader(nil), Geometry{PageSize: 8, PageShift: 2})
	assert.Error(t, err, "page does not fit its address bits")
}

func TestRead(t *testing.T) {
	f := &fakeBridge{}
	df := NewDataFlash(f)
	g := Geometry{PageSize: 6, PageShift: 3}

	data, err := df.Read(g, 4, 5)
	require.NoError(t, err)
	assert.Len(t, data, 5)
	// Offset 4 is page 0 column 4; offset 6 starts page 1.
	assert.Equal(t, []byte{
		0x03, 0x00, 0x00, 0x04, 0xFF, 0xFF,
		0x03, 0x00, 0x00, 0x08, 0xFF, 0xFF, 0xFF,
	}, f.sent)
}

func TestStatusRegisterString(t *testing.T) {
	assert.Equal(t, "10101100 RDY,AT45DB161", StatusRegister(0xAC).String())
	assert.Equal(t, "01000011 BUSY,COMP,PROTECT,POW2", StatusRegister(0x43).String())
}

func TestMismatch(t *testing.T) {
	assert.Equal(t, -1, mismatch([]byte{1, 2}, []byte{1, 2}))
	assert.Equal(t, 1, mismatch([]byte{1, 2}, []byte{1, 3}))
	assert.Equal(t, 2, mismatch([]byte{1, 2}, []byte{1, 2, 3}))
}
