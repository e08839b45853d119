package spicard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSDCapacity(t *testing.T) {
	// CSD 1.0: READ_BL_LEN = 9, C_SIZE = 4095, C_SIZE_MULT = 7.
	var v1 CSD
	v1[5] = 0x59
	v1[6] = 0x03
	v1[7] = 0xFF
	v1[8] = 0xC0
	v1[9] = 0x03
	v1[10] = 0x80
	assert.Equal(t, 0, v1.Version())
	assert.Equal(t, int64(1)<<30, v1.Capacity())
	assert.Equal(t, int64(1)<<21, v1.Blocks())

	// CSD 2.0: C_SIZE = 0x3B37.
	v2 := CSD{0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0x00, 0x3B, 0x37, 0x7F, 0x80, 0x0A, 0x40, 0x00, 0x01}
	assert.Equal(t, 1, v2.Version())
	assert.Equal(t, int64(0x3B38)<<19, v2.Capacity())

	assert.Zero(t, (&CSD{0x80}).Capacity())
}

func TestReadCSD(t *testing.T) {
	want := CSD{0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0x00, 0x00, 0x07, 0x7F, 0x80, 0x0A, 0x40, 0x00, 0x01}
	c, s, f := newScriptedCard(readyCard(func(cmd byte, arg uint32) []byte {
		if cmd != cmdSendCSD {
			return []byte{byte(R1IllegalCommand)}
		}
		return append([]byte{byte(R1Success)}, dataPacket(want[:])...)
	}))
	require.NoError(t, c.Init())

	csd, err := c.ReadCSD()
	require.NoError(t, err)
	assert.Equal(t, want, csd)
	assert.Equal(t, int64(4<<20), csd.Capacity())
	assert.Equal(t, 1, s.count(cmdSendCSD))
	assert.False(t, f.config.Enable())
	assert.Empty(t, f.queue)
}

func TestReadCSDRejected(t *testing.T) {
	c, _, f := newScriptedCard(readyCard(nil))
	require.NoError(t, c.Init())

	_, err := c.ReadCSD()
	var ce *CommandError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, byte(cmdSendCSD), ce.Command)
	assert.Equal(t, R1IllegalCommand, ce.Token)
	assert.False(t, f.config.Enable())
}
