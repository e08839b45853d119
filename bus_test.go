package spicard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigDelay(t *testing.T) {
	f := &fakeBridge{}
	b := NewBus(f, ConfigTurbo)
	assert.Empty(t, f.configs, "nothing written up front")

	require.NoError(t, b.SetConfig(ConfigEnable|ConfigSuppress, ConfigEnable, 3))
	assert.Equal(t, []Config{ConfigTurbo, ConfigTurbo, ConfigTurbo, ConfigTurbo | ConfigEnable}, f.configs)
	assert.Equal(t, ConfigTurbo|ConfigEnable, b.Config())

	require.NoError(t, b.Deselect())
	assert.Equal(t, ConfigTurbo, f.configs[len(f.configs)-1])
}

func TestExchangeSuppressed(t *testing.T) {
	f := &fakeBridge{respond: func(out byte) byte { return ^out }}
	b := NewBus(f, 0)

	v, err := b.Exchange(0x0F)
	require.NoError(t, err)
	assert.Equal(t, byte(0xF0), v)

	require.NoError(t, b.SetConfig(ConfigSuppress, ConfigSuppress, 0))
	require.NoError(t, b.WriteData([]byte{1, 2, 3}))
	assert.Empty(t, f.queue)
	assert.Equal(t, []byte{0x0F, 1, 2, 3}, f.sent)
}

func TestWaitFor(t *testing.T) {
	script := []byte{0xFF, 0xFF, 0x01, 0xFE}
	f := &fakeBridge{respond: func(byte) byte {
		if len(script) == 0 {
			return 0xFF
		}
		v := script[0]
		script = script[1:]
		return v
	}}
	b := NewBus(f, 0)

	last, ok, err := b.WaitForNot(0xFF, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(0x01), last)
	assert.Len(t, f.sent, 3)

	last, ok, err = b.WaitFor(0xFE, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(0xFE), last)

	last, ok, err = b.WaitFor(0xFE, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, byte(0xFF), last)
	assert.Len(t, f.sent, 3+1+5)
}

func TestExchangeBlock(t *testing.T) {
	n := 0
	f := &fakeBridge{respond: func(byte) byte { n++; return byte(n) }}
	b := NewBus(f, 0)

	buf := []byte{9, 9, 9}
	require.NoError(t, b.ExchangeBlock(buf))
	assert.Equal(t, []byte{1, 2, 3}, buf)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, f.sent)
}

func TestConfigString(t *testing.T) {
	assert.Equal(t, "00000000", Config(0).String())
	assert.Equal(t, "00000111 SUPPRESS,ENABLE,TURBO", (ConfigTurbo | ConfigEnable | ConfigSuppress).String())
}
