package gdbstub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	p := newTestProcess(t)
	mc, err := newMemoryCache(p, 4)
	require.NoError(t, err)

	first, err := mc.read(1, 0x400010, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x11, 0x12, 0x13}, first)

	_, err = p.WriteMemory(0x400010, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	// the same stop sees the same bytes
	again, err := mc.read(1, 0x400010, 4)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	next, err := mc.read(2, 0x400010, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, next)

	_, err = p.WriteMemory(0x400010, []byte{5, 6, 7, 8})
	require.NoError(t, err)
	mc.purge()
	data, err := mc.read(2, 0x400010, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8}, data)

	_, err = mc.read(2, 0x10, 4)
	assert.Error(t, err)
}

func TestMemoryCacheDisabled(t *testing.T) {
	p := newTestProcess(t)
	mc, err := newMemoryCache(p, 0)
	require.NoError(t, err)

	_, err = mc.read(1, 0x400010, 4)
	require.NoError(t, err)
	_, err = p.WriteMemory(0x400010, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	data, err := mc.read(1, 0x400010, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	mc.purge()
}
