package device

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDeviceRoundTrip(t *testing.T) {
	assert := assert.New(t)
	d := NewMemDevice(1024)

	n, err := d.WriteAt([]byte("hello"), 512)
	assert.NoError(err)
	assert.Equal(5, n)

	buf := make([]byte, 5)
	n, err = d.ReadAt(buf, 512)
	assert.NoError(err)
	assert.Equal(5, n)
	assert.Equal([]byte("hello"), buf)
}

func TestMemDeviceShortTransfer(t *testing.T) {
	assert := assert.New(t)
	d := NewMemDevice(16)

	// Write running past the end transfers only what fits.
	n, err := d.WriteAt(make([]byte, 32), 8)
	assert.NoError(err)
	assert.Equal(8, n)

	n, err = d.ReadAt(make([]byte, 32), 8)
	assert.NoError(err)
	assert.Equal(8, n)

	// Fully out of range transfers nothing.
	n, err = d.ReadAt(make([]byte, 4), 64)
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestFileDeviceRoundTrip(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "dev.img")
	d, err := OpenFileDevice(path, 1<<16)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(uint64(1<<16), d.Size())

	n, err := d.WriteAt([]byte{1, 2, 3, 4}, 4096)
	assert.NoError(err)
	assert.Equal(4, n)
	assert.NoError(d.Barrier())

	buf := make([]byte, 4)
	n, err = d.ReadAt(buf, 4096)
	assert.NoError(err)
	assert.Equal(4, n)
	assert.Equal([]byte{1, 2, 3, 4}, buf)
}
