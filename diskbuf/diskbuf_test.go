package diskbuf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/fserr"
)

// recordingDevice remembers every write issued to it.
type recordingDevice struct {
	device.Device
	mu     sync.Mutex
	writes []common.Range
}

func (d *recordingDevice) WriteAt(p []byte, off uint64) (int, error) {
	d.mu.Lock()
	d.writes = append(d.writes, common.Range{Beg: off, End: off + uint64(len(p))})
	d.mu.Unlock()
	return d.Device.WriteAt(p, off)
}

func (d *recordingDevice) numWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

// shortDevice cuts every write short by one byte.
type shortDevice struct {
	device.Device
}

func (d *shortDevice) WriteAt(p []byte, off uint64) (int, error) {
	n, err := d.Device.WriteAt(p[:len(p)-1], off)
	return n, err
}

func flushWait(t *testing.T, b *Buffer, dev device.Device) {
	t.Helper()
	require.NoError(t, <-b.Flush(dev))
}

func TestInitErrors(t *testing.T) {
	assert := assert.New(t)
	b := New(nil)

	assert.ErrorIs(b.Init(4096, 0, 0), fserr.ErrAlignmentNotPowerOfTwo)
	assert.ErrorIs(b.Init(4096, 513, 0), fserr.ErrAlignmentNotPowerOfTwo)
	assert.ErrorIs(b.Init(4095, 512, 0), fserr.ErrSizeNotAligned)
	assert.ErrorIs(b.Init(4096, 512, 100), fserr.ErrOffsetNotAligned)

	assert.NoError(b.Init(4096, 512, 0))
}

func TestInitFailureDoesNotMutate(t *testing.T) {
	assert := assert.New(t)
	b := New(nil)
	require.NoError(t, b.Init(1024, 512, 0))
	b.Append(make([]byte, 10))

	assert.ErrorIs(b.Init(1024, 3, 0), fserr.ErrAlignmentNotPowerOfTwo)
	assert.Equal(uint64(1014), b.BytesLeft(), "failed init must leave state alone")
}

func TestAppendConservation(t *testing.T) {
	assert := assert.New(t)
	b := New(nil)
	require.NoError(t, b.Init(2048, 512, 0))

	left := b.BytesLeft()
	for _, n := range []uint64{1, 7, 512, 100} {
		b.Append(make([]byte, n))
		assert.Equal(left-n, b.BytesLeft())
		left -= n
	}
}

func TestAppendOverflowPanics(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Init(512, 512, 0))
	b.Append(make([]byte, 512))
	assert.Panics(t, func() { b.Append([]byte{1}) })
}

func TestFlushPadsWithZeros(t *testing.T) {
	assert := assert.New(t)
	mem := device.NewMemDevice(8192)
	b := New(nil)
	require.NoError(t, b.Init(4096, 512, 4096))

	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	b.Append(payload)
	flushWait(t, b, mem)

	got := make([]byte, 512)
	_, err := mem.ReadAt(got, 4096)
	require.NoError(t, err)
	assert.Equal(payload, got[:5])
	for i := 5; i < 512; i++ {
		assert.Zero(got[i], "padding byte %d must be zero", i)
	}
}

func TestFlushSequenceNonOverlapping(t *testing.T) {
	assert := assert.New(t)
	dev := &recordingDevice{Device: device.NewMemDevice(65536)}
	b := New(nil)
	require.NoError(t, b.Init(8192, 512, 0))

	b.Append(make([]byte, 100))
	flushWait(t, b, dev)
	b.Append(make([]byte, 600))
	flushWait(t, b, dev)
	b.Append(make([]byte, 512))
	flushWait(t, b, dev)

	require.Len(t, dev.writes, 3)
	assert.Equal(common.Range{Beg: 0, End: 512}, dev.writes[0])
	assert.Equal(common.Range{Beg: 512, End: 1536}, dev.writes[1])
	assert.Equal(common.Range{Beg: 1536, End: 2048}, dev.writes[2])
	for i := 1; i < len(dev.writes); i++ {
		assert.Equal(dev.writes[i-1].End, dev.writes[i].Beg,
			"each write must begin at the previous write's aligned end")
	}
}

func TestNoopFlush(t *testing.T) {
	assert := assert.New(t)
	dev := &recordingDevice{Device: device.NewMemDevice(8192)}
	b := New(nil)
	require.NoError(t, b.Init(1024, 512, 0))

	// Nothing appended yet.
	flushWait(t, b, dev)
	assert.Equal(0, dev.numWrites())

	// Fully consumed buffer.
	b.Append(make([]byte, 1024))
	flushWait(t, b, dev)
	assert.Equal(1, dev.numWrites())
	flushWait(t, b, dev)
	assert.Equal(1, dev.numWrites(), "flush of a consumed buffer must not touch the device")
}

func TestBytesLeftAfterFlushIfDoneNow(t *testing.T) {
	assert := assert.New(t)
	b := New(nil)
	require.NoError(t, b.Init(2048, 512, 0))

	assert.Equal(uint64(2048), b.BytesLeftAfterFlushIfDoneNow())
	b.Append(make([]byte, 1))
	assert.Equal(uint64(2047), b.BytesLeft())
	assert.Equal(uint64(1536), b.BytesLeftAfterFlushIfDoneNow(),
		"flush now would burn the rest of the alignment unit")
	b.Append(make([]byte, 511))
	assert.Equal(b.BytesLeft(), b.BytesLeftAfterFlushIfDoneNow(),
		"aligned end means a flush is free")
}

func TestPartialWriteIsFatal(t *testing.T) {
	assert := assert.New(t)
	dev := &shortDevice{Device: device.NewMemDevice(8192)}
	b := New(nil)
	require.NoError(t, b.Init(1024, 512, 0))

	b.Append([]byte("doomed"))
	err := <-b.Flush(dev)
	assert.ErrorIs(err, fserr.ErrPartialWrite)
}

func TestAppendWhileFlushInFlight(t *testing.T) {
	assert := assert.New(t)
	mem := device.NewMemDevice(8192)
	b := New(nil)
	require.NoError(t, b.Init(4096, 512, 0))

	b.Append([]byte("first"))
	done := b.Flush(mem)
	// The buffer must be appendable before the flush lands.
	assert.Equal(uint64(4096-512), b.BytesLeft())
	b.Append([]byte("second"))
	require.NoError(t, <-done)
	flushWait(t, b, mem)

	got := make([]byte, 1024)
	_, err := mem.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal([]byte("first"), got[:5])
	assert.Equal([]byte("second"), got[512:518])
}

func TestLoadFlushed(t *testing.T) {
	assert := assert.New(t)
	dev := &recordingDevice{Device: device.NewMemDevice(8192)}
	b := New(nil)
	require.NoError(t, b.Init(4096, 512, 0))

	// 700 bytes already on disk; the tail block is re-opened.
	payload := make([]byte, 700)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := dev.Device.WriteAt(payload, 0)
	require.NoError(t, err)
	b.LoadFlushed(payload)

	assert.Equal(uint64(4096-700), b.BytesLeft())
	b.Append([]byte{0xFF, 0xFE})
	flushWait(t, b, dev)

	// Only the tail block is rewritten.
	require.Len(t, dev.writes, 1)
	assert.Equal(common.Range{Beg: 512, End: 1024}, dev.writes[0])

	got := make([]byte, 1024)
	_, err = dev.Device.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(payload[:700], got[:700], "existing payload preserved")
	assert.Equal([]byte{0xFF, 0xFE}, got[700:702])
}

// markerHooks appends a fixed trailer on every flush, the way the
// metadata log closes a cluster.
type markerHooks struct {
	trailer []byte
	starts  int
}

func (h *markerHooks) StartNewUnflushedData(*Buffer) { h.starts++ }

func (h *markerHooks) PrepareUnflushedDataForFlush(b *Buffer) {
	if !b.unflushed.IsEmpty() {
		b.Append(h.trailer)
	}
}

func TestHooksComposition(t *testing.T) {
	assert := assert.New(t)
	mem := device.NewMemDevice(8192)
	h := &markerHooks{trailer: []byte("TRAILER!")}
	b := New(h)
	require.NoError(t, b.Init(4096, 512, 0))
	assert.Equal(1, h.starts, "init starts the first unflushed region")

	b.Append([]byte("body"))
	flushWait(t, b, mem)
	assert.Equal(2, h.starts)

	got := make([]byte, 12)
	_, err := mem.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal([]byte("bodyTRAILER!"), got)
}
