// Package diskbuf implements the aligned append buffer that feeds the
// block device.
//
// A Buffer accumulates appended bytes in memory and flushes them as a
// single alignment-sized write. After each flush the next unflushed
// region starts at the aligned end of the previous one, so consecutive
// flushes of one Buffer never overlap on disk and cannot be reordered
// into corruption by the device.
package diskbuf

import (
	"fmt"
	"math"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/util"
)

// Hooks lets a buffer role (plain data, metadata cluster) participate
// in the flush lifecycle without subclassing. StartNewUnflushedData
// runs after Init and after each flush resets the unflushed range;
// PrepareUnflushedDataForFlush runs right before a flush pads and
// writes, and may still append (e.g. a cluster close marker).
type Hooks interface {
	StartNewUnflushedData(b *Buffer)
	PrepareUnflushedDataForFlush(b *Buffer)
}

// NopHooks is the default role: no extra flush behavior.
type NopHooks struct{}

func (NopHooks) StartNewUnflushedData(*Buffer)        {}
func (NopHooks) PrepareUnflushedDataForFlush(*Buffer) {}

// Buffer is an aligned append buffer for one cluster (or sub-cluster
// unit). Call Init before use; a Buffer may be re-Inited to move to
// the next cluster.
type Buffer struct {
	buff       []byte
	maxSize    uint64
	alignment  uint64
	clusterBeg uint64 // disk offset corresponding to buff[0]
	unflushed  common.Range
	hooks      Hooks
}

func New(hooks Hooks) *Buffer {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Buffer{hooks: hooks}
}

// Init prepares the buffer for a region of maxSize bytes starting at
// disk offset clusterBegOffset. On failure nothing is mutated.
func (b *Buffer) Init(maxSize uint64, alignment uint64, clusterBegOffset uint64) error {
	if !util.IsPowerOfTwo(alignment) {
		return fserr.ErrAlignmentNotPowerOfTwo
	}
	if util.ModPowerOfTwo(maxSize, alignment) != 0 {
		return fserr.ErrSizeNotAligned
	}
	if util.ModPowerOfTwo(clusterBegOffset, alignment) != 0 {
		return fserr.ErrOffsetNotAligned
	}
	if maxSize > math.MaxInt {
		return fserr.ErrSizeTooBig
	}

	b.maxSize = maxSize
	b.alignment = alignment
	b.clusterBeg = clusterBegOffset
	b.unflushed = common.Range{Beg: 0, End: 0}
	b.buff = make([]byte, maxSize)
	b.hooks.StartNewUnflushedData(b)
	return nil
}

// Append copies p into the buffer at the current unflushed end. The
// caller must check BytesLeft first; exceeding it is a contract
// violation, not a recoverable error.
func (b *Buffer) Append(p []byte) {
	if uint64(len(p)) > b.BytesLeft() {
		panic("diskbuf: append exceeds bytes left")
	}
	copy(b.buff[b.unflushed.End:], p)
	b.unflushed.End += uint64(len(p))
}

// BytesLeft returns how many bytes may still be appended before the
// buffer must be flushed and rotated.
func (b *Buffer) BytesLeft() uint64 {
	return b.maxSize - b.unflushed.End
}

// BytesLeftAfterFlushIfDoneNow returns the capacity that would remain
// if a flush were issued immediately, accounting for the alignment
// padding the flush would introduce. Callers use it to decide whether
// to flush now or keep batching.
func (b *Buffer) BytesLeftAfterFlushIfDoneNow() uint64 {
	return b.maxSize - util.RoundUpPowerOfTwo(b.unflushed.End, b.alignment)
}

// Flush writes the unflushed data to dev and returns a completion
// channel that yields exactly one error value.
//
// The unflushed range is reset before the write lands, so the buffer
// is appendable again immediately; callers that need durability must
// wait on the completion. A short device write is reported as
// fserr.ErrPartialWrite and is fatal for this region: its content has
// been logically superseded by newer appends, so there is no in-place
// retry.
func (b *Buffer) Flush(dev device.Device) <-chan error {
	done := make(chan error, 1)
	if b.unflushed.Beg == b.maxSize {
		// Buffer fully consumed.
		done <- nil
		return done
	}

	b.hooks.PrepareUnflushedDataForFlush(b)
	if b.unflushed.IsEmpty() {
		// Nothing accumulated since the last flush; no device write.
		done <- nil
		return done
	}

	if util.ModPowerOfTwo(b.unflushed.Beg, b.alignment) != 0 {
		panic("diskbuf: unflushed region does not begin aligned")
	}

	// Data layout:
	// |.........................|00000000000000000000000|
	// ^ unflushed.Beg           ^ unflushed.End         ^ write.End
	//      (aligned)               (maybe unaligned)        (aligned)
	write := common.Range{
		Beg: b.unflushed.Beg,
		End: util.RoundUpPowerOfTwo(b.unflushed.End, b.alignment),
	}
	for i := b.unflushed.End; i < write.End; i++ {
		b.buff[i] = 0
	}

	// Reset before the write completes so producers never block on
	// flush completion. Starting the next region at the aligned end
	// is what keeps consecutive writes non-overlapping.
	b.unflushed = common.Range{Beg: write.End, End: write.End}
	b.hooks.StartNewUnflushedData(b)

	off := b.clusterBeg + write.Beg
	data := b.buff[write.Beg:write.End]
	util.DPrintf(5, "diskbuf: flush [%d, %d) at disk offset %d\n", write.Beg, write.End, off)
	go func() {
		n, err := dev.WriteAt(data, off)
		if err != nil {
			done <- fmt.Errorf("flush at disk offset %d: %w", off, err)
			return
		}
		if uint64(n) != write.Size() {
			done <- fmt.Errorf("flush at disk offset %d wrote %d of %d bytes: %w",
				off, n, write.Size(), fserr.ErrPartialWrite)
			return
		}
		done <- nil
	}()
	return done
}

// LoadFlushed seeds the buffer with data that is already on disk at
// the buffer's base offset and positions the unflushed range so that
// the tail of the payload (from its last alignment boundary) is
// rewritten by the next flush. Used to re-open the final metadata
// cluster after bootstrap.
func (b *Buffer) LoadFlushed(payload []byte) {
	if uint64(len(payload)) > b.maxSize {
		panic("diskbuf: payload exceeds buffer size")
	}
	copy(b.buff, payload)
	b.unflushed = common.Range{
		Beg: util.RoundDownPowerOfTwo(uint64(len(payload)), b.alignment),
		End: uint64(len(payload)),
	}
}

// Contents returns the bytes appended so far, up to the unflushed end.
// The metadata log uses this to digest a cluster before sealing it.
func (b *Buffer) Contents() []byte {
	return b.buff[:b.unflushed.End]
}

// AppendedEnd returns the in-buffer offset where the next append
// lands.
func (b *Buffer) AppendedEnd() uint64 {
	return b.unflushed.End
}

// DiskOffset returns the disk offset where the next append lands.
func (b *Buffer) DiskOffset() uint64 {
	return b.clusterBeg + b.unflushed.End
}
