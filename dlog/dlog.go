// Package dlog implements the data log: bulk file payload appended to
// clusters owned by the data log side of the allocator. The metadata
// log records where each extent landed; the data log itself has no
// on-disk structure beyond the raw bytes.
package dlog

import (
	"github.com/shardfs/shardfs/cluster"
	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/diskbuf"
	"github.com/shardfs/shardfs/util"
)

// Writer appends payload bytes to data clusters. Clusters are claimed
// lazily, on the first append, so an idle shard owns none.
type Writer struct {
	dev     device.Device
	alloc   *cluster.Allocator
	geo     common.Geometry
	buf     *diskbuf.Buffer
	active  bool
	pending []<-chan error
}

func NewWriter(dev device.Device, alloc *cluster.Allocator, geo common.Geometry) *Writer {
	return &Writer{
		dev:   dev,
		alloc: alloc,
		geo:   geo,
		buf:   diskbuf.New(diskbuf.NopHooks{}),
	}
}

// Append buffers data for the log and returns the disk ranges it will
// occupy, one per cluster touched, in file order. The ranges are valid
// immediately for recording in metadata entries; the bytes are durable
// only after Sync.
//
// The buffer is flushed as soon as its end hits an alignment boundary,
// since such a flush gives up no capacity to padding. An unaligned
// tail stays buffered until more data arrives or Sync forces it out.
func (w *Writer) Append(data []byte) ([]common.Range, error) {
	var out []common.Range
	for len(data) > 0 {
		if !w.active || w.buf.BytesLeft() == 0 {
			if err := w.rotate(); err != nil {
				return nil, err
			}
		}
		n := util.Min(uint64(len(data)), w.buf.BytesLeft())
		beg := w.buf.DiskOffset()
		w.buf.Append(data[:n])
		out = append(out, common.Range{Beg: beg, End: beg + n})
		data = data[n:]

		if w.buf.BytesLeftAfterFlushIfDoneNow() == w.buf.BytesLeft() {
			w.pending = append(w.pending, w.buf.Flush(w.dev))
		}
	}
	return out, nil
}

// rotate flushes whatever the current cluster still buffers and moves
// to a freshly allocated one.
func (w *Writer) rotate() error {
	if w.active {
		w.pending = append(w.pending, w.buf.Flush(w.dev))
	}
	id, err := w.alloc.Alloc(cluster.PurposeData)
	if err != nil {
		return err
	}
	if err := w.buf.Init(w.geo.ClusterSize, w.geo.Alignment, w.geo.ClusterOffset(id)); err != nil {
		return err
	}
	util.DPrintf(5, "dlog: rotate to cluster %d\n", id)
	w.active = true
	return nil
}

// Sync flushes the buffered tail, waits for every in-flight write and
// issues a device barrier. A flush error is fatal for the affected
// extents; there is no in-place retry.
func (w *Writer) Sync() error {
	if w.active {
		w.pending = append(w.pending, w.buf.Flush(w.dev))
	}
	var firstErr error
	for _, ch := range w.pending {
		if err := <-ch; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.pending = w.pending[:0]
	if firstErr != nil {
		return firstErr
	}
	return w.dev.Barrier()
}
