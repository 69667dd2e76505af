package mlog

import (
	"github.com/zeebo/blake3"

	"github.com/shardfs/shardfs/cluster"
	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/diskbuf"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/util"
)

// sealer is the buffer role of the metadata log: right before a
// cluster flushes, it digests everything written so far and appends
// the close marker. The writer sets next (or terminal) before asking
// for the flush.
type sealer struct {
	next     common.ClusterID
	terminal bool
}

func (s *sealer) StartNewUnflushedData(*diskbuf.Buffer) {}

func (s *sealer) PrepareUnflushedDataForFlush(b *diskbuf.Buffer) {
	digest := blake3.Sum256(b.Contents())
	var m Entry
	if s.terminal {
		m = &Checkpoint{Digest: digest}
	} else {
		m = &NextCluster{Next: s.next, Digest: digest}
	}
	b.Append(Encode(m))
}

// Writer appends entries to the metadata log of one shard.
//
// Each cluster is flushed exactly once, when it is closed: either with
// a NextCluster marker when the writer rotates to a fresh cluster, or
// with a Checkpoint marker when the log is sealed. Flushing whole
// clusters keeps each cluster a contiguous run of entries with no
// interior padding, which is what lets bootstrap scan it back.
type Writer struct {
	dev     device.Device
	alloc   *cluster.Allocator
	geo     common.Geometry
	seal    *sealer
	buf     *diskbuf.Buffer
	cur     common.ClusterID
	pending []<-chan error
	sealed  bool
}

// NewWriter starts a metadata log at the given head cluster, claiming
// it from the allocator. Used when formatting a fresh device.
func NewWriter(dev device.Device, alloc *cluster.Allocator, geo common.Geometry, head common.ClusterID) (*Writer, error) {
	if !geo.Contains(head) {
		return nil, fserr.ErrInvalidClusterRange
	}
	if err := alloc.MarkUsed(head, cluster.PurposeMetadata); err != nil {
		return nil, err
	}
	w := newWriter(dev, alloc, geo)
	if err := w.buf.Init(geo.ClusterSize, geo.Alignment, geo.ClusterOffset(head)); err != nil {
		return nil, err
	}
	w.cur = head
	return w, nil
}

// Resume re-opens the final cluster of a bootstrapped log for further
// appends. payload is the cluster's entry bytes up to (excluding) its
// terminal marker; the next flush rewrites the payload's tail
// alignment block, which overwrites the old marker in place.
func Resume(dev device.Device, alloc *cluster.Allocator, geo common.Geometry, last common.ClusterID, payload []byte) (*Writer, error) {
	if !geo.Contains(last) {
		return nil, fserr.ErrInvalidClusterRange
	}
	w := newWriter(dev, alloc, geo)
	if err := w.buf.Init(geo.ClusterSize, geo.Alignment, geo.ClusterOffset(last)); err != nil {
		return nil, err
	}
	w.cur = last

	// A Checkpoint is shorter than a NextCluster marker, so a sealed
	// cluster can be too full to link a successor in place. Its final
	// entry then moves to a fresh cluster and the link takes its spot.
	var moved Entry
	if uint64(len(payload))+nextClusterLen > geo.ClusterSize {
		e, off, err := lastEntry(payload)
		if err != nil {
			return nil, err
		}
		moved = e
		payload = payload[:off]
	}
	w.buf.LoadFlushed(payload)
	if moved != nil {
		if err := w.Append(moved); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// lastEntry rescans a cluster payload and returns its final entry
// together with the offset that entry starts at.
func lastEntry(payload []byte) (Entry, uint64, error) {
	var (
		e   Entry
		off uint64
	)
	for pos := uint64(0); pos < uint64(len(payload)); {
		ent, n, err := DecodeEntry(payload[pos:])
		if err != nil {
			return nil, 0, err
		}
		e, off = ent, pos
		pos += n
	}
	if e == nil {
		return nil, 0, fserr.ErrInvalidEntry
	}
	return e, off, nil
}

func newWriter(dev device.Device, alloc *cluster.Allocator, geo common.Geometry) *Writer {
	s := &sealer{}
	return &Writer{
		dev:   dev,
		alloc: alloc,
		geo:   geo,
		seal:  s,
		buf:   diskbuf.New(s),
	}
}

// Cluster returns the cluster currently being appended to.
func (w *Writer) Cluster() common.ClusterID {
	return w.cur
}

// Append serializes e into the current cluster, rotating to a fresh
// one first if e would not leave room for the close marker.
func (w *Writer) Append(e Entry) error {
	if w.sealed {
		panic("mlog: append after seal")
	}
	n := e.EncodedLen()
	if n+nextClusterLen > w.geo.ClusterSize {
		return fserr.ErrClusterTooSmall
	}
	if n+nextClusterLen > w.buf.BytesLeft() {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	util.DPrintf(5, "mlog: append kind=%d len=%d cluster=%d\n", e.Kind(), n, w.cur)
	w.buf.Append(Encode(e))
	return nil
}

// rotate closes the current cluster with a NextCluster marker pointing
// at a freshly allocated successor and moves the buffer there.
func (w *Writer) rotate() error {
	next, err := w.alloc.Alloc(cluster.PurposeMetadata)
	if err != nil {
		return err
	}
	w.seal.next = next
	w.pending = append(w.pending, w.buf.Flush(w.dev))
	if err := w.buf.Init(w.geo.ClusterSize, w.geo.Alignment, w.geo.ClusterOffset(next)); err != nil {
		return err
	}
	util.DPrintf(5, "mlog: rotate %d -> %d\n", w.cur, next)
	w.cur = next
	return nil
}

// Seal closes the log with a Checkpoint marker and waits for it to be
// durable. A sealed writer accepts no further appends.
func (w *Writer) Seal() error {
	if w.sealed {
		return nil
	}
	w.seal.terminal = true
	w.pending = append(w.pending, w.buf.Flush(w.dev))
	w.sealed = true
	return w.Sync()
}

// Sync waits for every in-flight cluster flush and then issues a
// device barrier. A flush error is fatal for the log.
func (w *Writer) Sync() error {
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
