package mlog

import (
	"encoding/binary"
	"fmt"

	"github.com/shardfs/shardfs/cluster"
	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/namespace"
	"github.com/shardfs/shardfs/util"
)

// State is the replay position of a bootstrap engine. It is observable
// after Run for diagnostics; the engine itself only distinguishes
// "not started" from "ran".
type State int

const (
	StateNotStarted State = iota
	StateReadingCluster
	StateValidContinue
	StateTruncated
	StateInvalid
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateReadingCluster:
		return "reading-cluster"
	case StateValidContinue:
		return "valid-continue"
	case StateTruncated:
		return "truncated"
	case StateInvalid:
		return "invalid"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Engine replays a metadata log into an inode table, reconstructing
// the namespace and the cluster ownership sets. An engine runs at most
// once; a second Run reports ErrAlreadyBootstrapped without replaying
// anything.
type Engine struct {
	dev     device.Device
	alloc   *cluster.Allocator
	geo     common.Geometry
	tab     *namespace.Table
	state   State
	visited map[common.ClusterID]struct{}
	last    common.ClusterID
	payload []byte
}

func NewEngine(dev device.Device, alloc *cluster.Allocator, geo common.Geometry, tab *namespace.Table) *Engine {
	return &Engine{
		dev:     dev,
		alloc:   alloc,
		geo:     geo,
		tab:     tab,
		state:   StateNotStarted,
		visited: make(map[common.ClusterID]struct{}),
	}
}

func (e *Engine) State() State {
	return e.state
}

// LastCluster returns the cluster holding the Checkpoint marker. Valid
// only after a successful Run.
func (e *Engine) LastCluster() common.ClusterID {
	return e.last
}

// LastPayload returns the final cluster's entry bytes, excluding the
// terminal marker. The writer resumes from it. Valid only after a
// successful Run.
func (e *Engine) LastPayload() []byte {
	return e.payload
}

func (e *Engine) fail(s State, err error) error {
	e.state = s
	return err
}

// Run replays the log starting at head. It walks the cluster chain,
// applying each entry in write order, until it finds a Checkpoint
// marker. Replay stops at the first problem: a cluster that cannot be
// read in full, an entry that does not decode or apply, a digest
// mismatch, or a chain that revisits a cluster. It finishes by
// checking that the metadata and data cluster sets are disjoint.
func (e *Engine) Run(head common.ClusterID) error {
	if e.state != StateNotStarted {
		return fserr.ErrAlreadyBootstrapped
	}

	buf := make([]byte, e.geo.ClusterSize)
	cur := head
	for {
		e.state = StateReadingCluster
		if !e.geo.Contains(cur) {
			return e.fail(StateInvalid, fmt.Errorf("cluster %d out of range: %w",
				cur, fserr.ErrInvalidClusterRange))
		}
		if _, seen := e.visited[cur]; seen {
			// The chain loops back on itself, so a second visit would
			// replay entries twice.
			return e.fail(StateFailed, fmt.Errorf("cluster chain revisits %d: %w",
				cur, fserr.ErrAlreadyBootstrapped))
		}
		e.visited[cur] = struct{}{}
		if err := e.alloc.MarkUsed(cur, cluster.PurposeMetadata); err != nil {
			return e.fail(StateFailed, err)
		}

		n, err := e.dev.ReadAt(buf, e.geo.ClusterOffset(cur))
		if err != nil {
			return e.fail(StateFailed, fmt.Errorf("read cluster %d: %w", cur, err))
		}
		if uint64(n) != e.geo.ClusterSize {
			return e.fail(StateFailed, fmt.Errorf("read cluster %d: got %d of %d bytes: %w",
				cur, n, e.geo.ClusterSize, fserr.ErrPartialClusterRead))
		}

		next, done, err := e.replayCluster(cur, buf)
		if err != nil {
			return err
		}
		if done {
			break
		}
		e.state = StateValidContinue
		cur = next
	}

	if err := e.alloc.ValidateDisjoint(); err != nil {
		return e.fail(StateFailed, err)
	}
	e.state = StateDone
	util.DPrintf(2, "mlog: bootstrap done, %d clusters, last=%d\n", len(e.visited), e.last)
	return nil
}

// replayCluster scans one cluster's entries and applies them. It
// returns the successor cluster, or done=true when the cluster ends in
// a Checkpoint.
func (e *Engine) replayCluster(cur common.ClusterID, buf []byte) (common.ClusterID, bool, error) {
	off := uint64(0)
	for {
		if off+8 > e.geo.ClusterSize {
			return 0, false, e.fail(StateTruncated, fmt.Errorf(
				"cluster %d has no close marker: %w", cur, fserr.ErrInvalidEntry))
		}
		ent, n, err := DecodeEntry(buf[off:])
		if err != nil {
			s := StateInvalid
			if Kind(binary.LittleEndian.Uint64(buf[off:])) == KindInvalid {
				// Zero padding where entries should be: the cluster was
				// never closed.
				s = StateTruncated
			}
			return 0, false, e.fail(s, fmt.Errorf(
				"cluster %d offset %d: %w", cur, off, err))
		}

		switch m := ent.(type) {
		case *NextCluster:
			if err := e.verifyDigest(cur, buf[:off], m.Digest); err != nil {
				return 0, false, err
			}
			return m.Next, false, nil
		case *Checkpoint:
			if err := e.verifyDigest(cur, buf[:off], m.Digest); err != nil {
				return 0, false, err
			}
			e.last = cur
			e.payload = util.CloneByteSlice(buf[:off])
			return 0, true, nil
		}

		if err := e.apply(ent); err != nil {
			return 0, false, e.fail(StateInvalid, fmt.Errorf(
				"cluster %d offset %d: apply %T: %v: %w", cur, off, ent, err, fserr.ErrInvalidEntry))
		}
		off += n
	}
}

func (e *Engine) verifyDigest(cur common.ClusterID, payload []byte, want [DigestLen]byte) error {
	if err := checkDigest(cur, payload, want); err != nil {
		return e.fail(StateInvalid, err)
	}
	return nil
}

// apply performs one replayed mutation against the inode table and the
// cluster sets, using the same methods the live write path uses.
func (e *Engine) apply(ent Entry) error {
	switch m := ent.(type) {
	case *CreateInode:
		return e.tab.CreateInode(m.Ino, m.Dir, m.Shard, m.Mtime)
	case *DeleteInode:
		return e.tab.DeleteInode(m.Ino)
	case *AddDirEntry:
		return e.tab.AddEntry(m.Dir, m.Name, m.Ino)
	case *DeleteDirEntry:
		return e.tab.DeleteEntry(m.Dir, m.Name)
	case *CreateInodeAsDirEntry:
		if err := e.tab.CreateInode(m.Ino, m.Dir, m.Shard, m.Mtime); err != nil {
			return err
		}
		return e.tab.AddEntry(m.Parent, m.Name, m.Ino)
	case *DeleteInodeAndDirEntry:
		if err := e.tab.DeleteEntry(m.Parent, m.Name); err != nil {
			return err
		}
		return e.tab.DeleteInode(m.Ino)
	case *Rename:
		return e.tab.Rename(m.OldDir, m.OldName, m.NewDir, m.NewName)
	case *SmallWrite:
		frag := namespace.Fragment{
			FileOffset: m.Offset,
			Length:     uint64(len(m.Data)),
			Inline:     util.CloneByteSlice(m.Data),
		}
		return e.tab.ApplyWrite(m.Ino, frag, m.Mtime)
	case *ExtentWrite:
		if err := e.markExtent(m.DiskOffset, m.Length); err != nil {
			return err
		}
		frag := namespace.Fragment{
			FileOffset: m.Offset,
			Length:     m.Length,
			DiskOffset: m.DiskOffset,
		}
		return e.tab.ApplyWrite(m.Ino, frag, m.Mtime)
	case *Truncate:
		return e.tab.Truncate(m.Ino, m.Size, m.Mtime)
	}
	return fserr.ErrInvalidEntry
}

// markExtent re-derives data log ownership of the clusters an extent
// touches.
func (e *Engine) markExtent(diskOff uint64, length uint64) error {
	first := common.ClusterID(diskOff / e.geo.ClusterSize)
	last := common.ClusterID((diskOff + length - 1) / e.geo.ClusterSize)
	for id := first; id <= last; id++ {
		if err := e.alloc.MarkUsed(id, cluster.PurposeData); err != nil {
			return err
		}
	}
	return nil
}
