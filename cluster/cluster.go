// Package cluster tracks ownership of the device's clusters.
//
// Every cluster is either owned by the metadata log, owned by the data
// log, or free. The two owned sets must stay disjoint at all times; an
// intersection means the on-disk state is corrupt, so it is reported
// as a corruption error rather than handled.
//
// The allocator is mutated only by the owning shard's writer and
// bootstrap engine, so it needs no locking.
package cluster

import (
	"sort"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/util"
)

// Purpose says which log a cluster is allocated to.
type Purpose uint8

const (
	PurposeMetadata Purpose = iota + 1
	PurposeData
)

func (p Purpose) String() string {
	switch p {
	case PurposeMetadata:
		return "metadata"
	case PurposeData:
		return "data"
	}
	return "unknown"
}

// Allocator owns the cluster sets of one shard.
type Allocator struct {
	clusters uint64 // universe is [0, clusters)
	reserved uint64 // free clusters held back from allocation
	md       map[common.ClusterID]struct{}
	dl       map[common.ClusterID]struct{}
	next     common.ClusterID // first index to try
}

func New(clusters uint64, reserved uint64) *Allocator {
	return &Allocator{
		clusters: clusters,
		reserved: reserved,
		md:       make(map[common.ClusterID]struct{}),
		dl:       make(map[common.ClusterID]struct{}),
	}
}

func (a *Allocator) set(p Purpose) map[common.ClusterID]struct{} {
	if p == PurposeMetadata {
		return a.md
	}
	return a.dl
}

func (a *Allocator) isFree(id common.ClusterID) bool {
	_, inMd := a.md[id]
	_, inDl := a.dl[id]
	return !inMd && !inDl
}

// NumFree returns the number of unowned clusters.
func (a *Allocator) NumFree() uint64 {
	return a.clusters - uint64(len(a.md)) - uint64(len(a.dl))
}

// Alloc moves an arbitrary free cluster into the set for p. It scans
// round-robin from the last allocation point, the same policy the
// bitmap allocator of the journal uses for block numbers.
func (a *Allocator) Alloc(p Purpose) (common.ClusterID, error) {
	if a.NumFree() <= a.reserved {
		return 0, fserr.ErrTooLittleClusters
	}
	id := a.next
	for i := uint64(0); i < a.clusters; i++ {
		if a.isFree(id) {
			a.set(p)[id] = struct{}{}
			a.next = (id + 1) % common.ClusterID(a.clusters)
			util.DPrintf(5, "cluster: alloc %d for %v\n", id, p)
			return id, nil
		}
		id = (id + 1) % common.ClusterID(a.clusters)
	}
	return 0, fserr.ErrTooLittleClusters
}

// MarkUsed records that id belongs to the set for p. The bootstrap
// engine uses this while replaying; marking a cluster that the other
// log already owns is representable and is caught by
// ValidateDisjoint, not here.
func (a *Allocator) MarkUsed(id common.ClusterID, p Purpose) error {
	if uint64(id) >= a.clusters {
		return fserr.ErrInvalidClusterRange
	}
	a.set(p)[id] = struct{}{}
	return nil
}

// Free returns id to the free set.
func (a *Allocator) Free(id common.ClusterID) {
	delete(a.md, id)
	delete(a.dl, id)
}

// ValidateDisjoint fails if any cluster is claimed by both logs. Run
// at the end of bootstrap and after cluster-range computations.
func (a *Allocator) ValidateDisjoint() error {
	small, large := a.md, a.dl
	if len(large) < len(small) {
		small, large = large, small
	}
	for id := range small {
		if _, ok := large[id]; ok {
			return fserr.ErrLogOverlap
		}
	}
	return nil
}

// Owned returns the sorted cluster indices owned by the set for p.
func (a *Allocator) Owned(p Purpose) []common.ClusterID {
	s := a.set(p)
	ids := make([]common.ClusterID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
