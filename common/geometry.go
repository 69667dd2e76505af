package common

import (
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/util"
)

// Geometry describes the fixed layout of a formatted device: how large
// a cluster is, the I/O alignment the device requires, and how many
// clusters the device holds.
type Geometry struct {
	ClusterSize uint64 `yaml:"cluster_size"`
	Alignment   uint64 `yaml:"alignment"`
	Clusters    uint64 `yaml:"clusters"`
}

// Validate checks the layout invariants: alignment is a power of two,
// the cluster size is a power of two and a multiple of the alignment,
// and the device holds at least one cluster.
func (g Geometry) Validate() error {
	if !util.IsPowerOfTwo(g.Alignment) {
		return fserr.ErrAlignmentNotPowerOfTwo
	}
	if !util.IsPowerOfTwo(g.ClusterSize) || util.ModPowerOfTwo(g.ClusterSize, g.Alignment) != 0 {
		return fserr.ErrSizeNotAligned
	}
	if g.Clusters == 0 {
		return fserr.ErrInvalidClusterRange
	}
	return nil
}

// ClusterOffset returns the disk byte offset of the given cluster.
func (g Geometry) ClusterOffset(id ClusterID) uint64 {
	return uint64(id) * g.ClusterSize
}

// DiskSize returns the number of addressable bytes the geometry covers.
func (g Geometry) DiskSize() uint64 {
	return g.Clusters * g.ClusterSize
}

// Contains reports whether the cluster index is inside the addressable
// device extent.
func (g Geometry) Contains(id ClusterID) bool {
	return uint64(id) < g.Clusters
}
