// Package common holds the unit types and constants shared by every
// layer of the filesystem core.
package common

// Inum is an inode number.
type Inum uint64

// ShardID identifies the runtime shard that owns an inode.
type ShardID uint64

// ClusterID is the index of a fixed-size cluster on the block device.
type ClusterID uint64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1

	// MaxFilenameLen bounds the length of a single directory entry name,
	// both on the write path and in path resolution.
	MaxFilenameLen uint64 = 255
)
