// Package namespace holds the in-memory filesystem state one shard
// owns: the inode table, the directory tree, and path resolution over
// them. It is reconstructed from the metadata log at mount and mutated
// only through logged operations afterwards.
package namespace

import (
	"sort"

	"github.com/shardfs/shardfs/common"
)

// Fragment is one recorded write to a file: either inline bytes
// carried by the log entry or a reference to a data-log extent.
// Fragments are kept in apply order; later fragments shadow earlier
// ones where they overlap.
type Fragment struct {
	FileOffset uint64
	Length     uint64
	DiskOffset uint64 // valid when Inline is nil
	Inline     []byte // nil for data-log extents
}

// Inode is one namespace object.
type Inode struct {
	Ino   common.Inum
	Dir   bool
	Owner common.ShardID
	Size  uint64
	Mtime uint64

	children map[string]common.Inum // directories only
	frags    []Fragment             // files only
}

// Lookup returns the child inode bound to name, for directories.
func (ino *Inode) Lookup(name string) (common.Inum, bool) {
	child, ok := ino.children[name]
	return child, ok
}

// NumChildren returns how many entries the directory holds.
func (ino *Inode) NumChildren() int {
	return len(ino.children)
}

// Children returns the directory's entry names in sorted order.
func (ino *Inode) Children() []string {
	names := make([]string, 0, len(ino.children))
	for name := range ino.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fragments returns the file's recorded writes in apply order.
func (ino *Inode) Fragments() []Fragment {
	return ino.frags
}
