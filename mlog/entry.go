// Package mlog implements the metadata log: the append-only sequence
// of clusters recording every namespace mutation, the writer that
// produces it, and the bootstrap engine that replays it at mount.
package mlog

import (
	"github.com/tchajed/marshal"

	"github.com/shardfs/shardfs/common"
)

// Kind discriminates log entry types on disk.
type Kind uint64

const (
	// KindInvalid is reserved: cluster padding is zero-filled, so a
	// zero kind before a close marker means the log is malformed.
	KindInvalid Kind = iota
	KindCreateInode
	KindDeleteInode
	KindAddDirEntry
	KindDeleteDirEntry
	KindCreateInodeAsDirEntry
	KindDeleteInodeAndDirEntry
	KindRename
	KindSmallWrite
	KindExtentWrite
	KindTruncate
	KindNextCluster
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindCreateInode:
		return "create-inode"
	case KindDeleteInode:
		return "delete-inode"
	case KindAddDirEntry:
		return "add-dir-entry"
	case KindDeleteDirEntry:
		return "delete-dir-entry"
	case KindCreateInodeAsDirEntry:
		return "create-inode-as-dir-entry"
	case KindDeleteInodeAndDirEntry:
		return "delete-inode-and-dir-entry"
	case KindRename:
		return "rename"
	case KindSmallWrite:
		return "small-write"
	case KindExtentWrite:
		return "extent-write"
	case KindTruncate:
		return "truncate"
	case KindNextCluster:
		return "next-cluster"
	case KindCheckpoint:
		return "checkpoint"
	}
	return "invalid"
}

// DigestLen is the size of the BLAKE3 digest carried by cluster close
// markers.
const DigestLen = 32

// Marker sizes. Every cluster of the metadata log ends with exactly
// one of these; the writer reserves nextClusterLen (the larger) so a
// close marker always fits.
const (
	nextClusterLen = 8 + 8 + DigestLen
	checkpointLen  = 8 + DigestLen
)

// MinClusterSize is the smallest usable metadata cluster: room for one
// fixed-size entry plus the reserved close marker.
const MinClusterSize = 128

// MaxInlineData bounds SmallWrite payloads; anything larger belongs in
// the data log.
const MaxInlineData = 64 * 1024

// Entry is one serialized record of the metadata log. Entries are
// immutable once written and are consumed strictly in write order
// during replay.
type Entry interface {
	Kind() Kind
	EncodedLen() uint64
	encode(enc *marshal.Enc)
}

// CreateInode introduces a fresh inode.
type CreateInode struct {
	Ino   common.Inum
	Dir   bool
	Shard common.ShardID
	Mtime uint64
}

// DeleteInode removes an inode that is no longer referenced.
type DeleteInode struct {
	Ino common.Inum
}

// AddDirEntry binds Name to Ino inside directory Dir.
type AddDirEntry struct {
	Dir  common.Inum
	Ino  common.Inum
	Name string
}

// DeleteDirEntry unbinds Name inside directory Dir.
type DeleteDirEntry struct {
	Dir  common.Inum
	Name string
}

// CreateInodeAsDirEntry creates an inode and links it in one record,
// the common case for create(2)-style operations.
type CreateInodeAsDirEntry struct {
	Parent common.Inum
	Name   string
	Ino    common.Inum
	Dir    bool
	Shard  common.ShardID
	Mtime  uint64
}

// DeleteInodeAndDirEntry unlinks Name from Parent and deletes Ino in
// one record.
type DeleteInodeAndDirEntry struct {
	Parent common.Inum
	Name   string
	Ino    common.Inum
}

// Rename moves OldName in OldDir to NewName in NewDir.
type Rename struct {
	OldDir  common.Inum
	OldName string
	NewDir  common.Inum
	NewName string
}

// SmallWrite carries file data inline in the metadata log.
type SmallWrite struct {
	Ino    common.Inum
	Offset uint64
	Data   []byte
	Mtime  uint64
}

// ExtentWrite records file data living in the data log. The clusters
// the extent touches are owned by the data log; replay re-derives that
// ownership from these records.
type ExtentWrite struct {
	Ino        common.Inum
	Offset     uint64
	DiskOffset uint64
	Length     uint64
	Mtime      uint64
}

// Truncate sets a file's size.
type Truncate struct {
	Ino   common.Inum
	Size  uint64
	Mtime uint64
}

// NextCluster closes a cluster and names its successor. Digest covers
// the cluster payload before this marker.
type NextCluster struct {
	Next   common.ClusterID
	Digest [DigestLen]byte
}

// Checkpoint closes the whole log. Digest covers the cluster payload
// before this marker.
type Checkpoint struct {
	Digest [DigestLen]byte
}

func (*CreateInode) Kind() Kind            { return KindCreateInode }
func (*DeleteInode) Kind() Kind            { return KindDeleteInode }
func (*AddDirEntry) Kind() Kind            { return KindAddDirEntry }
func (*DeleteDirEntry) Kind() Kind         { return KindDeleteDirEntry }
func (*CreateInodeAsDirEntry) Kind() Kind  { return KindCreateInodeAsDirEntry }
func (*DeleteInodeAndDirEntry) Kind() Kind { return KindDeleteInodeAndDirEntry }
func (*Rename) Kind() Kind                 { return KindRename }
func (*SmallWrite) Kind() Kind             { return KindSmallWrite }
func (*ExtentWrite) Kind() Kind            { return KindExtentWrite }
func (*Truncate) Kind() Kind               { return KindTruncate }
func (*NextCluster) Kind() Kind            { return KindNextCluster }
func (*Checkpoint) Kind() Kind             { return KindCheckpoint }

func (e *CreateInode) EncodedLen() uint64 { return 8 * 5 }
func (e *DeleteInode) EncodedLen() uint64 { return 8 * 2 }
func (e *AddDirEntry) EncodedLen() uint64 { return 8*4 + uint64(len(e.Name)) }
func (e *DeleteDirEntry) EncodedLen() uint64 {
	return 8*3 + uint64(len(e.Name))
}
func (e *CreateInodeAsDirEntry) EncodedLen() uint64 {
	return 8*7 + uint64(len(e.Name))
}
func (e *DeleteInodeAndDirEntry) EncodedLen() uint64 {
	return 8*4 + uint64(len(e.Name))
}
func (e *Rename) EncodedLen() uint64 {
	return 8*5 + uint64(len(e.OldName)) + uint64(len(e.NewName))
}
func (e *SmallWrite) EncodedLen() uint64  { return 8*5 + uint64(len(e.Data)) }
func (e *ExtentWrite) EncodedLen() uint64 { return 8 * 6 }
func (e *Truncate) EncodedLen() uint64    { return 8 * 4 }
func (e *NextCluster) EncodedLen() uint64 { return nextClusterLen }
func (e *Checkpoint) EncodedLen() uint64  { return checkpointLen }

func boolToInt(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (e *CreateInode) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(boolToInt(e.Dir))
	enc.PutInt(uint64(e.Shard))
	enc.PutInt(e.Mtime)
}

func (e *DeleteInode) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Ino))
}

func (e *AddDirEntry) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Dir))
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(uint64(len(e.Name)))
	enc.PutBytes([]byte(e.Name))
}

func (e *DeleteDirEntry) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Dir))
	enc.PutInt(uint64(len(e.Name)))
	enc.PutBytes([]byte(e.Name))
}

func (e *CreateInodeAsDirEntry) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Parent))
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(boolToInt(e.Dir))
	enc.PutInt(uint64(e.Shard))
	enc.PutInt(e.Mtime)
	enc.PutInt(uint64(len(e.Name)))
	enc.PutBytes([]byte(e.Name))
}

func (e *DeleteInodeAndDirEntry) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Parent))
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(uint64(len(e.Name)))
	enc.PutBytes([]byte(e.Name))
}

func (e *Rename) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.OldDir))
	enc.PutInt(uint64(len(e.OldName)))
	enc.PutBytes([]byte(e.OldName))
	enc.PutInt(uint64(e.NewDir))
	enc.PutInt(uint64(len(e.NewName)))
	enc.PutBytes([]byte(e.NewName))
}

func (e *SmallWrite) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(e.Offset)
	enc.PutInt(e.Mtime)
	enc.PutInt(uint64(len(e.Data)))
	enc.PutBytes(e.Data)
}

func (e *ExtentWrite) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(e.Offset)
	enc.PutInt(e.DiskOffset)
	enc.PutInt(e.Length)
	enc.PutInt(e.Mtime)
}

func (e *Truncate) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Ino))
	enc.PutInt(e.Size)
	enc.PutInt(e.Mtime)
}

func (e *NextCluster) encode(enc *marshal.Enc) {
	enc.PutInt(uint64(e.Next))
	enc.PutBytes(e.Digest[:])
}

func (e *Checkpoint) encode(enc *marshal.Enc) {
	enc.PutBytes(e.Digest[:])
}

// Encode serializes one entry.
func Encode(e Entry) []byte {
	enc := marshal.NewEnc(e.EncodedLen())
	enc.PutInt(uint64(e.Kind()))
	e.encode(&enc)
	return enc.Finish()
}
