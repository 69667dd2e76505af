package mlog

import (
	"github.com/tchajed/marshal"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/fserr"
)

// decodeName reads a length-prefixed name, enforcing the same bound
// the writer enforces.
func decodeName(dec *marshal.Dec, remaining uint64) (string, uint64, error) {
	if remaining < 8 {
		return "", 0, fserr.ErrInvalidEntry
	}
	n := dec.GetInt()
	remaining -= 8
	if n == 0 || n > common.MaxFilenameLen || n > remaining {
		return "", 0, fserr.ErrInvalidEntry
	}
	return string(dec.GetBytes(n)), remaining - n, nil
}

// DecodeEntry deserializes the entry at the start of buf and returns
// it together with its encoded length. Structural problems (unknown
// kind, malformed length, truncated fields) yield ErrInvalidEntry.
func DecodeEntry(buf []byte) (Entry, uint64, error) {
	if uint64(len(buf)) < 8 {
		return nil, 0, fserr.ErrInvalidEntry
	}
	dec := marshal.NewDec(buf)
	kind := Kind(dec.GetInt())
	remaining := uint64(len(buf)) - 8

	need := func(n uint64) bool { return remaining >= n }

	switch kind {
	case KindCreateInode:
		if !need(8 * 4) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &CreateInode{}
		e.Ino = common.Inum(dec.GetInt())
		dir := dec.GetInt()
		e.Shard = common.ShardID(dec.GetInt())
		e.Mtime = dec.GetInt()
		if dir > 1 {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e.Dir = dir == 1
		return e, e.EncodedLen(), nil

	case KindDeleteInode:
		if !need(8) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &DeleteInode{Ino: common.Inum(dec.GetInt())}
		return e, e.EncodedLen(), nil

	case KindAddDirEntry:
		if !need(8 * 2) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &AddDirEntry{}
		e.Dir = common.Inum(dec.GetInt())
		e.Ino = common.Inum(dec.GetInt())
		name, _, err := decodeName(&dec, remaining-8*2)
		if err != nil {
			return nil, 0, err
		}
		e.Name = name
		return e, e.EncodedLen(), nil

	case KindDeleteDirEntry:
		if !need(8) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &DeleteDirEntry{}
		e.Dir = common.Inum(dec.GetInt())
		name, _, err := decodeName(&dec, remaining-8)
		if err != nil {
			return nil, 0, err
		}
		e.Name = name
		return e, e.EncodedLen(), nil

	case KindCreateInodeAsDirEntry:
		if !need(8 * 5) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &CreateInodeAsDirEntry{}
		e.Parent = common.Inum(dec.GetInt())
		e.Ino = common.Inum(dec.GetInt())
		dir := dec.GetInt()
		e.Shard = common.ShardID(dec.GetInt())
		e.Mtime = dec.GetInt()
		if dir > 1 {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e.Dir = dir == 1
		name, _, err := decodeName(&dec, remaining-8*5)
		if err != nil {
			return nil, 0, err
		}
		e.Name = name
		return e, e.EncodedLen(), nil

	case KindDeleteInodeAndDirEntry:
		if !need(8 * 2) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &DeleteInodeAndDirEntry{}
		e.Parent = common.Inum(dec.GetInt())
		e.Ino = common.Inum(dec.GetInt())
		name, _, err := decodeName(&dec, remaining-8*2)
		if err != nil {
			return nil, 0, err
		}
		e.Name = name
		return e, e.EncodedLen(), nil

	case KindRename:
		if !need(8) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &Rename{}
		e.OldDir = common.Inum(dec.GetInt())
		oldName, left, err := decodeName(&dec, remaining-8)
		if err != nil {
			return nil, 0, err
		}
		e.OldName = oldName
		if left < 8 {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e.NewDir = common.Inum(dec.GetInt())
		newName, _, err := decodeName(&dec, left-8)
		if err != nil {
			return nil, 0, err
		}
		e.NewName = newName
		return e, e.EncodedLen(), nil

	case KindSmallWrite:
		if !need(8 * 4) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &SmallWrite{}
		e.Ino = common.Inum(dec.GetInt())
		e.Offset = dec.GetInt()
		e.Mtime = dec.GetInt()
		n := dec.GetInt()
		if n == 0 || n > MaxInlineData || n > remaining-8*4 {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e.Data = dec.GetBytes(n)
		return e, e.EncodedLen(), nil

	case KindExtentWrite:
		if !need(8 * 5) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &ExtentWrite{}
		e.Ino = common.Inum(dec.GetInt())
		e.Offset = dec.GetInt()
		e.DiskOffset = dec.GetInt()
		e.Length = dec.GetInt()
		e.Mtime = dec.GetInt()
		if e.Length == 0 {
			return nil, 0, fserr.ErrInvalidEntry
		}
		return e, e.EncodedLen(), nil

	case KindTruncate:
		if !need(8 * 3) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &Truncate{}
		e.Ino = common.Inum(dec.GetInt())
		e.Size = dec.GetInt()
		e.Mtime = dec.GetInt()
		return e, e.EncodedLen(), nil

	case KindNextCluster:
		if !need(8 + DigestLen) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &NextCluster{Next: common.ClusterID(dec.GetInt())}
		copy(e.Digest[:], dec.GetBytes(DigestLen))
		return e, e.EncodedLen(), nil

	case KindCheckpoint:
		if !need(DigestLen) {
			return nil, 0, fserr.ErrInvalidEntry
		}
		e := &Checkpoint{}
		copy(e.Digest[:], dec.GetBytes(DigestLen))
		return e, e.EncodedLen(), nil
	}

	return nil, 0, fserr.ErrInvalidEntry
}
