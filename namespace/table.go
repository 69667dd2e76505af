package namespace

import (
	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/util"
)

// Table is the inode table of one shard. All mutations go through the
// methods below; both the live write path and bootstrap replay use
// them, which is what makes replay deterministic.
type Table struct {
	shard  common.ShardID
	inodes map[common.Inum]*Inode
	maxIno common.Inum
}

func NewTable(shard common.ShardID) *Table {
	return &Table{
		shard:  shard,
		inodes: make(map[common.Inum]*Inode),
	}
}

func (t *Table) Shard() common.ShardID {
	return t.shard
}

// MaxInum returns the highest inode number ever created, so the write
// path can continue numbering after bootstrap.
func (t *Table) MaxInum() common.Inum {
	return t.maxIno
}

// lookup finds an inode without the shard-affinity check; replay and
// path resolution use it.
func (t *Table) lookup(ino common.Inum) (*Inode, error) {
	inode, ok := t.inodes[ino]
	if !ok {
		return nil, fserr.ErrInvalidInode
	}
	return inode, nil
}

// Get finds an inode and enforces shard affinity: an inode owned by
// another shard is a hard error, never a silent cross-shard access.
func (t *Table) Get(ino common.Inum) (*Inode, error) {
	inode, err := t.lookup(ino)
	if err != nil {
		return nil, err
	}
	if inode.Owner != t.shard {
		return nil, fserr.ErrWrongShard
	}
	return inode, nil
}

// CreateInode adds a fresh inode. The number must be unused.
func (t *Table) CreateInode(ino common.Inum, dir bool, owner common.ShardID, mtime uint64) error {
	if ino == common.NULLINUM {
		return fserr.ErrInvalidInode
	}
	if _, ok := t.inodes[ino]; ok {
		return fserr.ErrInvalidInode
	}
	inode := &Inode{Ino: ino, Dir: dir, Owner: owner, Mtime: mtime}
	if dir {
		inode.children = make(map[string]common.Inum)
	}
	t.inodes[ino] = inode
	if ino > t.maxIno {
		t.maxIno = ino
	}
	util.DPrintf(5, "namespace: create inode %d dir=%v shard=%d\n", ino, dir, owner)
	return nil
}

// DeleteInode removes an inode. The root is never deletable, and a
// directory must be empty.
func (t *Table) DeleteInode(ino common.Inum) error {
	if ino == common.ROOTINUM {
		return fserr.ErrCannotModifyRoot
	}
	inode, err := t.lookup(ino)
	if err != nil {
		return err
	}
	if inode.Dir && len(inode.children) > 0 {
		return fserr.ErrDirectoryNotEmpty
	}
	delete(t.inodes, ino)
	return nil
}

// AddEntry binds name to child inside dir.
func (t *Table) AddEntry(dir common.Inum, name string, child common.Inum) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	parent, err := t.lookup(dir)
	if err != nil {
		return err
	}
	if !parent.Dir {
		return fserr.ErrNotDirectory
	}
	if _, err := t.lookup(child); err != nil {
		return err
	}
	if _, ok := parent.children[name]; ok {
		return fserr.ErrFileExists
	}
	parent.children[name] = child
	return nil
}

// DeleteEntry unbinds name from dir.
func (t *Table) DeleteEntry(dir common.Inum, name string) error {
	parent, err := t.lookup(dir)
	if err != nil {
		return err
	}
	if !parent.Dir {
		return fserr.ErrNotDirectory
	}
	if _, ok := parent.children[name]; !ok {
		return fserr.ErrNoSuchFile
	}
	delete(parent.children, name)
	return nil
}

// Rename moves oldName in oldDir to newName in newDir. The root
// cannot be renamed, the target name must be free, and a directory
// cannot be moved into its own subtree.
func (t *Table) Rename(oldDir common.Inum, oldName string, newDir common.Inum, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	from, err := t.lookup(oldDir)
	if err != nil {
		return err
	}
	if !from.Dir {
		return fserr.ErrNotDirectory
	}
	child, ok := from.children[oldName]
	if !ok {
		return fserr.ErrNoSuchFile
	}
	if child == common.ROOTINUM {
		return fserr.ErrCannotModifyRoot
	}
	if _, err := t.Get(child); err != nil {
		return err
	}
	to, err := t.lookup(newDir)
	if err != nil {
		return err
	}
	if !to.Dir {
		return fserr.ErrNotDirectory
	}
	if _, ok := to.children[newName]; ok {
		return fserr.ErrFileExists
	}
	if t.isAncestor(child, newDir) {
		return fserr.ErrInvalidPath
	}
	delete(from.children, oldName)
	to.children[newName] = child
	return nil
}

// isAncestor reports whether dir equals ino or lies inside the
// subtree rooted at ino.
func (t *Table) isAncestor(ino common.Inum, dir common.Inum) bool {
	if ino == dir {
		return true
	}
	inode, ok := t.inodes[ino]
	if !ok || !inode.Dir {
		return false
	}
	for _, child := range inode.children {
		if t.isAncestor(child, dir) {
			return true
		}
	}
	return false
}

// ApplyWrite records a write fragment on a file inode and grows its
// size.
func (t *Table) ApplyWrite(ino common.Inum, frag Fragment, mtime uint64) error {
	inode, err := t.lookup(ino)
	if err != nil {
		return err
	}
	if inode.Dir {
		return fserr.ErrIsDirectory
	}
	inode.frags = append(inode.frags, frag)
	if end := frag.FileOffset + frag.Length; end > inode.Size {
		inode.Size = end
	}
	inode.Mtime = mtime
	return nil
}

// Truncate sets the file size and drops fragments past the new end.
func (t *Table) Truncate(ino common.Inum, size uint64, mtime uint64) error {
	inode, err := t.lookup(ino)
	if err != nil {
		return err
	}
	if inode.Dir {
		return fserr.ErrIsDirectory
	}
	kept := inode.frags[:0]
	for _, f := range inode.frags {
		if f.FileOffset >= size {
			continue
		}
		if f.FileOffset+f.Length > size {
			f.Length = size - f.FileOffset
			if f.Inline != nil {
				f.Inline = f.Inline[:f.Length]
			}
		}
		kept = append(kept, f)
	}
	inode.frags = kept
	inode.Size = size
	inode.Mtime = mtime
	return nil
}
