// Package fs ties the storage core together: it formats and mounts a
// shard, and exposes the namespace and file operations, logging every
// mutation to the metadata log so a later mount replays to the same
// state.
package fs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shardfs/shardfs/cluster"
	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/dlog"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/mlog"
	"github.com/shardfs/shardfs/namespace"
	"github.com/shardfs/shardfs/util"
)

// Filesys is one mounted shard. A shard has a single writer, so one
// lock over the whole state is enough; reads from the data log happen
// outside of mutations and take the lock only to snapshot fragments.
type Filesys struct {
	mu      sync.Mutex
	cfg     Config
	dev     device.Device
	alloc   *cluster.Allocator
	tab     *namespace.Table
	mw      *mlog.Writer
	dw      *dlog.Writer
	nextIno common.Inum
	broken  error
	clock   func() uint64
}

func wallClock() uint64 {
	return uint64(time.Now().Unix())
}

// Mkfs formats the device for cfg: it claims the start cluster for the
// metadata log, writes the root directory entry, and seals the log.
// The result is a valid empty filesystem that Mount can replay.
func Mkfs(dev device.Device, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dev.Size() < cfg.Geometry.DiskSize() {
		return fserr.ErrSizeTooBig
	}
	alloc := cluster.New(cfg.Geometry.Clusters, cfg.ReservedClusters)
	w, err := mlog.NewWriter(dev, alloc, cfg.Geometry, cfg.StartCluster)
	if err != nil {
		return err
	}
	root := &mlog.CreateInode{
		Ino: common.ROOTINUM, Dir: true, Shard: cfg.Shard, Mtime: wallClock(),
	}
	if err := w.Append(root); err != nil {
		return err
	}
	return w.Seal()
}

// Mount replays the metadata log at cfg.StartCluster and opens the
// shard for operation.
func Mount(dev device.Device, cfg Config) (*Filesys, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alloc := cluster.New(cfg.Geometry.Clusters, cfg.ReservedClusters)
	tab := namespace.NewTable(cfg.Shard)
	eng := mlog.NewEngine(dev, alloc, cfg.Geometry, tab)
	if err := eng.Run(cfg.StartCluster); err != nil {
		return nil, err
	}
	mw, err := mlog.Resume(dev, alloc, cfg.Geometry, eng.LastCluster(), eng.LastPayload())
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "fs: mounted shard %d, %d inodes\n", cfg.Shard, tab.MaxInum())
	return &Filesys{
		cfg:     cfg,
		dev:     dev,
		alloc:   alloc,
		tab:     tab,
		mw:      mw,
		dw:      dlog.NewWriter(dev, alloc, cfg.Geometry),
		nextIno: tab.MaxInum() + 1,
		clock:   wallClock,
	}, nil
}

// log appends a mutation that has already been applied to the table.
// An append failure means the in-memory state is ahead of the log, so
// the filesystem is poisoned: every later operation reports the same
// error, and the caller must discard the mount.
func (f *Filesys) log(e mlog.Entry) error {
	if err := f.mw.Append(e); err != nil {
		f.broken = err
		return err
	}
	return nil
}

// Resolve walks an absolute path to an inode number.
func (f *Filesys) Resolve(path string) (common.Inum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tab.Resolve(path)
}

// Stat describes one inode.
type Stat struct {
	Ino   common.Inum
	Dir   bool
	Shard common.ShardID
	Size  uint64
	Mtime uint64
}

func (f *Filesys) Stat(path string) (Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ino, err := f.tab.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	inode, err := f.tab.Get(ino)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Ino: inode.Ino, Dir: inode.Dir, Shard: inode.Owner,
		Size: inode.Size, Mtime: inode.Mtime,
	}, nil
}

// create makes a file or directory at path under a fresh inode number.
func (f *Filesys) create(path string, dir bool) (common.Inum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return common.NULLINUM, f.broken
	}
	dirPath, name, err := namespace.Split(path)
	if err != nil {
		return common.NULLINUM, err
	}
	parent, err := f.tab.Resolve(dirPath)
	if err != nil {
		return common.NULLINUM, err
	}
	ino := f.nextIno
	mtime := f.clock()
	if err := f.tab.CreateInode(ino, dir, f.cfg.Shard, mtime); err != nil {
		return common.NULLINUM, err
	}
	if err := f.tab.AddEntry(parent, name, ino); err != nil {
		// Roll the inode back; it was never visible.
		_ = f.tab.DeleteInode(ino)
		return common.NULLINUM, err
	}
	f.nextIno++
	if err := f.log(&mlog.CreateInodeAsDirEntry{
		Parent: parent, Name: name, Ino: ino, Dir: dir, Shard: f.cfg.Shard, Mtime: mtime,
	}); err != nil {
		return common.NULLINUM, err
	}
	return ino, nil
}

func (f *Filesys) CreateFile(path string) (common.Inum, error) {
	return f.create(path, false)
}

func (f *Filesys) Mkdir(path string) (common.Inum, error) {
	return f.create(path, true)
}

// Unlink removes path and deletes its inode. A directory must be
// empty.
func (f *Filesys) Unlink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	dirPath, name, err := namespace.Split(path)
	if err != nil {
		return err
	}
	parent, err := f.tab.Resolve(dirPath)
	if err != nil {
		return err
	}
	dir, err := f.tab.Get(parent)
	if err != nil {
		return err
	}
	ino, ok := dir.Lookup(name)
	if !ok {
		return fserr.ErrNoSuchFile
	}
	child, err := f.tab.Get(ino)
	if err != nil {
		return err
	}
	if child.Dir && child.NumChildren() > 0 {
		return fserr.ErrDirectoryNotEmpty
	}
	if err := f.tab.DeleteEntry(parent, name); err != nil {
		return err
	}
	if err := f.tab.DeleteInode(ino); err != nil {
		// Visible again; the unlink did not happen.
		_ = f.tab.AddEntry(parent, name, ino)
		return err
	}
	return f.log(&mlog.DeleteInodeAndDirEntry{Parent: parent, Name: name, Ino: ino})
}

// Rename moves oldPath to newPath within the shard.
func (f *Filesys) Rename(oldPath string, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	oldDirPath, oldName, err := namespace.Split(oldPath)
	if err != nil {
		return err
	}
	newDirPath, newName, err := namespace.Split(newPath)
	if err != nil {
		return err
	}
	oldDir, err := f.tab.Resolve(oldDirPath)
	if err != nil {
		return err
	}
	newDir, err := f.tab.Resolve(newDirPath)
	if err != nil {
		return err
	}
	if err := f.tab.Rename(oldDir, oldName, newDir, newName); err != nil {
		return err
	}
	return f.log(&mlog.Rename{
		OldDir: oldDir, OldName: oldName, NewDir: newDir, NewName: newName,
	})
}

// Write puts data at off in the file. Payloads up to the inline
// threshold travel in the metadata log itself; larger ones go to the
// data log, one extent entry per cluster touched.
func (f *Filesys) Write(ino common.Inum, off uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	if len(data) == 0 {
		return nil
	}
	if util.SumOverflows(off, uint64(len(data))) {
		return fserr.ErrSizeTooBig
	}
	inode, err := f.tab.Get(ino)
	if err != nil {
		return err
	}
	if inode.Dir {
		return fserr.ErrIsDirectory
	}
	mtime := f.clock()

	if uint64(len(data)) <= f.cfg.InlineThreshold {
		frag := namespace.Fragment{
			FileOffset: off,
			Length:     uint64(len(data)),
			Inline:     util.CloneByteSlice(data),
		}
		if err := f.tab.ApplyWrite(ino, frag, mtime); err != nil {
			return err
		}
		return f.log(&mlog.SmallWrite{Ino: ino, Offset: off, Data: frag.Inline, Mtime: mtime})
	}

	ranges, err := f.dw.Append(data)
	if err != nil {
		if errors.Is(err, fserr.ErrTooLittleClusters) {
			return fmt.Errorf("write of %d bytes: %w", len(data), fserr.ErrNoMoreSpace)
		}
		return err
	}
	fileOff := off
	for _, r := range ranges {
		frag := namespace.Fragment{
			FileOffset: fileOff,
			Length:     r.Size(),
			DiskOffset: r.Beg,
		}
		if err := f.tab.ApplyWrite(ino, frag, mtime); err != nil {
			return err
		}
		if err := f.log(&mlog.ExtentWrite{
			Ino: ino, Offset: fileOff, DiskOffset: r.Beg, Length: r.Size(), Mtime: mtime,
		}); err != nil {
			return err
		}
		fileOff += r.Size()
	}
	return nil
}

// Read returns up to n bytes of the file starting at off, zero-filling
// holes. A short result means end of file. Inline fragments are served
// from memory; extent fragments come from the device, so a large write
// must be Synced before its bytes are readable.
func (f *Filesys) Read(ino common.Inum, off uint64, n uint64) ([]byte, error) {
	f.mu.Lock()
	inode, err := f.tab.Get(ino)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if inode.Dir {
		f.mu.Unlock()
		return nil, fserr.ErrIsDirectory
	}
	if off >= inode.Size {
		f.mu.Unlock()
		return nil, nil
	}
	n = util.Min(n, inode.Size-off)
	frags := append([]namespace.Fragment(nil), inode.Fragments()...)
	f.mu.Unlock()

	out := make([]byte, n)
	for _, frag := range frags {
		beg := util.Max(off, frag.FileOffset)
		end := util.Min(off+n, frag.FileOffset+frag.Length)
		if beg >= end {
			continue
		}
		if frag.Inline != nil {
			copy(out[beg-off:end-off], frag.Inline[beg-frag.FileOffset:end-frag.FileOffset])
			continue
		}
		dst := out[beg-off : end-off]
		got, err := f.dev.ReadAt(dst, frag.DiskOffset+(beg-frag.FileOffset))
		if err != nil {
			return nil, err
		}
		if got != len(dst) {
			return nil, fserr.ErrPartialClusterRead
		}
	}
	return out, nil
}

// Truncate sets the file's size, discarding data past the new end.
func (f *Filesys) Truncate(ino common.Inum, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	inode, err := f.tab.Get(ino)
	if err != nil {
		return err
	}
	if inode.Dir {
		return fserr.ErrIsDirectory
	}
	mtime := f.clock()
	if err := f.tab.Truncate(ino, size, mtime); err != nil {
		return err
	}
	return f.log(&mlog.Truncate{Ino: ino, Size: size, Mtime: mtime})
}

// Sync waits for every issued flush: data extents first, then the
// closed metadata clusters that reference them. Metadata entries in
// the still-open cluster become durable when that cluster closes, at
// the latest on Close.
func (f *Filesys) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	if err := f.dw.Sync(); err != nil {
		f.broken = err
		return err
	}
	if err := f.mw.Sync(); err != nil {
		f.broken = err
		return err
	}
	return nil
}

// Close seals the metadata log, after which the shard is cleanly
// unmounted. The device stays open; the caller owns it.
func (f *Filesys) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken != nil {
		return f.broken
	}
	if err := f.dw.Sync(); err != nil {
		f.broken = err
		return err
	}
	if err := f.mw.Seal(); err != nil {
		f.broken = err
		return err
	}
	return nil
}

// Table exposes the namespace for read-only inspection (dump tooling).
func (f *Filesys) Table() *namespace.Table {
	return f.tab
}

// Allocator exposes cluster ownership for inspection.
func (f *Filesys) Allocator() *cluster.Allocator {
	return f.alloc
}
