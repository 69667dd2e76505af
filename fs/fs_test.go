package fs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/shardfs/shardfs/cluster"
	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/mlog"
)

type FsSuite struct {
	suite.Suite
	cfg Config
	dev *device.MemDevice
	fs  *Filesys
}

func (s *FsSuite) SetupTest() {
	s.cfg = Config{
		Geometry:        common.Geometry{ClusterSize: 1024, Alignment: 128, Clusters: 128},
		Shard:           0,
		StartCluster:    0,
		InlineThreshold: 64,
	}
	s.dev = device.NewMemDevice(s.cfg.Geometry.DiskSize())
	s.Require().NoError(Mkfs(s.dev, s.cfg))
	s.fs = s.mount()
}

// remount closes the filesystem and mounts the device again.
func (s *FsSuite) remount() {
	s.Require().NoError(s.fs.Close())
	s.fs = s.mount()
}

func (s *FsSuite) mount() *Filesys {
	f, err := Mount(s.dev, s.cfg)
	s.Require().NoError(err)
	f.clock = func() uint64 { return 42 }
	return f
}

func TestFs(t *testing.T) {
	suite.Run(t, new(FsSuite))
}

func (s *FsSuite) TestMkfsMount() {
	st, err := s.fs.Stat("/")
	s.Require().NoError(err)
	s.Equal(common.ROOTINUM, st.Ino)
	s.True(st.Dir)
	s.Equal(uint64(0), st.Size)
}

func (s *FsSuite) TestCreateWriteRead() {
	ino, err := s.fs.CreateFile("/f")
	s.Require().NoError(err)
	s.Require().NoError(s.fs.Write(ino, 0, []byte("hello")))

	got, err := s.fs.Read(ino, 0, 100)
	s.Require().NoError(err)
	s.Equal([]byte("hello"), got)

	// Overwrite: the later fragment shadows the earlier one.
	s.Require().NoError(s.fs.Write(ino, 1, []byte("a")))
	got, err = s.fs.Read(ino, 0, 100)
	s.Require().NoError(err)
	s.Equal([]byte("hallo"), got)
}

func (s *FsSuite) TestExtentWriteSurvivesRemount() {
	ino, err := s.fs.CreateFile("/big")
	s.Require().NoError(err)
	data := bytes.Repeat([]byte("x0y1"), 600) // well past the inline threshold
	s.Require().NoError(s.fs.Write(ino, 0, data))
	s.Require().NoError(s.fs.Sync())
	s.remount()

	got, err := s.fs.Read(ino, 0, uint64(len(data)))
	s.Require().NoError(err)
	s.Equal(data, got)
	s.NotEmpty(s.fs.Allocator().Owned(cluster.PurposeData))
}

func (s *FsSuite) TestHolesReadAsZeros() {
	ino, err := s.fs.CreateFile("/sparse")
	s.Require().NoError(err)
	s.Require().NoError(s.fs.Write(ino, 100, []byte("tail")))

	got, err := s.fs.Read(ino, 0, 104)
	s.Require().NoError(err)
	s.Equal(make([]byte, 100), got[:100])
	s.Equal([]byte("tail"), got[100:])

	st, err := s.fs.Stat("/sparse")
	s.Require().NoError(err)
	s.Equal(uint64(104), st.Size)
}

func (s *FsSuite) TestNamespaceOps() {
	_, err := s.fs.Mkdir("/d")
	s.Require().NoError(err)
	ino, err := s.fs.CreateFile("/d/f")
	s.Require().NoError(err)

	s.ErrorIs(s.fs.Unlink("/d"), fserr.ErrDirectoryNotEmpty)

	s.Require().NoError(s.fs.Rename("/d/f", "/g"))
	_, err = s.fs.Resolve("/d/f")
	s.ErrorIs(err, fserr.ErrNoSuchFile)
	got, err := s.fs.Resolve("/g")
	s.Require().NoError(err)
	s.Equal(ino, got)

	s.Require().NoError(s.fs.Unlink("/d"))
	s.Require().NoError(s.fs.Unlink("/g"))
	_, err = s.fs.Resolve("/g")
	s.ErrorIs(err, fserr.ErrNoSuchFile)
}

func (s *FsSuite) TestNamespaceSurvivesRemount() {
	_, err := s.fs.Mkdir("/d")
	s.Require().NoError(err)
	fIno, err := s.fs.CreateFile("/d/f")
	s.Require().NoError(err)
	s.Require().NoError(s.fs.Write(fIno, 0, []byte("persist")))
	s.Require().NoError(s.fs.Rename("/d/f", "/d/renamed"))
	s.remount()

	ino, err := s.fs.Resolve("/d/renamed")
	s.Require().NoError(err)
	s.Equal(fIno, ino)
	got, err := s.fs.Read(ino, 0, 100)
	s.Require().NoError(err)
	s.Equal([]byte("persist"), got)

	// Fresh inode numbers continue after the replayed maximum.
	next, err := s.fs.CreateFile("/new")
	s.Require().NoError(err)
	s.Greater(next, fIno)
}

func (s *FsSuite) TestTruncateSurvivesRemount() {
	ino, err := s.fs.CreateFile("/t")
	s.Require().NoError(err)
	s.Require().NoError(s.fs.Write(ino, 0, []byte("0123456789")))
	s.Require().NoError(s.fs.Truncate(ino, 4))
	s.remount()

	st, err := s.fs.Stat("/t")
	s.Require().NoError(err)
	s.Equal(uint64(4), st.Size)
	got, err := s.fs.Read(ino, 0, 100)
	s.Require().NoError(err)
	s.Equal([]byte("0123"), got)
}

// Enough mutations to spill the metadata log across several clusters;
// a remount must walk the whole chain.
func (s *FsSuite) TestMetadataLogSpansClusters() {
	inos := map[string]common.Inum{}
	for i := 0; i < 200; i++ {
		path := fmt.Sprintf("/file-%03d", i)
		ino, err := s.fs.CreateFile(path)
		s.Require().NoError(err)
		inos[path] = ino
	}
	s.Greater(len(s.fs.Allocator().Owned(cluster.PurposeMetadata)), 1)
	s.remount()

	for path, want := range inos {
		got, err := s.fs.Resolve(path)
		s.Require().NoError(err)
		s.Equal(want, got)
	}
}

func (s *FsSuite) TestErrors() {
	_, err := s.fs.CreateFile("/missing/f")
	s.ErrorIs(err, fserr.ErrNoSuchFile)
	_, err = s.fs.CreateFile("/")
	s.ErrorIs(err, fserr.ErrCannotModifyRoot)
	s.ErrorIs(s.fs.Unlink("/"), fserr.ErrCannotModifyRoot)

	ino, err := s.fs.CreateFile("/f")
	s.Require().NoError(err)
	_, err = s.fs.CreateFile("/f")
	s.ErrorIs(err, fserr.ErrFileExists)
	s.ErrorIs(s.fs.Write(common.ROOTINUM, 0, []byte("x")), fserr.ErrIsDirectory)
	_, err = s.fs.Read(ino, 1000, 10)
	s.Require().NoError(err)
}

// A replayed log can carry inodes owned by another shard; every
// mutating surface must refuse them, not just Write.
func (s *FsSuite) TestForeignShardInode() {
	dev := device.NewMemDevice(s.cfg.Geometry.DiskSize())
	alloc := cluster.New(s.cfg.Geometry.Clusters, 0)
	w, err := mlog.NewWriter(dev, alloc, s.cfg.Geometry, s.cfg.StartCluster)
	s.Require().NoError(err)
	s.Require().NoError(w.Append(&mlog.CreateInode{Ino: common.ROOTINUM, Dir: true, Mtime: 1}))
	s.Require().NoError(w.Append(&mlog.CreateInodeAsDirEntry{
		Parent: common.ROOTINUM, Name: "theirs", Ino: 2, Shard: 1, Mtime: 1,
	}))
	s.Require().NoError(w.Seal())

	f, err := Mount(dev, s.cfg)
	s.Require().NoError(err)
	defer f.Close()

	s.ErrorIs(f.Write(2, 0, []byte("x")), fserr.ErrWrongShard)
	s.ErrorIs(f.Truncate(2, 0), fserr.ErrWrongShard)
	_, err = f.Read(2, 0, 1)
	s.ErrorIs(err, fserr.ErrWrongShard)
	s.ErrorIs(f.Rename("/theirs", "/mine"), fserr.ErrWrongShard)
	s.ErrorIs(f.Unlink("/theirs"), fserr.ErrWrongShard)
}

func (s *FsSuite) TestOutOfSpace() {
	ino, err := s.fs.CreateFile("/huge")
	s.Require().NoError(err)
	err = s.fs.Write(ino, 0, make([]byte, s.cfg.Geometry.DiskSize()))
	s.ErrorIs(err, fserr.ErrNoMoreSpace)

	// Capacity failures leave the filesystem usable for operations
	// that need no new clusters.
	_, err = s.fs.CreateFile("/small")
	s.Require().NoError(err)
}

func TestConfigValidate(t *testing.T) {
	good := Config{
		Geometry:        common.Geometry{ClusterSize: 1024, Alignment: 128, Clusters: 16},
		InlineThreshold: 64,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := good
	bad.Geometry.ClusterSize = 64
	bad.Geometry.Alignment = 64
	if err := bad.Validate(); err != fserr.ErrClusterTooSmall {
		t.Errorf("tiny cluster: got %v", err)
	}

	bad = good
	bad.StartCluster = 16
	if err := bad.Validate(); err != fserr.ErrInvalidClusterRange {
		t.Errorf("start cluster out of range: got %v", err)
	}

	bad = good
	bad.ReservedClusters = 16
	if err := bad.Validate(); err != fserr.ErrTooLittleClusters {
		t.Errorf("all clusters reserved: got %v", err)
	}
}
