package mlog

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/fserr"
)

// Walk scans the log chain starting at head without applying anything,
// calling fn for every entry including the close markers. It verifies
// structure and digests the same way bootstrap does but skips all
// namespace semantics; tooling uses it to inspect the on-disk format.
// A non-nil error from fn stops the walk.
func Walk(dev device.Device, geo common.Geometry, head common.ClusterID, fn func(c common.ClusterID, off uint64, e Entry) error) error {
	visited := make(map[common.ClusterID]struct{})
	buf := make([]byte, geo.ClusterSize)
	cur := head
	for {
		if !geo.Contains(cur) {
			return fmt.Errorf("cluster %d out of range: %w", cur, fserr.ErrInvalidClusterRange)
		}
		if _, seen := visited[cur]; seen {
			return fmt.Errorf("cluster chain revisits %d: %w", cur, fserr.ErrAlreadyBootstrapped)
		}
		visited[cur] = struct{}{}

		n, err := dev.ReadAt(buf, geo.ClusterOffset(cur))
		if err != nil {
			return fmt.Errorf("read cluster %d: %w", cur, err)
		}
		if uint64(n) != geo.ClusterSize {
			return fmt.Errorf("read cluster %d: got %d of %d bytes: %w",
				cur, n, geo.ClusterSize, fserr.ErrPartialClusterRead)
		}

		off := uint64(0)
		for {
			if off+8 > geo.ClusterSize {
				return fmt.Errorf("cluster %d has no close marker: %w", cur, fserr.ErrInvalidEntry)
			}
			ent, consumed, err := DecodeEntry(buf[off:])
			if err != nil {
				return fmt.Errorf("cluster %d offset %d: %w", cur, off, err)
			}
			if err := fn(cur, off, ent); err != nil {
				return err
			}
			switch m := ent.(type) {
			case *NextCluster:
				if err := checkDigest(cur, buf[:off], m.Digest); err != nil {
					return err
				}
				cur = m.Next
			case *Checkpoint:
				return checkDigest(cur, buf[:off], m.Digest)
			default:
				off += consumed
				continue
			}
			break
		}
	}
}

func checkDigest(cur common.ClusterID, payload []byte, want [DigestLen]byte) error {
	got := blake3.Sum256(payload)
	if !bytes.Equal(got[:], want[:]) {
		return fmt.Errorf("cluster %d digest mismatch: %w", cur, fserr.ErrInvalidEntry)
	}
	return nil
}
