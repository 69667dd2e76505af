package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/fserr"
)

func TestAlloc(t *testing.T) {
	assert := assert.New(t)
	a := New(8, 0)

	assert.Equal(uint64(8), a.NumFree())

	n1, err := a.Alloc(PurposeMetadata)
	assert.NoError(err)
	n2, err := a.Alloc(PurposeData)
	assert.NoError(err)
	assert.NotEqual(n1, n2, "should not hand out the same cluster twice")
	assert.Equal(uint64(6), a.NumFree())

	a.Free(n1)
	assert.Equal(uint64(7), a.NumFree())
}

func TestAllocExhaustion(t *testing.T) {
	assert := assert.New(t)
	a := New(2, 0)

	_, err := a.Alloc(PurposeMetadata)
	assert.NoError(err)
	_, err = a.Alloc(PurposeMetadata)
	assert.NoError(err)
	_, err = a.Alloc(PurposeMetadata)
	assert.ErrorIs(err, fserr.ErrTooLittleClusters)
}

func TestAllocReserve(t *testing.T) {
	assert := assert.New(t)
	a := New(4, 2)

	_, err := a.Alloc(PurposeData)
	assert.NoError(err)
	_, err = a.Alloc(PurposeData)
	assert.NoError(err)
	_, err = a.Alloc(PurposeData)
	assert.ErrorIs(err, fserr.ErrTooLittleClusters,
		"reserve should hold back the last free clusters")
}

func TestMarkUsedRange(t *testing.T) {
	assert := assert.New(t)
	a := New(4, 0)

	assert.NoError(a.MarkUsed(3, PurposeMetadata))
	assert.ErrorIs(a.MarkUsed(4, PurposeMetadata), fserr.ErrInvalidClusterRange)
	assert.ErrorIs(a.MarkUsed(100, PurposeData), fserr.ErrInvalidClusterRange)
}

func TestValidateDisjoint(t *testing.T) {
	assert := assert.New(t)
	a := New(8, 0)

	assert.NoError(a.MarkUsed(1, PurposeMetadata))
	assert.NoError(a.MarkUsed(2, PurposeData))
	assert.NoError(a.ValidateDisjoint())

	// The same cluster claimed by both logs is corruption.
	assert.NoError(a.MarkUsed(2, PurposeMetadata))
	assert.ErrorIs(a.ValidateDisjoint(), fserr.ErrLogOverlap)
}

func TestOwned(t *testing.T) {
	assert := assert.New(t)
	a := New(8, 0)
	assert.NoError(a.MarkUsed(5, PurposeMetadata))
	assert.NoError(a.MarkUsed(1, PurposeMetadata))
	assert.NoError(a.MarkUsed(3, PurposeData))
	assert.Equal([]common.ClusterID{1, 5}, a.Owned(PurposeMetadata))
	assert.Equal([]common.ClusterID{3}, a.Owned(PurposeData))
}
