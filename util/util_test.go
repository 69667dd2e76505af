package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPowerOfTwo(t *testing.T) {
	assert := assert.New(t)
	assert.False(IsPowerOfTwo(0))
	assert.True(IsPowerOfTwo(1))
	assert.True(IsPowerOfTwo(2))
	assert.False(IsPowerOfTwo(3))
	assert.True(IsPowerOfTwo(4096))
	assert.True(IsPowerOfTwo(1 << 63))
	assert.False(IsPowerOfTwo(1<<63 + 1))
}

func TestRounding(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(0), RoundUpPowerOfTwo(0, 512))
	assert.Equal(uint64(512), RoundUpPowerOfTwo(1, 512))
	assert.Equal(uint64(512), RoundUpPowerOfTwo(512, 512), "exact multiple")
	assert.Equal(uint64(1024), RoundUpPowerOfTwo(513, 512))
	assert.Equal(uint64(0), RoundDownPowerOfTwo(511, 512))
	assert.Equal(uint64(512), RoundDownPowerOfTwo(512, 512))
	assert.Equal(uint64(512), RoundDownPowerOfTwo(1023, 512))
}

func TestModPowerOfTwo(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(0), ModPowerOfTwo(4096, 512))
	assert.Equal(uint64(1), ModPowerOfTwo(4097, 512))
	assert.Equal(uint64(511), ModPowerOfTwo(1023, 512))
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.False(SumOverflows(1<<63, 1<<62))
	assert.False(SumOverflows(1<<64-2, 1))
	assert.True(SumOverflows(1<<64-1, 1))
	assert.True(SumOverflows(1<<63, 1<<63))
}
