package util

import "log"

const Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

// IsPowerOfTwo reports whether x is a power of two. Zero is not.
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// ModPowerOfTwo returns x % mod where mod is a power of two.
func ModPowerOfTwo(x uint64, mod uint64) uint64 {
	return x & (mod - 1)
}

// RoundDownPowerOfTwo returns the largest multiple of mod that is not
// greater than x. mod must be a power of two.
func RoundDownPowerOfTwo(x uint64, mod uint64) uint64 {
	return x &^ (mod - 1)
}

// RoundUpPowerOfTwo returns the smallest multiple of mod that is not
// less than x. mod must be a power of two.
func RoundUpPowerOfTwo(x uint64, mod uint64) uint64 {
	return RoundDownPowerOfTwo(x+mod-1, mod)
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	}
	return m
}

func Max(n uint64, m uint64) uint64 {
	if n > m {
		return n
	}
	return m
}

func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
