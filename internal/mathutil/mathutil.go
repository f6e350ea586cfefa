// Package mathutil holds the power-of-two helpers used for shard sizing.
package mathutil

import "math/bits"

// NextPowerOf2 returns the next power of 2 greater than or equal to n.
func NextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// PrevPowerOf2 returns the largest power of 2 less than or equal to n, or 1 for n < 1.
func PrevPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << (bits.Len(uint(n)) - 1)
}
