//go:build linux

package caps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBitIndex mirrors the original implementation's boundary sweep over
// the full 0..63 capability range: index 0 for caps 0-31, index 1 for
// caps 32-63.
func TestBitIndex(t *testing.T) {
	for cap := uint(0); cap <= 63; cap++ {
		want := 0
		if cap > 31 {
			want = 1
		}
		assert.Equalf(t, want, bitIndex(cap), "cap=%d", cap)
	}
}

func TestBitMask(t *testing.T) {
	for cap := uint(0); cap <= 63; cap++ {
		want := uint32(1) << (cap & 31)
		assert.Equalf(t, want, bitMask(cap), "cap=%d", cap)
	}
}

func TestHasCapability(t *testing.T) {
	// CAP_NET_BIND_SERVICE (10) and CAP_NET_ADMIN (12) set in word 0 only.
	words := [2]uint32{bitMask(CapNetBindService) | bitMask(CapNetAdmin), 0}

	assert.True(t, hasCapability(words, CapNetBindService))
	assert.True(t, hasCapability(words, CapNetAdmin))
	assert.False(t, hasCapability(words, 0))

	// A capability number in the second word.
	words2 := [2]uint32{0, bitMask(40)}
	assert.True(t, hasCapability(words2, 40))
	assert.False(t, hasCapability(words2, 8))
}

func TestHasCapability_OutOfRangeIndexIsFalse(t *testing.T) {
	// 64 falls one bit past the two 32-bit words this kernel ABI exposes.
	assert.False(t, hasCapability([2]uint32{0xFFFFFFFF, 0xFFFFFFFF}, 64))
}
