package bintuple

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColocationHashDeterministic(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	require.Equal(t, ColocationHash(payload), ColocationHash(append([]byte{}, payload...)))
}

func TestPartitionForDistributesAcrossRange(t *testing.T) {
	seen := map[uint16]bool{}
	for i := 0; i < 1000; i++ {
		h := ColocationHash([]byte{byte(i), byte(i >> 8)})
		seen[PartitionFor(h, 4)] = true
	}
	require.Len(t, seen, 4, "expected all 4 partitions to be hit across 1000 samples")
}

func TestPartitionForHandlesMinInt32(t *testing.T) {
	require.NotPanics(t, func() {
		PartitionFor(int32(-2147483648), 8)
	})
}
