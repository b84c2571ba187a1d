package bintuple

import "github.com/cespare/xxhash/v2"

// ColocationHash hashes encoded key-chunk payload bytes with a stable
// 32-bit hash, per spec §4.2 ("compute_colocation_hash hashes the key
// chunk's payload bytes post-encoding with a stable 32-bit hash").
func ColocationHash(keyChunkPayload []byte) int32 {
	return int32(uint32(xxhash.Sum64(keyChunkPayload)))
}

// PartitionFor maps a colocation hash to a partition id as
// abs(hash) % partitions, per spec §4.2 and the router contract in §4.9.
func PartitionFor(hash int32, partitions int) uint16 {
	if partitions <= 0 {
		return 0
	}
	abs := int64(hash)
	if abs < 0 {
		abs = -abs
	}
	return uint16(abs % int64(partitions))
}
