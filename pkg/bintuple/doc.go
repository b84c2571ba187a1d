// Package bintuple implements the sort-order-preserving temporal
// encoding and the colocation hash from spec §4.2. Grounded in the
// teacher's preference for small, single-purpose files (pkg/log,
// pkg/metrics) over one large codec file, and on xxhash — already a
// transitive dependency of the teacher's raft-boltdb/bbolt stack,
// promoted here to a direct import for stable 32-bit hashing.
package bintuple
