// Package mvcc implements the MVCC Partition Storage component (C3):
// per-RowId version chains with write intents, commit timestamps from
// the Hybrid Logical Clock, and the read/scan/write operations in
// spec §4.3. It is the in-memory engine; pkg/storage persists it to
// bbolt the way the teacher's pkg/storage persists cluster objects.
package mvcc
