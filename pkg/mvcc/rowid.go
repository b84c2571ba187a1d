package mvcc

import (
	"bytes"
	"encoding/hex"

	"github.com/google/uuid"
)

// RowID is the 128-bit intra-partition row identifier from spec §3,
// distinct from any primary-key value.
type RowID [16]byte

// NewRowID generates a fresh RowID.
func NewRowID() RowID {
	return RowID(uuid.New())
}

// Compare orders RowIDs as big-endian unsigned 128-bit integers, the
// ordering closest_row_id relies on.
func (r RowID) Compare(o RowID) int {
	return bytes.Compare(r[:], o[:])
}

func (r RowID) Less(o RowID) bool { return r.Compare(o) < 0 }

func (r RowID) String() string { return hex.EncodeToString(r[:]) }

// PartitionKey identifies a partition: (table_id, partition_id), per
// spec §3.
type PartitionKey struct {
	TableID     uuid.UUID
	PartitionID uint16
}
