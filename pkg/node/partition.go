package node

import (
	"encoding/json"
	"io"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/lockmgr"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/storage"
	"github.com/hashicorp/raft"
)

// partitionOp is one operation a partition's Raft log entry can carry.
type partitionOp string

const (
	opWrite  partitionOp = "write"
	opCommit partitionOp = "commit"
	opAbort  partitionOp = "abort"
)

// partitionCommand is a partition group's log entry payload, encoded
// the same way the Cluster Management Group encodes its own (op +
// opaque data), per spec §4.3's write/commit/abort operations.
type partitionCommand struct {
	Op                partitionOp   `json:"op"`
	RowID             mvcc.RowID    `json:"row_id"`
	Row               []byte        `json:"row,omitempty"`
	TxnID             string        `json:"txn_id"`
	CommitTableID     string        `json:"commit_table_id,omitempty"`
	CommitPartitionID uint16        `json:"commit_partition_id,omitempty"`
	Timestamp         hlc.Timestamp `json:"timestamp,omitempty"`
}

func encodeRow(r *binrow.Row) []byte {
	if r == nil {
		return nil
	}
	return r.Bytes()
}

func decodeRow(b []byte) (*binrow.Row, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return binrow.Parse(b)
}

// partitionApplier is one partition's raftengine.Applier: it applies
// write/commit/abort commands to an in-memory mvcc.PartitionStorage
// and mirrors every mutation onto a durable storage.Store, the same
// split the CMG's applier draws between replicated state and Raft's
// own log (here the durable side is a second store rather than
// Raft's log, since partition data must survive log compaction).
//
// Locks are not acquired here: by the time a command reaches Apply it
// has already been through lockmgr on the proposing node (see
// Partition.ExecuteWrite/Commit/Abort in partition_group.go), and every replica
// must apply the identical sequence of commands deterministically, so
// Apply only ever touches state private to this partition.
type partitionApplier struct {
	storage *mvcc.PartitionStorage
	locks   *lockmgr.LockManager
	durable *storage.Store
}

func newPartitionApplier(ps *mvcc.PartitionStorage, locks *lockmgr.LockManager, durable *storage.Store) *partitionApplier {
	return &partitionApplier{storage: ps, locks: locks, durable: durable}
}

func (a *partitionApplier) Apply(entry []byte) any {
	var cmd partitionCommand
	if err := json.Unmarshal(entry, &cmd); err != nil {
		return kverrors.Wrap(kverrors.Assembly, "unmarshal partition command", err)
	}

	switch cmd.Op {
	case opWrite:
		row, err := decodeRow(cmd.Row)
		if err != nil {
			return kverrors.Wrap(kverrors.Assembly, "decode write row", err)
		}
		if _, err := a.storage.AddWrite(cmd.RowID, row, cmd.TxnID, cmd.CommitTableID, cmd.CommitPartitionID); err != nil {
			return err
		}
		intent := &mvcc.Intent{TxnID: cmd.TxnID, CommitTableID: cmd.CommitTableID, CommitPartitionID: cmd.CommitPartitionID, Row: row}
		if err := a.durable.PersistIntent(cmd.RowID, intent); err != nil {
			return err
		}
		return nil

	case opCommit:
		result := a.storage.Read(cmd.RowID, hlc.Max)
		if err := a.storage.CommitWrite(cmd.RowID, cmd.Timestamp); err != nil {
			return err
		}
		if err := a.durable.DeleteIntent(cmd.RowID); err != nil {
			return err
		}
		if err := a.durable.PersistCommittedVersion(cmd.RowID, cmd.Timestamp, result.Row); err != nil {
			return err
		}
		a.locks.Release(cmd.TxnID)
		return nil

	case opAbort:
		if err := a.storage.AbortWrite(cmd.RowID); err != nil {
			return err
		}
		if err := a.durable.DeleteIntent(cmd.RowID); err != nil {
			return err
		}
		a.locks.Release(cmd.TxnID)
		return nil

	default:
		return kverrors.New(kverrors.Assembly, "unknown partition command op")
	}
}

// chainSnapshot is the JSON form of one row's full version history,
// persisted by Snapshot and replayed by Restore.
type chainSnapshot struct {
	RowID   mvcc.RowID            `json:"row_id"`
	Intent  *mvcc.Intent          `json:"intent,omitempty"`
	History []*mvcc.CommittedVersion `json:"history,omitempty"`
}

func (a *partitionApplier) Snapshot() (raftengine.ApplierSnapshot, error) {
	cur := a.storage.Scan(hlc.Max)
	seen := make(map[mvcc.RowID]bool)
	var out []chainSnapshot
	for {
		r, ok := cur.Next()
		if !ok {
			break
		}
		if seen[r.RowID] {
			continue
		}
		seen[r.RowID] = true

		versions := a.storage.ScanVersions(r.RowID)
		var snap chainSnapshot
		snap.RowID = r.RowID
		for {
			v, ok := versions.Next()
			if !ok {
				break
			}
			if v.IsWriteIntent() {
				snap.Intent = &mvcc.Intent{TxnID: v.IntentTxnID, Row: v.Row}
				continue
			}
			snap.History = append(snap.History, &mvcc.CommittedVersion{Timestamp: v.CommittedTimestamp, Row: v.Row})
		}
		out = append(out, snap)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Assembly, "marshal partition snapshot", err)
	}
	return partitionApplierSnapshot{data: data}, nil
}

func (a *partitionApplier) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var chains []chainSnapshot
	if err := json.NewDecoder(rc).Decode(&chains); err != nil {
		return kverrors.Wrap(kverrors.Assembly, "decode partition snapshot", err)
	}
	for _, c := range chains {
		for i := len(c.History) - 1; i >= 0; i-- {
			v := c.History[i]
			if err := a.storage.AddWriteCommitted(c.RowID, v.Row, v.Timestamp); err != nil {
				return err
			}
		}
		if c.Intent != nil {
			if _, err := a.storage.AddWrite(c.RowID, c.Intent.Row, c.Intent.TxnID, c.Intent.CommitTableID, c.Intent.CommitPartitionID); err != nil {
				return err
			}
		}
	}
	return nil
}

type partitionApplierSnapshot struct {
	data []byte
}

func (s partitionApplierSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s partitionApplierSnapshot) Release() {}
