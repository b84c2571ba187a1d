package node

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/lockmgr"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/replica"
	"github.com/cuemby/tablemesh/pkg/storage"
)

// applyTimeout bounds how long a partition command waits for its
// Raft group to commit, mirroring the CMG init path's own 10s budget.
const applyTimeout = 10 * time.Second

// groupKey formats the (table, partition) pair addressed by
// replica.Request.GroupID and router.Router's return values.
func groupKey(table string, partition uint16) string {
	return table + ":" + strconv.FormatUint(uint64(partition), 10)
}

// Partition bundles one hosted table partition's full stack: the
// in-memory version chains, the index lock manager guarding proposals
// against each other, durable persistence, and the Raft group that
// replicates commands across the partition's peers.
type Partition struct {
	Table     string
	PartID    uint16
	Storage   *mvcc.PartitionStorage
	Locks     *lockmgr.LockManager
	Durable   *storage.Store
	Group     *raftengine.Group
	rowLocker *lockmgr.HashLocker
}

// openPartition opens (or creates) one partition's on-disk state,
// replays it into memory, and creates its Raft group.
func openPartition(dataDir, table string, part uint16, cfg raftengine.Config) (*Partition, error) {
	durable, err := storage.Open(dataDir, table, part)
	if err != nil {
		return nil, err
	}

	partial, err := durable.IsPartial()
	if err != nil {
		durable.Close()
		return nil, err
	}
	if partial {
		// A prior snapshot install (spec §4.8) crashed between Reset's
		// sentinel and StampLastIncludedIndex clearing it: the MV/intent
		// buckets hold a partial copy. Discard it rather than load it;
		// the partition comes up empty and its Raft group's own
		// lagging-follower detection re-requests a fresh install.
		if err := durable.Reset(context.Background()); err != nil {
			durable.Close()
			return nil, err
		}
	}

	ps := mvcc.New()
	if err := durable.LoadChains(ps); err != nil {
		durable.Close()
		return nil, err
	}
	if err := durable.LoadIntents(ps); err != nil {
		durable.Close()
		return nil, err
	}

	locks := lockmgr.New()
	applier := newPartitionApplier(ps, locks, durable)

	cfg.DataDir = filepath.Join(cfg.DataDir, groupKey(table, part))
	group, err := raftengine.New(cfg, applier)
	if err != nil {
		durable.Close()
		return nil, err
	}

	return &Partition{
		Table: table, PartID: part,
		Storage: ps, Locks: locks, Durable: durable, Group: group,
		rowLocker: lockmgr.NewHashLocker(locks, "row", true),
	}, nil
}

// writePayload is the opaque Payload carried by an Op == "write"
// replica.Request/partition command.
type writePayload struct {
	RowID             mvcc.RowID `json:"row_id"`
	Row               []byte     `json:"row,omitempty"`
	CommitTableID     string     `json:"commit_table_id,omitempty"`
	CommitPartitionID uint16     `json:"commit_partition_id,omitempty"`
}

// rowPayload is the opaque Payload carried by Op == "commit"/"abort".
type rowPayload struct {
	RowID mvcc.RowID `json:"row_id"`
}

// ExecuteWrite proposes a write intent for rowID under txnID, taking
// the row's unique-index lock first so concurrent proposers on this
// node serialize before either reaches the Raft log, per spec §4.4.
func (p *Partition) ExecuteWrite(ctx context.Context, rowID mvcc.RowID, row *binrow.Row, txnID, commitTable string, commitPartition uint16) error {
	if err := p.rowLocker.Insert(ctx, rowID[:], txnID); err != nil {
		return kverrors.Wrap(kverrors.LockConflict, "acquire row lock for write", err)
	}
	cmd := partitionCommand{
		Op: opWrite, RowID: rowID, Row: encodeRow(row), TxnID: txnID,
		CommitTableID: commitTable, CommitPartitionID: commitPartition,
	}
	return p.apply(cmd)
}

// ExecuteCommit converts rowID's intent into a committed version at
// ts, releasing its lock once the Raft group has applied the command.
func (p *Partition) ExecuteCommit(ctx context.Context, rowID mvcc.RowID, txnID string, ts hlc.Timestamp) error {
	cmd := partitionCommand{Op: opCommit, RowID: rowID, TxnID: txnID, Timestamp: ts}
	return p.apply(cmd)
}

// ExecuteAbort discards rowID's intent, releasing its lock.
func (p *Partition) ExecuteAbort(ctx context.Context, rowID mvcc.RowID, txnID string) error {
	cmd := partitionCommand{Op: opAbort, RowID: rowID, TxnID: txnID}
	return p.apply(cmd)
}

func (p *Partition) apply(cmd partitionCommand) error {
	entry, err := json.Marshal(cmd)
	if err != nil {
		return kverrors.Wrap(kverrors.Assembly, "marshal partition command", err)
	}
	result, err := p.Group.Apply(entry, applyTimeout)
	if err != nil {
		return err
	}
	if applyErr, ok := result.(error); ok && applyErr != nil {
		return applyErr
	}
	return nil
}

// dispatch applies one replica request against this partition,
// translating it into the matching Execute call and shaping a
// replica.Response, the local-apply half of the wire handler in
// transport.go.
func (p *Partition) dispatch(ctx context.Context, req replica.Request) replica.Response {
	switch req.Op {
	case string(opWrite):
		var payload writePayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return errorResponse(kverrors.Assembly, "decode write payload")
		}
		row, err := decodeRow(payload.Row)
		if err != nil {
			return errorResponse(kverrors.Assembly, "decode write row")
		}
		if err := p.ExecuteWrite(ctx, payload.RowID, row, req.TxID, payload.CommitTableID, payload.CommitPartitionID); err != nil {
			return errorResponseFrom(err)
		}
		return replica.Response{Timestamp: req.Timestamp}

	case string(opCommit):
		var payload rowPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return errorResponse(kverrors.Assembly, "decode commit payload")
		}
		if err := p.ExecuteCommit(ctx, payload.RowID, req.TxID, req.Timestamp); err != nil {
			return errorResponseFrom(err)
		}
		return replica.Response{Timestamp: req.Timestamp}

	case string(opAbort):
		var payload rowPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return errorResponse(kverrors.Assembly, "decode abort payload")
		}
		if err := p.ExecuteAbort(ctx, payload.RowID, req.TxID); err != nil {
			return errorResponseFrom(err)
		}
		return replica.Response{Timestamp: req.Timestamp}

	default:
		return errorResponse(kverrors.Assembly, "unknown replica op")
	}
}

func errorResponse(kind kverrors.Kind, msg string) replica.Response {
	return replica.Response{Error: &replica.ErrorReplicaResponse{Kind: kind, Message: msg}}
}

func errorResponseFrom(err error) replica.Response {
	if kerr, ok := err.(*kverrors.Error); ok {
		return errorResponse(kerr.Kind, kerr.Msg)
	}
	return errorResponse(kverrors.Unknown, err.Error())
}

// Close shuts down the partition's Raft group and durable storage.
func (p *Partition) Close() error {
	if err := p.Group.Shutdown(); err != nil {
		return err
	}
	return p.Durable.Close()
}
