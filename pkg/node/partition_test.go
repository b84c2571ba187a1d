package node

import (
	"testing"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/lockmgr"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/schema"
	"github.com/cuemby/tablemesh/pkg/storage"
	"github.com/stretchr/testify/require"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Version:      1,
		KeyColumns:   []schema.Column{{Name: "id", Type: schema.Int64}},
		ValueColumns: []schema.Column{{Name: "name", Type: schema.String, Nullable: true}},
	}
}

func testRow(t *testing.T, id int64, name string) *binrow.Row {
	t.Helper()
	row, err := binrow.Assemble(testSchema(), []any{id}, []any{name})
	require.NoError(t, err)
	return row
}

func newTestApplier(t *testing.T) *partitionApplier {
	t.Helper()
	durable, err := storage.Open(t.TempDir(), "orders", 0)
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })
	return newPartitionApplier(mvcc.New(), lockmgr.New(), durable)
}

func TestEncodeDecodeRowRoundTrip(t *testing.T) {
	row := testRow(t, 5, "widget")
	decoded, err := decodeRow(encodeRow(row))
	require.NoError(t, err)
	require.Equal(t, row.Bytes(), decoded.Bytes())
}

func TestEncodeDecodeRowNil(t *testing.T) {
	require.Nil(t, encodeRow(nil))
	decoded, err := decodeRow(nil)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestPartitionApplierWriteCommitVisible(t *testing.T) {
	a := newTestApplier(t)
	rowID := mvcc.NewRowID()
	row := testRow(t, 1, "alpha")

	result := a.Apply(mustMarshal(t, partitionCommand{
		Op: opWrite, RowID: rowID, Row: encodeRow(row), TxnID: "tx1",
		CommitTableID: "orders", CommitPartitionID: 0,
	}))
	require.Nil(t, result)

	read := a.storage.Read(rowID, hlc.Max)
	require.True(t, read.IsWriteIntent())
	require.Equal(t, "tx1", read.IntentTxnID)

	ts := hlc.Timestamp{Physical: 100, Logical: 0}
	result = a.Apply(mustMarshal(t, partitionCommand{Op: opCommit, RowID: rowID, TxnID: "tx1", Timestamp: ts}))
	require.Nil(t, result)

	read = a.storage.Read(rowID, hlc.Max)
	require.True(t, read.IsCommitted())
	require.Equal(t, ts, read.CommittedTimestamp)
	require.Equal(t, row.Bytes(), read.Row.Bytes())
}

func TestPartitionApplierAbortDiscardsIntent(t *testing.T) {
	a := newTestApplier(t)
	rowID := mvcc.NewRowID()
	row := testRow(t, 2, "beta")

	a.Apply(mustMarshal(t, partitionCommand{Op: opWrite, RowID: rowID, Row: encodeRow(row), TxnID: "tx2"}))
	result := a.Apply(mustMarshal(t, partitionCommand{Op: opAbort, RowID: rowID, TxnID: "tx2"}))
	require.Nil(t, result)

	read := a.storage.Read(rowID, hlc.Max)
	require.True(t, read.IsEmpty())
}

func TestPartitionApplierRejectsUnknownOp(t *testing.T) {
	a := newTestApplier(t)
	result := a.Apply(mustMarshal(t, partitionCommand{Op: "bogus"}))
	err, ok := result.(error)
	require.True(t, ok)
	require.True(t, kverrors.Is(err, kverrors.Assembly))
}

func TestPartitionApplierSnapshotRestoreRoundTrip(t *testing.T) {
	a := newTestApplier(t)
	committedID := mvcc.NewRowID()
	intentID := mvcc.NewRowID()

	a.Apply(mustMarshal(t, partitionCommand{Op: opWrite, RowID: committedID, Row: encodeRow(testRow(t, 10, "gamma")), TxnID: "tx3"}))
	a.Apply(mustMarshal(t, partitionCommand{Op: opCommit, RowID: committedID, TxnID: "tx3", Timestamp: hlc.Timestamp{Physical: 5}}))
	a.Apply(mustMarshal(t, partitionCommand{Op: opWrite, RowID: intentID, Row: encodeRow(testRow(t, 11, "delta")), TxnID: "tx4"}))

	snap, err := a.Snapshot()
	require.NoError(t, err)

	restored := newTestApplier(t)
	require.NoError(t, restored.Restore(snapshotReadCloser(t, snap)))

	committedRead := restored.storage.Read(committedID, hlc.Max)
	require.True(t, committedRead.IsCommitted())

	intentRead := restored.storage.Read(intentID, hlc.Max)
	require.True(t, intentRead.IsWriteIntent())
	require.Equal(t, "tx4", intentRead.IntentTxnID)
}
