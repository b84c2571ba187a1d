package storage

import (
	"context"
	"testing"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/schema"
	"github.com/cuemby/tablemesh/pkg/snapshot"
	"github.com/stretchr/testify/require"
)

func testSchema() schema.Schema {
	return schema.Schema{
		KeyColumns:   []schema.Column{{Name: "id", Type: schema.Int32}},
		ValueColumns: []schema.Column{{Name: "v", Type: schema.Int32}},
	}
}

func makeRow(t *testing.T, n int32) *binrow.Row {
	t.Helper()
	row, err := binrow.Assemble(testSchema(), []any{n}, []any{n})
	require.NoError(t, err)
	return row
}

func TestPersistAndLoadChainsRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), "t1", 0)
	require.NoError(t, err)
	defer store.Close()

	id := mvcc.NewRowID()
	row := makeRow(t, 7)
	ts := hlc.Timestamp{Physical: 100}
	require.NoError(t, store.PersistCommittedVersion(id, ts, row))

	ps := mvcc.New()
	require.NoError(t, store.LoadChains(ps))

	res := ps.Read(id, ts)
	require.True(t, res.IsCommitted())
}

func TestPersistAndLoadIntentRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), "t1", 0)
	require.NoError(t, err)
	defer store.Close()

	id := mvcc.NewRowID()
	row := makeRow(t, 3)
	require.NoError(t, store.PersistIntent(id, &mvcc.Intent{
		TxnID: "tx1", CommitTableID: "t1", CommitPartitionID: 0, Row: row,
	}))

	ps := mvcc.New()
	require.NoError(t, store.LoadIntents(ps))

	res := ps.Read(id, hlc.Max)
	require.True(t, res.IsWriteIntent())
	require.Equal(t, "tx1", res.IntentTxnID)
}

func TestResetStampsSentinelAndClearsData(t *testing.T) {
	store, err := Open(t.TempDir(), "t1", 0)
	require.NoError(t, err)
	defer store.Close()

	id := mvcc.NewRowID()
	require.NoError(t, store.PersistCommittedVersion(id, hlc.Timestamp{Physical: 1}, makeRow(t, 1)))

	require.NoError(t, store.Reset(context.Background()))

	partial, err := store.IsPartial()
	require.NoError(t, err)
	require.True(t, partial)

	ps := mvcc.New()
	require.NoError(t, store.LoadChains(ps))
	res := ps.Read(id, hlc.Max)
	require.True(t, res.IsEmpty())
}

func TestApplyMVPageAndStampLastIncludedIndex(t *testing.T) {
	store, err := Open(t.TempDir(), "t1", 0)
	require.NoError(t, err)
	defer store.Close()

	id := mvcc.NewRowID()
	page := snapshot.MVPage{Entries: []snapshot.MVEntry{
		{RowID: id, Row: makeRow(t, 5), Timestamp: hlc.Timestamp{Physical: 50}},
	}}
	require.NoError(t, store.ApplyMVPage(context.Background(), page))
	require.NoError(t, store.StampLastIncludedIndex(context.Background(), 99))

	idx, ok, err := store.LastIncludedIndex()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(99), idx)

	ps := mvcc.New()
	require.NoError(t, store.LoadChains(ps))
	res := ps.Read(id, hlc.Timestamp{Physical: 50})
	require.True(t, res.IsCommitted())
}
