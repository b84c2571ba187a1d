package mvcc

import (
	"testing"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/schema"
	"github.com/stretchr/testify/require"
)

func testSchema() schema.Schema {
	return schema.Schema{
		Version:    1,
		KeyColumns: []schema.Column{{Name: "id", Type: schema.Int64}},
		ValueColumns: []schema.Column{
			{Name: "note", Type: schema.String, Nullable: true},
		},
	}
}

func makeRow(t *testing.T, id int64, note string) *binrow.Row {
	t.Helper()
	row, err := binrow.Assemble(testSchema(), []any{id}, []any{note})
	require.NoError(t, err)
	return row
}

func TestAddWriteTxIDMismatch(t *testing.T) {
	s := New()
	id := NewRowID()
	row := makeRow(t, 1, "a")

	_, err := s.AddWrite(id, row, "txn-1", "t", 0)
	require.NoError(t, err)

	_, err = s.AddWrite(id, makeRow(t, 1, "b"), "txn-2", "t", 0)
	require.Error(t, err)
	require.Equal(t, kverrors.TxIDMismatch, kverrors.Classify(err))
}

func TestAddWriteSameTxnReturnsPrevious(t *testing.T) {
	s := New()
	id := NewRowID()

	prev, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.Nil(t, prev)

	prev, err = s.AddWrite(id, makeRow(t, 1, "b"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NotNil(t, prev)
}

func TestAbortWriteRestoresPriorCommittedRead(t *testing.T) {
	s := New()
	id := NewRowID()
	clock := hlc.New(func() uint64 { return 1 })
	t0 := clock.Now()

	_, err := s.AddWrite(id, makeRow(t, 1, "committed"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitWrite(id, t0))

	_, err = s.AddWrite(id, makeRow(t, 1, "in-flight"), "txn-2", "t", 0)
	require.NoError(t, err)

	res := s.Read(id, hlc.Max)
	require.True(t, res.IsWriteIntent())

	require.NoError(t, s.AbortWrite(id))

	res = s.Read(id, hlc.Max)
	require.True(t, res.IsCommitted())
	require.Equal(t, t0, res.CommittedTimestamp)
}

func TestAbortWriteRemovesEmptyChain(t *testing.T) {
	s := New()
	id := NewRowID()

	_, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.AbortWrite(id))

	_, ok := s.ClosestRowID(RowID{})
	require.False(t, ok)
}

func TestCommitWriteVisibleAtLaterTimestamp(t *testing.T) {
	s := New()
	id := NewRowID()
	clock := hlc.New(func() uint64 { return 100 })
	t0 := clock.Now()

	_, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitWrite(id, t0))

	t1 := clock.Now()
	res := s.Read(id, t1)
	require.True(t, res.IsCommitted())
	require.Equal(t, t0, res.CommittedTimestamp)

	res = s.Read(id, hlc.Zero)
	require.True(t, res.IsEmpty())
}

func TestCommitWriteRejectsNonIncreasingTimestamp(t *testing.T) {
	s := New()
	id := NewRowID()
	clock := hlc.New(func() uint64 { return 100 })
	t1 := clock.Now()
	t0 := hlc.Timestamp{Physical: t1.Physical - 1}

	_, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitWrite(id, t1))

	_, err = s.AddWrite(id, makeRow(t, 1, "b"), "txn-1", "t", 0)
	require.NoError(t, err)
	err = s.CommitWrite(id, t0)
	require.Error(t, err)
	require.Equal(t, kverrors.Storage, kverrors.Classify(err))
}

func TestCommitWriteNoIntentFails(t *testing.T) {
	s := New()
	id := NewRowID()
	err := s.CommitWrite(id, hlc.Zero)
	require.Error(t, err)
}

func TestAddWriteCommittedKeepsNewestFirst(t *testing.T) {
	s := New()
	id := NewRowID()
	clock := hlc.New(func() uint64 { return 10 })
	t0 := clock.Now()
	t1 := clock.Now()
	t2 := clock.Now()

	require.NoError(t, s.AddWriteCommitted(id, makeRow(t, 1, "mid"), t1))
	require.NoError(t, s.AddWriteCommitted(id, makeRow(t, 1, "oldest"), t0))
	require.NoError(t, s.AddWriteCommitted(id, makeRow(t, 1, "newest"), t2))

	cur := s.ScanVersions(id)
	var last hlc.Timestamp
	first := true
	for {
		res, ok := cur.Next()
		if !ok {
			break
		}
		if !first {
			require.True(t, res.CommittedTimestamp.Less(last) || res.CommittedTimestamp == last)
		}
		last = res.CommittedTimestamp
		first = false
	}
}

func TestAddWriteCommittedRejectsWhenIntentPresent(t *testing.T) {
	s := New()
	id := NewRowID()
	_, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)

	err = s.AddWriteCommitted(id, makeRow(t, 1, "b"), hlc.Zero)
	require.Error(t, err)
	require.Equal(t, kverrors.Storage, kverrors.Classify(err))
}

func TestClosestRowIDOrdering(t *testing.T) {
	s := New()
	var ids []RowID
	for i := 0; i < 5; i++ {
		id := NewRowID()
		ids = append(ids, id)
		_, err := s.AddWrite(id, makeRow(t, int64(i), "x"), "txn-1", "t", 0)
		require.NoError(t, err)
	}

	lowest := ids[0]
	for _, id := range ids[1:] {
		if id.Less(lowest) {
			lowest = id
		}
	}
	closest, ok := s.ClosestRowID(RowID{})
	require.True(t, ok)
	require.Equal(t, lowest, closest)
}

func TestScanSkipsEmptyChains(t *testing.T) {
	s := New()
	id1 := NewRowID()
	id2 := NewRowID()

	_, err := s.AddWrite(id1, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitWrite(id1, hlc.Timestamp{Physical: 1}))

	_, err = s.AddWrite(id2, makeRow(t, 2, "b"), "txn-2", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.AbortWrite(id2))

	cur := s.Scan(hlc.Max)
	count := 0
	for {
		_, ok := cur.Next()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 1, count)
}

func TestRunConsistentlyAtomicReadModifyWrite(t *testing.T) {
	s := New()
	id := NewRowID()
	clock := hlc.New(func() uint64 { return 5 })
	t0 := clock.Now()

	s.RunConsistently(func(ops *Ops) {
		_, err := ops.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
		require.NoError(t, err)
		require.NoError(t, ops.CommitWrite(id, t0))
	})

	res := s.Read(id, hlc.Max)
	require.True(t, res.IsCommitted())
}

func TestRunConsistentlyTxIDMismatchSurfaces(t *testing.T) {
	s := New()
	id := NewRowID()
	_, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)

	var gotErr error
	s.RunConsistently(func(ops *Ops) {
		_, gotErr = ops.AddWrite(id, makeRow(t, 1, "b"), "txn-2", "t", 0)
	})
	require.Error(t, gotErr)
	require.Equal(t, kverrors.TxIDMismatch, kverrors.Classify(gotErr))
}

func TestHookObservesMutations(t *testing.T) {
	s := New()
	var observed []RowID
	s.AddHook(hookFunc(func(id RowID, _ func(hlc.Timestamp) ReadResult) { observed = append(observed, id) }))

	id := NewRowID()
	_, err := s.AddWrite(id, makeRow(t, 1, "a"), "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitWrite(id, hlc.Timestamp{Physical: 1}))
	require.NoError(t, s.AbortWrite(id))

	require.Len(t, observed, 2)
}

type hookFunc func(RowID, func(hlc.Timestamp) ReadResult)

func (f hookFunc) BeforeMutate(id RowID, read func(hlc.Timestamp) ReadResult) { f(id, read) }

func TestTombstoneIsEmptyPayloadCommittedVersion(t *testing.T) {
	s := New()
	id := NewRowID()
	empty, err := binrow.Assemble(testSchema(), []any{int64(1)}, []any{nil})
	require.NoError(t, err)

	_, err = s.AddWrite(id, empty, "txn-1", "t", 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitWrite(id, hlc.Timestamp{Physical: 1}))

	res := s.Read(id, hlc.Max)
	require.True(t, res.IsCommitted())
	require.NotNil(t, res.Row)
}
