package snapshot

import (
	"context"
	"testing"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/schema"
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
	row, err := binrow.Assemble(testSchema(), []any{n}, []any{n * 10})
	require.NoError(t, err)
	return row
}

func TestOutgoingSnapshotPagesAllCommittedRows(t *testing.T) {
	storage := mvcc.New()
	ts := hlc.Timestamp{Physical: 100}
	for i := 0; i < 5; i++ {
		id := mvcc.NewRowID()
		row := makeRow(t, int32(i))
		_, err := storage.AddWrite(id, row, "tx1", "t", 0)
		require.NoError(t, err)
		require.NoError(t, storage.CommitWrite(id, ts))
	}

	snap := NewOutgoingSnapshot(storage, ts, 2, 0)
	total := 0
	for {
		page, err := snap.NextPage(context.Background())
		require.NoError(t, err)
		total += len(page.Entries)
		if page.Done {
			break
		}
	}
	require.Equal(t, 5, total)
}

type fakeSource struct {
	meta     Meta
	mvPages  []MVPage
	txPages  []TxStatePage
	mvIdx    int
	txIdx    int
}

func (f *fakeSource) RequestMeta(ctx context.Context) (Meta, error) { return f.meta, nil }

func (f *fakeSource) NextMVPage(ctx context.Context) (MVPage, error) {
	if f.mvIdx >= len(f.mvPages) {
		return MVPage{Done: true}, nil
	}
	p := f.mvPages[f.mvIdx]
	f.mvIdx++
	return p, nil
}

func (f *fakeSource) NextTxStatePage(ctx context.Context) (TxStatePage, error) {
	if f.txIdx >= len(f.txPages) {
		return TxStatePage{Done: true}, nil
	}
	p := f.txPages[f.txIdx]
	f.txIdx++
	return p, nil
}

type fakeTarget struct {
	resetCalled  bool
	mvApplied    int
	txApplied    int
	stampedIndex uint64
}

func (f *fakeTarget) Reset(ctx context.Context) error { f.resetCalled = true; return nil }
func (f *fakeTarget) ApplyMVPage(ctx context.Context, page MVPage) error {
	f.mvApplied += len(page.Entries)
	return nil
}
func (f *fakeTarget) ApplyTxStatePage(ctx context.Context, page TxStatePage) error {
	f.txApplied += len(page.Entries)
	return nil
}
func (f *fakeTarget) StampLastIncludedIndex(ctx context.Context, index uint64) error {
	f.stampedIndex = index
	return nil
}

func TestIncomingCopierRunsAllPhases(t *testing.T) {
	source := &fakeSource{
		meta: Meta{LastIncludedIndex: 42},
		mvPages: []MVPage{
			{Entries: []MVEntry{{RowID: mvcc.NewRowID()}}},
			{Entries: []MVEntry{{RowID: mvcc.NewRowID()}}, Done: true},
		},
		txPages: []TxStatePage{
			{Entries: []TxStateEntry{{TxID: "tx1"}}, Done: true},
		},
	}
	target := &fakeTarget{}
	copier := NewIncomingCopier(source, target)

	require.NoError(t, copier.Join(context.Background()))
	require.True(t, target.resetCalled)
	require.Equal(t, 2, target.mvApplied)
	require.Equal(t, 1, target.txApplied)
	require.Equal(t, uint64(42), target.stampedIndex)
}

func TestIncomingCopierCancelSurfacesCancelled(t *testing.T) {
	source := &fakeSource{meta: Meta{LastIncludedIndex: 1}}
	target := &fakeTarget{}
	copier := NewIncomingCopier(source, target)
	copier.Cancel()

	err := copier.Join(context.Background())
	require.Error(t, err)
}
