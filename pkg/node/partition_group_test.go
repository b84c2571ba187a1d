package node

import (
	"context"
	"testing"

	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/lockmgr"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/replica"
	"github.com/stretchr/testify/require"
)

func TestGroupKeySplitRoundTrip(t *testing.T) {
	table, part, ok := splitGroupID(groupKey("orders", 7))
	require.True(t, ok)
	require.Equal(t, "orders", table)
	require.Equal(t, uint16(7), part)
}

func TestSplitGroupIDRejectsMalformed(t *testing.T) {
	_, _, ok := splitGroupID("no-colon-here")
	require.False(t, ok)

	_, _, ok = splitGroupID("orders:not-a-number")
	require.False(t, ok)
}

func TestExecuteWriteFailsOnLockConflict(t *testing.T) {
	locks := lockmgr.New()
	p := &Partition{Locks: locks, rowLocker: lockmgr.NewHashLocker(locks, "row", true)}

	rowID := mvcc.NewRowID()
	require.NoError(t, p.rowLocker.Insert(context.Background(), rowID[:], "tx-holder"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.ExecuteWrite(ctx, rowID, testRow(t, 1, "x"), "tx-other", "orders", 0)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.LockConflict))
}

func TestErrorResponseFromKnownKind(t *testing.T) {
	resp := errorResponseFrom(kverrors.New(kverrors.Storage, "boom"))
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.Storage, resp.Error.Kind)
	require.Equal(t, "boom", resp.Error.Message)
}

func TestErrorResponseFromUnknownErrorType(t *testing.T) {
	resp := errorResponseFrom(context.DeadlineExceeded)
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.Unknown, resp.Error.Kind)
}

func TestDispatchRejectsUnknownOp(t *testing.T) {
	p := &Partition{}
	resp := p.dispatch(context.Background(), replica.Request{Op: "bogus"})
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.Assembly, resp.Error.Kind)
}

func TestDispatchRejectsMalformedWritePayload(t *testing.T) {
	p := &Partition{}
	resp := p.dispatch(context.Background(), replica.Request{Op: string(opWrite), Payload: []byte("not json")})
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.Assembly, resp.Error.Kind)
}
