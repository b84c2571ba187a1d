package router

import (
	"context"
	"testing"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/schema"
	"github.com/cuemby/tablemesh/pkg/types"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, id int64) *binrow.Row {
	t.Helper()
	s := schema.Schema{KeyColumns: []schema.Column{{Name: "id", Type: schema.Int64}}}
	row, err := binrow.Assemble(s, []any{id}, nil)
	require.NoError(t, err)
	return row
}

func TestRouteResolvesAssignedNode(t *testing.T) {
	assignment := types.NewPartitionAssignment().WithAssignment("t1", 0, "n1")
	for p := uint16(0); p < 16; p++ {
		assignment = assignment.WithAssignment("t1", p, "n1")
	}
	r := New(nil, assignment)

	node, _, err := r.Route("t1", testKey(t, 7), "", 16)
	require.NoError(t, err)
	require.Equal(t, "n1", node)
}

func TestRouteReusesPinnedNodeForTransaction(t *testing.T) {
	assignment := types.NewPartitionAssignment()
	for p := uint16(0); p < 16; p++ {
		assignment = assignment.WithAssignment("t1", p, "n1")
	}
	r := New(nil, assignment)

	node1, part1, err := r.Route("t1", testKey(t, 1), "tx1", 16)
	require.NoError(t, err)

	// Change the assignment after the first call; a pinned transaction
	// must keep routing to the originally selected node.
	r.mu.Lock()
	r.assignment = r.assignment.WithAssignment("t1", part1, "n2")
	r.mu.Unlock()

	node2, part2, err := r.Route("t1", testKey(t, 999), "tx1", 16)
	require.NoError(t, err)
	require.Equal(t, node1, node2)
	_ = part2

	r.ReleaseTransaction("tx1")
	r.mu.RLock()
	_, stillPinned := r.pinned["tx1"]
	r.mu.RUnlock()
	require.False(t, stillPinned)
}

func TestRouteUnassignedPartitionErrors(t *testing.T) {
	r := New(nil, types.NewPartitionAssignment())
	_, _, err := r.Route("t1", testKey(t, 1), "", 16)
	require.Error(t, err)
}

type fakeAssignmentSource struct {
	assignment types.PartitionAssignment
}

func (f *fakeAssignmentSource) FetchAssignment(ctx context.Context) (types.PartitionAssignment, error) {
	return f.assignment, nil
}

func TestObserveResponseFlagRefreshesAssignment(t *testing.T) {
	fresh := types.NewPartitionAssignment().WithAssignment("t1", 0, "n9")
	r := New(&fakeAssignmentSource{assignment: fresh}, types.NewPartitionAssignment())

	require.NoError(t, r.ObserveResponseFlag(context.Background(), true))

	node, ok := r.assignment.NodeFor("t1", 0)
	require.True(t, ok)
	require.Equal(t, "n9", node)
}

func TestReadFloorTracksLatestObservedTimestamp(t *testing.T) {
	r := New(nil, types.NewPartitionAssignment())
	r.ObserveTimestamp("t1", 0, hlc.Timestamp{Physical: 5})
	r.ObserveTimestamp("t1", 0, hlc.Timestamp{Physical: 3})
	r.ObserveTimestamp("t1", 0, hlc.Timestamp{Physical: 10})

	require.Equal(t, hlc.Timestamp{Physical: 10}, r.ReadFloor("t1", 0))
}
