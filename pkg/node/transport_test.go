package node

import (
	"context"
	"testing"

	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/replica"
	"github.com/stretchr/testify/require"
)

func TestDispatchReplicaRejectsMalformedGroupID(t *testing.T) {
	n := &Node{partitions: make(map[string]*Partition)}
	resp := n.dispatchReplica(context.Background(), replica.Request{GroupID: "not-a-group-id"})
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.Assembly, resp.Error.Kind)
}

func TestDispatchReplicaRejectsUnhostedPartition(t *testing.T) {
	n := &Node{partitions: make(map[string]*Partition)}
	resp := n.dispatchReplica(context.Background(), replica.Request{GroupID: groupKey("orders", 3)})
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.ReplicaUnavailable, resp.Error.Kind)
}

func TestDispatchReplicaRoutesToHostedPartition(t *testing.T) {
	n := &Node{partitions: map[string]*Partition{
		groupKey("orders", 3): {},
	}}
	resp := n.dispatchReplica(context.Background(), replica.Request{GroupID: groupKey("orders", 3), Op: "bogus"})
	require.NotNil(t, resp.Error)
	require.Equal(t, kverrors.Assembly, resp.Error.Kind)
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := newRequestID()
	b := newRequestID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
