package node

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cuemby/tablemesh/pkg/events"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/replica"
	"github.com/cuemby/tablemesh/pkg/types"
	"github.com/cuemby/tablemesh/pkg/wire"
	"github.com/google/uuid"
)

// nodeTransport implements replica.Transport over the wire-protocol
// TCP connections Node maintains to its peers.
type nodeTransport struct {
	n *Node
}

func (t *nodeTransport) Send(ctx context.Context, node string, req replica.Request) (replica.Response, error) {
	client, err := t.n.wireClientFor(node)
	if err != nil {
		return replica.Response{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return replica.Response{}, kverrors.Wrap(kverrors.Assembly, "marshal replica request", err)
	}

	reply, err := client.Call(ctx, wire.Message{
		Header:  wire.Header{MessageType: "replica", RequestID: newRequestID()},
		Payload: payload,
	})
	if err != nil {
		return replica.Response{}, err
	}

	var resp replica.Response
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return replica.Response{}, kverrors.Wrap(kverrors.Assembly, "unmarshal replica response", err)
	}
	return resp, nil
}

// handleWireMessage is the Node's wire.Handler: it demultiplexes
// incoming frames by message type onto the replica dispatch path and
// the CMG's cluster-state broadcast, the two kinds of traffic the
// wire protocol carries per spec §6.
func (n *Node) handleWireMessage(ctx context.Context, msg wire.Message) (wire.Message, error) {
	switch msg.Header.MessageType {
	case "replica":
		var req replica.Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return wire.Message{}, kverrors.Wrap(kverrors.Assembly, "unmarshal replica request", err)
		}
		resp := n.dispatchReplica(ctx, req)
		payload, err := json.Marshal(resp)
		if err != nil {
			return wire.Message{}, kverrors.Wrap(kverrors.Assembly, "marshal replica response", err)
		}
		return wire.Message{Header: wire.Header{MessageType: "replica", RequestID: msg.Header.RequestID}, Payload: payload}, nil

	case "cluster_state":
		var state types.ClusterState
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			return wire.Message{}, kverrors.Wrap(kverrors.Assembly, "unmarshal cluster state", err)
		}
		n.broker.Publish(&events.Event{Type: events.EventClusterReady, Message: state.ClusterName})
		return wire.Message{Header: wire.Header{MessageType: "cluster_state", RequestID: msg.Header.RequestID}}, nil

	default:
		return wire.Message{}, kverrors.New(kverrors.Assembly, "unknown wire message type: "+msg.Header.MessageType)
	}
}

func (n *Node) dispatchReplica(ctx context.Context, req replica.Request) replica.Response {
	table, part, ok := splitGroupID(req.GroupID)
	if !ok {
		return errorResponse(kverrors.Assembly, "malformed group id")
	}
	p, ok := n.partitionFor(table, part)
	if !ok {
		return errorResponse(kverrors.ReplicaUnavailable, "partition group not hosted here")
	}
	return p.dispatch(ctx, req)
}

func splitGroupID(groupID string) (table string, part uint16, ok bool) {
	idx := strings.LastIndexByte(groupID, ':')
	if idx < 0 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(groupID[idx+1:], 10, 16)
	if err != nil {
		return "", 0, false
	}
	return groupID[:idx], uint16(n), true
}

func newRequestID() string {
	return uuid.NewString()
}
