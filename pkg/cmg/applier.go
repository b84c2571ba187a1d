package cmg

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/types"
	"github.com/hashicorp/raft"
)

// command is the CMG Raft log entry payload, mirroring the teacher's
// FSM Command{Op, Data} shape.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opStateInit   = "state_init"
	opSetState    = "set_state"
	opNodeJoined  = "node_joined"
	opNodeRemoved = "node_removed"
)

// stateInitPayload is the command applied the first time init_cluster
// commits, per spec §4.7 "Init protocol": subsequent identical
// commands are idempotent no-ops.
type stateInitPayload struct {
	ClusterName string              `json:"cluster_name"`
	CMGNodes    []string            `json:"cmg_nodes"`
	MSNodes     []types.NodeDescriptor `json:"ms_nodes"`
}

// applier is the CMG's raftengine.Applier: it owns the replicated
// types.ClusterState and applies commands to it under a lock.
type applier struct {
	mu    sync.RWMutex
	state types.ClusterState
}

func newApplier() *applier {
	return &applier{state: types.NewClusterState("")}
}

func (a *applier) Apply(entry []byte) any {
	var cmd command
	if err := json.Unmarshal(entry, &cmd); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch cmd.Op {
	case opStateInit:
		if a.state.ClusterName != "" {
			return nil // idempotent: already initialized, first writer wins
		}
		var p stateInitPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		a.state.ClusterName = p.ClusterName
		for _, n := range p.MSNodes {
			a.state.Topology = a.state.Topology.WithNode(n)
		}
		return nil

	case opSetState:
		var s types.ClusterState
		if err := json.Unmarshal(cmd.Data, &s); err != nil {
			return err
		}
		a.state = s
		return nil

	case opNodeJoined:
		var n types.NodeDescriptor
		if err := json.Unmarshal(cmd.Data, &n); err != nil {
			return err
		}
		a.state.Topology = a.state.Topology.WithNode(n)
		return nil

	case opNodeRemoved:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		a.state.Topology = a.state.Topology.WithoutNode(nodeID)
		return nil

	default:
		return nil
	}
}

func (a *applier) Snapshot() (raftengine.ApplierSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, err := json.Marshal(a.state)
	if err != nil {
		return nil, err
	}
	return applierSnapshot{data: data}, nil
}

func (a *applier) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var s types.ClusterState
	if err := json.NewDecoder(rc).Decode(&s); err != nil {
		return err
	}
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	return nil
}

func (a *applier) snapshotState() types.ClusterState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

type applierSnapshot struct {
	data []byte
}

func (s applierSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s applierSnapshot) Release() {}
