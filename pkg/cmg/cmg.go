package cmg

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/tablemesh/pkg/events"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/types"
)

// InitRequest is the client-facing init_cluster call from spec §4.7.
type InitRequest struct {
	ClusterName string
	MSNodes     []types.NodeDescriptor
	CMGNodes    []raftengine.PeerConfig
}

// StateSender broadcasts the cluster state to a physical member, the
// half of the leader-elected callback that needs a transport; wired
// to pkg/wire's client in pkg/node.
type StateSender interface {
	SendClusterState(ctx context.Context, nodeID string, state types.ClusterState) error
}

// PhysicalTopology reports which node ids are currently reachable, so
// the leader-elected callback can reconcile logical against physical
// topology per spec §4.7.
type PhysicalTopology func() map[string]bool

// CMG drives one node's Cluster Management Group membership.
type CMG struct {
	nodeID  string
	dataDir string
	bindCfg raftengine.Config

	mu         sync.Mutex
	state      State
	group      *raftengine.Group
	app        *applier
	joinWaiter chan error

	sender   StateSender
	physical PhysicalTopology
	broker   *events.Broker

	removalMu     sync.Mutex
	pendingRemove map[string]*time.Timer

	cmgNodeIDs []string
}

// New creates a CMG in the Uninitialized state.
func New(nodeID, bindAddr, dataDir string, sender StateSender, physical PhysicalTopology, broker *events.Broker) *CMG {
	return &CMG{
		nodeID:  nodeID,
		dataDir: dataDir,
		bindCfg: raftengine.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir},
		state:   Uninitialized,
		sender:  sender,
		physical: physical,
		broker:  broker,
		pendingRemove: make(map[string]*time.Timer),
	}
}

func (c *CMG) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CMG) transition(next State) error {
	if !c.state.canTransitionTo(next) {
		return kverrors.New(kverrors.StateMachine, "invalid CMG transition "+c.state.String()+" -> "+next.String())
	}
	c.state = next
	return nil
}

// Init implements spec §4.7's init protocol for one recipient of
// CmgInitMessage: start (or resume) the CMG Raft service and submit a
// state-init command. The first submission wins; later ones observe
// the existing state and return nil (InitCompleteMessage-equivalent).
// Deterministic errors (empty cluster name or cmg_nodes) are returned
// as kverrors.InvalidInitArgument, the cancel-worthy kind; failures to
// create or bootstrap the Raft group are kverrors.Init, and a Raft
// apply failure is returned as-is; neither of those is cancel-worthy.
func (c *CMG) Init(req InitRequest) error {
	c.mu.Lock()
	if req.ClusterName == "" {
		c.mu.Unlock()
		return kverrors.New(kverrors.InvalidInitArgument, "cluster_name must not be empty")
	}
	if len(req.CMGNodes) == 0 {
		c.mu.Unlock()
		return kverrors.New(kverrors.InvalidInitArgument, "cmg_nodes must not be empty")
	}

	if c.state == Uninitialized {
		if err := c.transition(Initializing); err != nil {
			c.mu.Unlock()
			return err
		}
		c.bindCfg.Peers = req.CMGNodes
		c.cmgNodeIDs = make([]string, len(req.CMGNodes))
		for i, p := range req.CMGNodes {
			c.cmgNodeIDs[i] = p.ID
		}
		c.app = newApplier()
		group, err := raftengine.New(c.bindCfg, c.app)
		if err != nil {
			c.mu.Unlock()
			return kverrors.Wrap(kverrors.Init, "create CMG raft group", err)
		}
		c.group = group
		c.joinWaiter = make(chan error, 1)
		if err := group.Bootstrap(); err != nil {
			c.mu.Unlock()
			return kverrors.Wrap(kverrors.Init, "bootstrap CMG raft group", err)
		}
	} else if c.state != Initializing {
		c.mu.Unlock()
		return nil // already Validated/Ready: idempotent no-op
	}
	group := c.group
	c.mu.Unlock()

	payload, err := json.Marshal(stateInitPayload{
		ClusterName: req.ClusterName,
		MSNodes:     req.MSNodes,
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Assembly, "marshal state_init payload", err)
	}
	entry, err := json.Marshal(command{Op: opStateInit, Data: payload})
	if err != nil {
		return kverrors.Wrap(kverrors.Assembly, "marshal state_init command", err)
	}

	if _, err := group.Apply(entry, 10*time.Second); err != nil {
		return err // non-deterministic: never cancel-worthy
	}

	c.mu.Lock()
	_ = c.transition(Validated)
	if c.joinWaiter != nil {
		select {
		case c.joinWaiter <- nil:
		default:
		}
	}
	c.mu.Unlock()
	return nil
}

// CancelInit destroys local CMG state after a CancelInitMessage
// broadcast, per spec §4.7.
func (c *CMG) CancelInit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.joinWaiter != nil {
		select {
		case c.joinWaiter <- kverrors.New(kverrors.NodeStopping, "init cancelled"):
		default:
		}
	}
	if c.group != nil {
		_ = c.group.Shutdown()
		c.group = nil
	}
	c.app = nil
	c.joinWaiter = nil
	c.state = Uninitialized
	return nil
}

// MarkReady commits on_join_ready, moving Validated -> Ready once the
// node is visible in the logical topology.
func (c *CMG) MarkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(Ready)
}

// Stop fails join_future with NodeStopping and moves to Stopping, per
// spec §4.7. An Uninitialized node has no transition to Stopping and
// stays Uninitialized.
func (c *CMG) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinWaiter != nil {
		select {
		case c.joinWaiter <- kverrors.New(kverrors.NodeStopping, "node is stopping"):
		default:
		}
	}
	_ = c.transition(Stopping)
}

// ClusterState returns the CMG's current replicated state.
func (c *CMG) ClusterState() types.ClusterState {
	c.mu.Lock()
	app := c.app
	c.mu.Unlock()
	if app == nil {
		return types.NewClusterState("")
	}
	return app.snapshotState()
}

// CMGNodeIDs returns the node ids that form the CMG Raft group itself,
// as supplied to the init request that created it — distinct from the
// logical topology's metadata-storage members.
func (c *CMG) CMGNodeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cmgNodeIDs...)
}

// IsLeader reports whether this node currently leads the CMG group.
func (c *CMG) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group != nil && c.group.IsLeader()
}
