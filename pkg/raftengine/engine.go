package raftengine

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// State mirrors spec §4.5's state set, adding the terminal Error state
// that hashicorp/raft itself has no notion of.
type State int

const (
	Follower State = iota
	Candidate
	Leader
	Error
)

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

func fromRaftState(s raft.RaftState) State {
	switch s {
	case raft.Follower:
		return Follower
	case raft.Candidate:
		return Candidate
	case raft.Leader:
		return Leader
	default:
		return Follower
	}
}

// Group is one Raft-replicated group: a partition's log, or the
// cluster management group's bootstrap log.
type Group struct {
	cfg     Config
	raft    *raft.Raft
	trans   *raft.NetworkTransport
	applier Applier

	priority *priorityController

	faulted bool
}

// New creates a Group over its transport and stores without forming or
// resuming it: the caller follows with Bootstrap for a new group or
// Resume on restart, which also start the priority control loop.
func New(cfg Config, applier Applier) (*Group, error) {
	cfg.setDefaults()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	raftCfg.ElectionTimeout = cfg.ElectionTimeout
	raftCfg.CommitTimeout = cfg.CommitTimeout
	raftCfg.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Init, "resolve bind address", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Init, "create raft transport", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Init, "create snapshot store", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Init, "create raft log store", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Init, "create raft stable store", err)
	}

	fsm := &fsmAdapter{applier: applier}
	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Init, "create raft instance", err)
	}

	g := &Group{cfg: cfg, raft: r, trans: transport, applier: applier}
	g.priority = newPriorityController(g)
	return g, nil
}

// Bootstrap forms a brand-new group out of cfg.Peers. Safe to call
// only once per group's lifetime; re-bootstrapping an existing log
// returns an error the caller should treat as already-initialized.
func (g *Group) Bootstrap() error {
	servers := make([]raft.Server, 0, len(g.cfg.Peers))
	for _, p := range g.cfg.Peers {
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(p.ID),
			Address: raft.ServerAddress(p.Address),
		})
	}
	future := g.raft.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil {
		return kverrors.Wrap(kverrors.Init, "bootstrap raft group", err)
	}
	g.priority.start()
	return nil
}

// Resume starts the priority/backoff control loop against an already
// bootstrapped log (the restart path).
func (g *Group) Resume() {
	g.priority.start()
}

func (g *Group) State() State {
	if g.faulted {
		return Error
	}
	return fromRaftState(g.raft.State())
}

// Fault transitions the group to the terminal Error state after the
// state machine reports a deterministic fault, per spec §4.5 "Any →
// Error".
func (g *Group) Fault() {
	g.faulted = true
	g.priority.stop()
}

func (g *Group) IsLeader() bool { return g.raft.State() == raft.Leader }

// Raft returns the underlying hashicorp/raft instance, for metrics
// collection (pkg/metrics.GroupSource.Raft) and diagnostics; domain
// code should prefer Group's own methods over reaching through this.
func (g *Group) Raft() *raft.Raft { return g.raft }

func (g *Group) LeaderAddress() string {
	addr, _ := g.raft.LeaderWithID()
	return string(addr)
}

// Apply submits entry to the log and maps hashicorp/raft's outcome
// onto spec §4.5's failure semantics: Busy when the apply submission
// overflowed the disruptor-equivalent buffer, Timeout on deadline.
func (g *Group) Apply(entry []byte, timeout time.Duration) (any, error) {
	future := g.raft.Apply(entry, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrEnqueueTimeout {
			return nil, kverrors.Wrap(kverrors.Busy, "apply enqueue timed out", err)
		}
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return nil, kverrors.Wrap(kverrors.ReplicaUnavailable, "not leader", err)
		}
		return nil, kverrors.Wrap(kverrors.Timeout, "apply failed", err)
	}
	return future.Response(), nil
}

// ChangePeers adds every peer in peers as a voter, one AddVoter call at
// a time; current voters missing from peers are not removed. A peer
// not in the physical topology fails with CatchUp before any change,
// and a configuration identical to the current one returns nil
// without changes. Busy is returned only when hashicorp/raft reports
// leadership lost during an AddVoter; a change already in flight is
// not detected otherwise, and no term is taken, so stale-term
// submissions are not told apart. Other failures are Storage.
func (g *Group) ChangePeers(peers []PeerConfig, physicalTopology map[string]bool) error {
	for _, p := range peers {
		if physicalTopology != nil && !physicalTopology[p.ID] {
			return kverrors.New(kverrors.CatchUp, "peer not present in physical topology: "+p.ID)
		}
	}

	cfgFuture := g.raft.GetConfiguration()
	if err := cfgFuture.Error(); err != nil {
		return kverrors.Wrap(kverrors.Storage, "read current configuration", err)
	}
	current := cfgFuture.Configuration()
	if sameServers(current.Servers, peers) {
		return nil // identical configuration: Ok no-op
	}

	for _, p := range peers {
		future := g.raft.AddVoter(raft.ServerID(p.ID), raft.ServerAddress(p.Address), 0, 10*time.Second)
		if err := future.Error(); err != nil {
			if err == raft.ErrLeadershipLost {
				return kverrors.Wrap(kverrors.Busy, "configuration change already in flight", err)
			}
			return kverrors.Wrap(kverrors.Storage, "apply configuration change", err)
		}
	}
	return nil
}

func sameServers(servers []raft.Server, peers []PeerConfig) bool {
	if len(servers) != len(peers) {
		return false
	}
	want := make(map[string]string, len(peers))
	for _, p := range peers {
		want[p.ID] = p.Address
	}
	for _, s := range servers {
		addr, ok := want[string(s.ID)]
		if !ok || addr != string(s.Address) {
			return false
		}
	}
	return true
}

func hasServer(servers []raft.Server, id string) bool {
	for _, s := range servers {
		if string(s.ID) == id {
			return true
		}
	}
	return false
}

// Shutdown stops the group's control loop and the underlying raft
// instance.
func (g *Group) Shutdown() error {
	g.priority.stop()
	return g.raft.Shutdown().Error()
}
