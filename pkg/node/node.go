package node

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cuemby/tablemesh/pkg/adminhttp"
	"github.com/cuemby/tablemesh/pkg/cmg"
	"github.com/cuemby/tablemesh/pkg/config"
	"github.com/cuemby/tablemesh/pkg/events"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/metrics"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/cuemby/tablemesh/pkg/replica"
	"github.com/cuemby/tablemesh/pkg/router"
	"github.com/cuemby/tablemesh/pkg/types"
	"github.com/cuemby/tablemesh/pkg/vault"
	"github.com/cuemby/tablemesh/pkg/wire"
)

// Node is one physical tablemesh process: its Cluster Management
// Group membership, every table partition it currently hosts, and the
// services (replica dispatch, router, admin HTTP, metrics) built on
// top of them.
type Node struct {
	cfg     *config.BootstrapConfig
	version string

	vault *vault.Vault
	clock *hlc.Clock

	broker *events.Broker
	cmg    *cmg.CMG

	mu         sync.RWMutex
	partitions map[string]*Partition

	router     *router.Router
	replicaSvc *replica.Service

	wireServer  *wire.Server
	wireClients map[string]*wire.Client
	wireMu      sync.Mutex

	adminSrv  *adminhttp.Server
	collector *metrics.Collector

	clusterCfg *config.Overlay
	nodeCfg    *config.Overlay
}

// New assembles a Node from its bootstrap configuration without
// starting any network listeners.
func New(cfg *config.BootstrapConfig, version string) (*Node, error) {
	v, err := vault.Open(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	n := &Node{
		cfg:         cfg,
		version:     version,
		vault:       v,
		clock:       hlc.New(nil),
		broker:      broker,
		partitions:  make(map[string]*Partition),
		wireClients: make(map[string]*wire.Client),
		clusterCfg:  config.NewOverlay(),
		nodeCfg:     config.NewOverlay(),
	}

	physical := func() map[string]bool {
		out := map[string]bool{cfg.NodeID: true}
		for _, p := range cfg.Peers {
			out[p.NodeID] = true
		}
		return out
	}
	n.cmg = cmg.New(cfg.NodeID, cfg.Listen.CMG, cfg.Data.Dir, n, physical, broker)

	n.router = router.New(n, types.NewPartitionAssignment())
	transport := &nodeTransport{n: n}
	n.replicaSvc = replica.New(transport, n.clock, 0)

	n.adminSrv = adminhttp.New(n.cmg, n, n.physicalNodeIDs, n.clusterCfg, n.nodeCfg, cfg.NodeID, version)
	n.collector = metrics.NewCollector(n.groupSources)

	return n, nil
}

// SendClusterState implements cmg.StateSender by pushing the
// replicated cluster state to one physical member over the wire
// transport, the leader-elected callback's fan-out half.
func (n *Node) SendClusterState(ctx context.Context, nodeID string, state types.ClusterState) error {
	client, err := n.wireClientFor(nodeID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return kverrors.Wrap(kverrors.Assembly, "marshal cluster state", err)
	}
	_, err = client.Call(ctx, wire.Message{Header: wire.Header{MessageType: "cluster_state"}, Payload: payload})
	return err
}

// FetchAssignment implements router.AssignmentSource from the CMG's
// locally-replicated cluster state.
func (n *Node) FetchAssignment(ctx context.Context) (types.PartitionAssignment, error) {
	return n.cmg.ClusterState().Assignment, nil
}

// OpenPartition creates (or reopens, on restart) the Raft group and
// durable storage for one table partition this node now hosts, per a
// partition assignment change.
func (n *Node) OpenPartition(table string, part uint16, peers []raftengine.PeerConfig) (*Partition, error) {
	key := groupKey(table, part)

	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.partitions[key]; ok {
		return p, nil
	}

	raftCfg := raftengine.Config{
		NodeID:   n.cfg.NodeID,
		BindAddr: n.cfg.Listen.Raft,
		DataDir:  n.cfg.Data.Dir,
		Peers:    peers,
	}
	p, err := openPartition(n.cfg.Data.Dir, table, part, raftCfg)
	if err != nil {
		return nil, err
	}
	n.partitions[key] = p
	return p, nil
}

// Router returns the node's partition router, for a client-facing
// service built on top of Node to resolve which node owns a request.
func (n *Node) Router() *router.Router { return n.router }

// ReplicaService returns the node's replica dispatch service, for a
// client-facing service built on top of Node to invoke remote writes.
func (n *Node) ReplicaService() *replica.Service { return n.replicaSvc }

// CMG returns the node's Cluster Management Group handle.
func (n *Node) CMG() *cmg.CMG { return n.cmg }

func (n *Node) partitionFor(table string, part uint16) (*Partition, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.partitions[groupKey(table, part)]
	return p, ok
}

func (n *Node) groupSources() []metrics.GroupSource {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]metrics.GroupSource, 0, len(n.partitions)+1)
	for key, p := range n.partitions {
		out = append(out, metrics.GroupSource{
			Name: key, Group: p.Group, Raft: p.Group.Raft(),
			Table: p.Table, Part: p.PartID, Storage: p.Storage,
		})
	}
	return out
}

// physicalNodeIDs implements adminhttp.PhysicalLister: every node id
// this process knows how to reach, self included.
func (n *Node) physicalNodeIDs() []string {
	ids := make([]string, 0, len(n.cfg.Peers)+1)
	ids = append(ids, n.cfg.NodeID)
	for _, p := range n.cfg.Peers {
		ids = append(ids, p.NodeID)
	}
	return ids
}

// ResolveNode implements adminhttp.PeerResolver.
func (n *Node) ResolveNode(id string) (types.NodeDescriptor, bool) {
	if id == n.cfg.NodeID {
		return types.NodeDescriptor{ID: id, CMGAddress: n.cfg.Listen.CMG, RaftAddress: n.cfg.Listen.Raft, WireAddress: n.cfg.Listen.Wire}, true
	}
	for _, p := range n.cfg.Peers {
		if p.NodeID == id {
			return types.NodeDescriptor{ID: id, CMGAddress: p.CMG, RaftAddress: p.Raft, WireAddress: p.Wire}, true
		}
	}
	return types.NodeDescriptor{}, false
}

// ResolvePeer implements adminhttp.PeerResolver.
func (n *Node) ResolvePeer(id string) (raftengine.PeerConfig, bool) {
	if id == n.cfg.NodeID {
		return raftengine.PeerConfig{ID: id, Address: n.cfg.Listen.CMG}, true
	}
	for _, p := range n.cfg.Peers {
		if p.NodeID == id {
			return raftengine.PeerConfig{ID: id, Address: p.CMG}, true
		}
	}
	return raftengine.PeerConfig{}, false
}

func (n *Node) wireAddressFor(nodeID string) (string, bool) {
	if nodeID == n.cfg.NodeID {
		return n.cfg.Listen.Wire, true
	}
	for _, p := range n.cfg.Peers {
		if p.NodeID == nodeID {
			return p.Wire, true
		}
	}
	return "", false
}

func (n *Node) wireClientFor(nodeID string) (*wire.Client, error) {
	n.wireMu.Lock()
	defer n.wireMu.Unlock()

	if c, ok := n.wireClients[nodeID]; ok {
		return c, nil
	}
	addr, ok := n.wireAddressFor(nodeID)
	if !ok {
		return nil, kverrors.New(kverrors.ReplicaUnavailable, "unknown wire address for node "+nodeID)
	}
	client, err := wire.Dial(addr)
	if err != nil {
		return nil, err
	}
	n.wireClients[nodeID] = client
	return client, nil
}

// Start opens the wire transport, admin HTTP surface, and metrics
// collector. It does not block; the caller keeps the process alive.
func (n *Node) Start() error {
	handler := func(ctx context.Context, msg wire.Message) (wire.Message, error) {
		return n.handleWireMessage(ctx, msg)
	}
	server, err := wire.Listen(n.cfg.Listen.Wire, n.cfg.NodeID, n.cfg.NodeID, 0, handler)
	if err != nil {
		return err
	}
	n.wireServer = server
	go server.Serve()

	n.collector.Start()

	go n.adminSrv.Start(n.cfg.Listen.Admin)
	return nil
}

// Stop releases every resource Start acquired, and every hosted
// partition's Raft group and storage.
func (n *Node) Stop() {
	n.cmg.Stop()
	n.replicaSvc.Stop()
	n.collector.Stop()
	if n.wireServer != nil {
		n.wireServer.Close()
	}

	n.wireMu.Lock()
	for _, c := range n.wireClients {
		c.Close()
	}
	n.wireMu.Unlock()

	n.mu.Lock()
	for _, p := range n.partitions {
		p.Close()
	}
	n.mu.Unlock()

	n.vault.Close()
}
