package cmg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/tablemesh/pkg/events"
	"github.com/cuemby/tablemesh/pkg/log"
	"github.com/cuemby/tablemesh/pkg/types"
)

// nodeRemovalDelay is how long a disappeared node is given to
// reappear before the leader submits its removal, per spec §4.7
// "Topology reconciliation".
const nodeRemovalDelay = 10 * time.Second

const broadcastMaxAttempts = 5

// OnBecomeLeader runs once after this node wins the CMG election: it
// reconciles the logical topology against the physical one (any
// logical member absent from physical is removed) and broadcasts the
// resulting ClusterState to every remaining member.
func (c *CMG) OnBecomeLeader() {
	if c.physical == nil {
		return
	}
	present := c.physical()

	state := c.ClusterState()
	for id := range state.Topology.Nodes {
		if !present[id] {
			c.removeNode(id)
		}
	}

	c.broadcastToAll()
}

// HandleTopologyEvent reacts to a physical node appearing or
// disappearing. A node that appears is sent the current cluster
// state immediately. A node that disappears has its logical-topology
// removal scheduled after nodeRemovalDelay, cancelable if it
// reappears under the same id before the delay elapses.
func (c *CMG) HandleTopologyEvent(nodeID string, present bool) {
	c.removalMu.Lock()
	if timer, ok := c.pendingRemove[nodeID]; ok {
		timer.Stop()
		delete(c.pendingRemove, nodeID)
	}
	c.removalMu.Unlock()

	if !present {
		if !c.IsLeader() {
			return
		}
		timer := time.AfterFunc(nodeRemovalDelay, func() {
			c.removalMu.Lock()
			delete(c.pendingRemove, nodeID)
			c.removalMu.Unlock()
			c.removeNode(nodeID)
			c.broadcastToAll()
		})
		c.removalMu.Lock()
		c.pendingRemove[nodeID] = timer
		c.removalMu.Unlock()
		return
	}

	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: events.EventNodeJoined, Message: nodeID})
	}
	if !c.IsLeader() || c.sender == nil {
		return
	}
	state := c.ClusterState()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sender.SendClusterState(ctx, nodeID, state); err != nil {
		log.Logger.Warn().Str("node_id", nodeID).Err(err).Msg("failed to send cluster state to rejoining node")
	}
}

func (c *CMG) removeNode(nodeID string) {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group == nil {
		return
	}
	payload, err := json.Marshal(nodeID)
	if err != nil {
		return
	}
	entry, err := json.Marshal(command{Op: opNodeRemoved, Data: payload})
	if err != nil {
		return
	}
	if _, err := group.Apply(entry, 10*time.Second); err != nil {
		log.Logger.Warn().Str("node_id", nodeID).Err(err).Msg("failed to commit node removal")
		return
	}
	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: events.EventNodeLeft, Message: nodeID})
	}
}

// broadcastToAll sends the current ClusterState to every physical
// member, union'd with the logical topology so a node pending removal
// still hears about it. The logical topology alone would miss a node
// that crashed and lost its local CMG state entirely, per spec §4.7 —
// exactly the node that most needs to converge.
func (c *CMG) broadcastToAll() {
	if c.sender == nil {
		return
	}
	state := c.ClusterState()
	targets := make(map[string]bool, len(state.Topology.Nodes))
	for id := range state.Topology.Nodes {
		targets[id] = true
	}
	if c.physical != nil {
		for id := range c.physical() {
			targets[id] = true
		}
	}
	for id := range targets {
		go c.broadcastOne(id, state)
	}
}

func (c *CMG) broadcastOne(nodeID string, state types.ClusterState) {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < broadcastMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.sender.SendClusterState(ctx, nodeID, state)
		cancel()
		if err == nil {
			return
		}
		if !c.IsLeader() {
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	log.Logger.Warn().Str("node_id", nodeID).Msg("giving up broadcasting cluster state after repeated failures")
}
