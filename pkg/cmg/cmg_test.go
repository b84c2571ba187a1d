package cmg

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/tablemesh/pkg/events"
	"github.com/cuemby/tablemesh/pkg/types"
)

type noopSender struct{}

func (noopSender) SendClusterState(ctx context.Context, nodeID string, state types.ClusterState) error {
	return nil
}

func newTestCMG() *CMG {
	broker := events.NewBroker()
	broker.Start()
	return New("n1", "127.0.0.1:0", "", noopSender{}, func() map[string]bool { return nil }, broker)
}

func TestInitRejectsEmptyClusterName(t *testing.T) {
	c := newTestCMG()
	err := c.Init(InitRequest{})
	if err == nil {
		t.Fatal("expected error for empty cluster name")
	}
	if c.State() != Uninitialized {
		t.Fatalf("state must remain Uninitialized, got %s", c.State())
	}
}

func TestInitRejectsEmptyCMGNodes(t *testing.T) {
	c := newTestCMG()
	err := c.Init(InitRequest{ClusterName: "prod"})
	if err == nil {
		t.Fatal("expected error for empty cmg_nodes")
	}
}

func TestCancelInitResetsState(t *testing.T) {
	c := newTestCMG()
	c.mu.Lock()
	c.state = Initializing
	c.mu.Unlock()

	if err := c.CancelInit(); err != nil {
		t.Fatalf("cancel init: %v", err)
	}
	if c.State() != Uninitialized {
		t.Fatalf("expected Uninitialized after cancel, got %s", c.State())
	}
}

func TestHandleTopologyEventNodeAppearsPublishesJoined(t *testing.T) {
	c := newTestCMG()
	sub := c.broker.Subscribe()
	defer c.broker.Unsubscribe(sub)

	c.HandleTopologyEvent("n2", true)

	select {
	case ev := <-sub:
		if ev.Type != events.EventNodeJoined || ev.Message != "n2" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a node-joined event")
	}
}

func TestHandleTopologyEventDisappearWithoutLeadershipSchedulesNothing(t *testing.T) {
	c := newTestCMG()
	c.HandleTopologyEvent("n2", false)

	c.removalMu.Lock()
	defer c.removalMu.Unlock()
	if len(c.pendingRemove) != 0 {
		t.Fatal("non-leader must not schedule node removal")
	}
}

func TestHandleTopologyEventReappearanceCancelsPendingRemoval(t *testing.T) {
	c := newTestCMG()

	c.removalMu.Lock()
	c.pendingRemove["n2"] = time.AfterFunc(time.Hour, func() {})
	c.removalMu.Unlock()

	c.HandleTopologyEvent("n2", true)

	c.removalMu.Lock()
	defer c.removalMu.Unlock()
	if _, ok := c.pendingRemove["n2"]; ok {
		t.Fatal("expected pending removal cleared on reappearance")
	}
}
