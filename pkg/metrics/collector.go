package metrics

import (
	"strconv"
	"time"

	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/raftengine"
	"github.com/hashicorp/raft"
)

// GroupSource is one Raft group this node hosts, paired with the
// partition storage it drives (nil for the CMG group, which has no
// MVCC storage of its own).
type GroupSource struct {
	Name    string
	Group   *raftengine.Group
	Raft    *raft.Raft
	Table   string
	Part    uint16
	Storage *mvcc.PartitionStorage
}

// Collector polls this node's Raft groups and partition storages on
// an interval and republishes them as gauges, the way the teacher's
// collector polled its manager for cluster-wide counts.
type Collector struct {
	sources func() []GroupSource
	stopCh  chan struct{}
}

// NewCollector creates a collector. sources is called on every tick so
// newly-opened partitions are picked up without restarting the
// collector.
func NewCollector(sources func() []GroupSource) *Collector {
	return &Collector{sources: sources, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, src := range c.sources() {
		c.collectRaft(src)
		if src.Storage != nil {
			c.collectMVCC(src)
		}
	}
}

func (c *Collector) collectRaft(src GroupSource) {
	if src.Raft == nil {
		return
	}
	stats := src.Raft.Stats()
	if term, err := strconv.ParseFloat(stats["term"], 64); err == nil {
		RaftTerm.WithLabelValues(src.Name).Set(term)
	}
	if idx, err := strconv.ParseFloat(stats["commit_index"], 64); err == nil {
		RaftCommitIndex.WithLabelValues(src.Name).Set(idx)
	}

	state := 0.0
	if src.Group != nil {
		switch src.Group.State() {
		case raftengine.Follower:
			state = 0
		case raftengine.Candidate:
			state = 1
		case raftengine.Leader:
			state = 2
		case raftengine.Error:
			state = 3
		}
	}
	RaftState.WithLabelValues(src.Name).Set(state)
}

func (c *Collector) collectMVCC(src GroupSource) {
	chains, intents := 0, 0
	cur := src.Storage.Scan(hlc.Max)
	for {
		res, ok := cur.Next()
		if !ok {
			break
		}
		chains++
		if res.IsWriteIntent() {
			intents++
		}
	}
	part := strconv.FormatUint(uint64(src.Part), 10)
	MVCCChains.WithLabelValues(src.Table, part).Set(float64(chains))
	MVCCIntents.WithLabelValues(src.Table, part).Set(float64(intents))
}
