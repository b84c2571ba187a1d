package raftengine

import (
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// priorityController layers spec §4.5's priority election and
// election-timeout backoff on top of hashicorp/raft, which has no
// native notion of either. It observes leadership changes and scales
// this node's effective election timeout: a node below the group's
// current target_priority gets a timeout long enough that it rarely
// wins a campaign before a higher-priority peer does, and the target
// decays on consecutive leaderless rounds until someone qualifies.
type priorityController struct {
	group *Group

	mu             sync.Mutex
	stopCh         chan struct{}
	started        bool
	targetPriority float64
	roundsWithout  int
	timeoutMult    float64
}

func newPriorityController(g *Group) *priorityController {
	return &priorityController{
		group:          g,
		targetPriority: float64(g.cfg.TargetPriority),
		timeoutMult:    1,
	}
}

func (p *priorityController) start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	obsCh := make(chan raft.Observation, 8)
	observer := raft.NewObserver(obsCh, false, nil)
	p.group.raft.RegisterObserver(observer)

	go p.loop(obsCh)
	go p.applyTimeout()
}

func (p *priorityController) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

func (p *priorityController) loop(obsCh chan raft.Observation) {
	ticker := time.NewTicker(p.group.cfg.ElectionTimeout * time.Duration(p.group.cfg.MaxRoundsWithoutAdjusting))
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case obs := <-obsCh:
			if _, ok := obs.Data.(raft.LeaderObservation); ok {
				p.onLeaderObserved()
			}
		case <-ticker.C:
			if p.group.raft.Leader() == "" {
				p.onFailedRound()
			}
		}
	}
}

// onFailedRound counts one leaderless round; after
// MaxRoundsWithoutAdjusting of them it halves the target priority and
// doubles the election-timeout multiplier, bounded by the ceiling.
func (p *priorityController) onFailedRound() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.roundsWithout++
	if p.roundsWithout >= p.group.cfg.MaxRoundsWithoutAdjusting {
		p.roundsWithout = 0
		if p.targetPriority > 0 {
			p.targetPriority *= 0.5
		}
		p.timeoutMult *= 2
		maxMult := float64(p.group.cfg.ElectionTimeoutCeiling) / float64(p.group.cfg.ElectionTimeout)
		if p.timeoutMult > maxMult {
			p.timeoutMult = maxMult
		}
	}
}

func (p *priorityController) onLeaderObserved() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roundsWithout = 0
	p.timeoutMult = 1
	p.targetPriority = float64(p.group.cfg.TargetPriority)
}

// applyTimeout periodically reloads hashicorp/raft's ReloadableConfig
// with an election timeout scaled by this node's priority standing,
// so lower-priority nodes structurally campaign later than
// higher-priority ones without hashicorp/raft needing to know about
// priority at all.
func (p *priorityController) applyTimeout() {
	ticker := time.NewTicker(p.group.cfg.ElectionTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reload()
		}
	}
}

func (p *priorityController) reload() {
	p.mu.Lock()
	priority := p.group.cfg.priorityOf(p.group.cfg.NodeID)
	target := p.targetPriority
	mult := p.timeoutMult
	p.mu.Unlock()

	factor := priorityFactor(priority, target)
	timeout := time.Duration(float64(p.group.cfg.ElectionTimeout) * factor * mult)
	ceiling := p.group.cfg.ElectionTimeoutCeiling
	if timeout > ceiling {
		timeout = ceiling
	}
	if timeout < p.group.cfg.ElectionTimeout {
		timeout = p.group.cfg.ElectionTimeout
	}

	// TrailingLogs/SnapshotInterval/SnapshotThreshold must be re-supplied
	// on every reload (ReloadConfig replaces the whole reloadable set),
	// so carry hashicorp/raft's own defaults forward rather than let
	// them zero out.
	def := raft.DefaultConfig()
	rc := raft.ReloadableConfig{
		TrailingLogs:      def.TrailingLogs,
		SnapshotInterval:  def.SnapshotInterval,
		SnapshotThreshold: def.SnapshotThreshold,
		HeartbeatTimeout:  p.group.cfg.HeartbeatTimeout,
		ElectionTimeout:   timeout,
	}
	_ = p.group.raft.ReloadConfig(rc)
}

// priorityFactor scales a node's election timeout relative to the
// group's current target_priority. Priority -1 ("never campaign")
// maps to a very large factor; priority 0 with a positive target maps
// to a large factor too, since such a node "can only win if all
// remaining candidates also have priority 0".
func priorityFactor(priority int, target float64) float64 {
	switch {
	case priority < 0:
		return 1000
	case float64(priority) >= target:
		return 1
	case priority == 0 && target > 0:
		return 50
	default:
		deficit := target - float64(priority)
		return 1 + deficit
	}
}
