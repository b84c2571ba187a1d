package raftengine

import "time"

// PeerConfig describes one member of a group's physical topology,
// including the priority-election weight from spec §4.5.
//
// Priority -1 means "never campaign"; 0 means "only wins if every
// remaining candidate is also priority 0".
type PeerConfig struct {
	ID       string
	Address  string
	Priority int
}

// Config configures one raftengine Group.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Peers    []PeerConfig

	// HeartbeatTimeout/ElectionTimeout/CommitTimeout/LeaderLeaseTimeout
	// seed hashicorp/raft's Config, tuned the way the teacher tunes them
	// for sub-10s LAN failover rather than hashicorp's WAN-conservative
	// defaults.
	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration

	// ElectionTimeoutCeiling bounds the backoff multiplier from spec
	// §4.5 "Election-timeout backoff".
	ElectionTimeoutCeiling time.Duration

	// MaxRoundsWithoutAdjusting is the number of consecutive
	// leaderless election rounds tolerated before the backoff
	// multiplier increases.
	MaxRoundsWithoutAdjusting int

	// TargetPriority is the group's initial target_priority for
	// priority election; it halves after every MaxRoundsWithoutAdjusting
	// consecutive leaderless rounds and resets when a leader is seen.
	TargetPriority int
}

func (c *Config) setDefaults() {
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 500 * time.Millisecond
	}
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 500 * time.Millisecond
	}
	if c.CommitTimeout == 0 {
		c.CommitTimeout = 50 * time.Millisecond
	}
	if c.LeaderLeaseTimeout == 0 {
		c.LeaderLeaseTimeout = 250 * time.Millisecond
	}
	if c.ElectionTimeoutCeiling == 0 {
		c.ElectionTimeoutCeiling = 8 * time.Second
	}
	if c.MaxRoundsWithoutAdjusting == 0 {
		c.MaxRoundsWithoutAdjusting = 3
	}
}

func (c *Config) priorityOf(nodeID string) int {
	for _, p := range c.Peers {
		if p.ID == nodeID {
			return p.Priority
		}
	}
	return 0
}
