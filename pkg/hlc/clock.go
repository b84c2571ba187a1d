package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a (physical_ms, logical) pair ordered lexicographically,
// per spec §3.
type Timestamp struct {
	Physical uint64
	Logical  uint32
}

// Compare returns -1, 0, 1 as t is less than, equal to, or greater than o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Physical < o.Physical:
		return -1
	case t.Physical > o.Physical:
		return 1
	case t.Logical < o.Logical:
		return -1
	case t.Logical > o.Logical:
		return 1
	default:
		return 0
	}
}

func (t Timestamp) Less(o Timestamp) bool    { return t.Compare(o) < 0 }
func (t Timestamp) LessEqual(o Timestamp) bool { return t.Compare(o) <= 0 }
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.Physical, t.Logical)
}

// Max is the sentinel timestamp used by read(row_id, MAX) to mean "the
// latest version, including an uncommitted intent" (spec §4.3).
var Max = Timestamp{Physical: ^uint64(0), Logical: ^uint32(0)}

// Zero is the smallest representable timestamp.
var Zero = Timestamp{}

// PhysicalNow returns the wall-clock reading the clock uses as its
// physical component. Extracted so tests can stub it deterministically
// without reaching into Clock internals.
type PhysicalNow func() uint64

func systemPhysicalNow() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Clock is a single process's Hybrid Logical Clock. The zero value is
// not usable; construct with New.
type Clock struct {
	mu       sync.Mutex
	last     Timestamp
	physical PhysicalNow
}

// New creates a Clock. physicalNow may be nil to use the system clock;
// tests pass a deterministic stand-in.
func New(physicalNow PhysicalNow) *Clock {
	if physicalNow == nil {
		physicalNow = systemPhysicalNow
	}
	return &Clock{physical: physicalNow}
}

// Now returns a timestamp strictly greater than any timestamp
// previously returned by Now or Update on this Clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.physical()
	if phys > c.last.Physical {
		c.last = Timestamp{Physical: phys, Logical: 0}
	} else {
		c.last.Logical++
	}
	return c.last
}

// Update advances the clock past remote and returns a new local tick
// that is strictly greater than both remote and any prior local
// observation.
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.physical()
	switch {
	case phys > c.last.Physical && phys > remote.Physical:
		c.last = Timestamp{Physical: phys, Logical: 0}
	case c.last.Physical > remote.Physical:
		c.last.Logical++
	case remote.Physical > c.last.Physical:
		c.last = Timestamp{Physical: remote.Physical, Logical: remote.Logical + 1}
	default: // equal physical
		if remote.Logical > c.last.Logical {
			c.last.Logical = remote.Logical
		}
		c.last.Logical++
	}
	return c.last
}

// Last returns the most recently issued timestamp without advancing
// the clock. Used by tests asserting monotonicity across goroutines.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
