package mvcc

import (
	"sort"
	"sync"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// Hook lets a decorator (pkg/snapshot's OutgoingSnapshot, or a
// caller's own instrumentation) observe mutations before they are
// applied. It mirrors spec §4.3's "snapshot-aware wrapper" contract:
// called while PartitionStorage's lock is still held, before the
// mutation is committed to the chain. read lets the hook inspect the
// row's pre-mutation state at any timestamp without re-entering the
// (non-reentrant) partition lock itself.
type Hook interface {
	BeforeMutate(id RowID, read func(ts hlc.Timestamp) ReadResult)
}

// PartitionStorage is the MVCC engine for a single partition: version
// chains keyed by RowID, guarded by a single mutex so that
// RunConsistently-style critical sections never interleave (spec §5).
type PartitionStorage struct {
	mu     sync.RWMutex
	chains map[RowID]*chain
	sorted []RowID // kept sorted ascending for ClosestRowID
	hooks  []Hook
}

// New creates an empty partition storage.
func New() *PartitionStorage {
	return &PartitionStorage{chains: make(map[RowID]*chain)}
}

// AddHook registers a mutation observer. It takes the partition's
// write lock, so it waits for any mutation in progress; hooks are
// installed once at startup and again whenever a new outgoing snapshot
// begins.
func (s *PartitionStorage) AddHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *PartitionStorage) notify(id RowID) {
	if len(s.hooks) == 0 {
		return
	}
	read := func(ts hlc.Timestamp) ReadResult { return s.readLocked(id, ts) }
	for _, h := range s.hooks {
		h.BeforeMutate(id, read)
	}
}

func (s *PartitionStorage) insertSorted(id RowID) {
	i := sort.Search(len(s.sorted), func(i int) bool { return !s.sorted[i].Less(id) })
	if i < len(s.sorted) && s.sorted[i] == id {
		return
	}
	s.sorted = append(s.sorted, RowID{})
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = id
}

func (s *PartitionStorage) removeSorted(id RowID) {
	i := sort.Search(len(s.sorted), func(i int) bool { return !s.sorted[i].Less(id) })
	if i < len(s.sorted) && s.sorted[i] == id {
		s.sorted = append(s.sorted[:i], s.sorted[i+1:]...)
	}
}

// Read returns the committed version visible at ts, or a write-intent
// descriptor if the head is an intent and ts requests the latest
// (hlc.Max), per spec §4.3 "Read algorithm".
func (s *PartitionStorage) Read(id RowID, ts hlc.Timestamp) ReadResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(id, ts)
}

func (s *PartitionStorage) readLocked(id RowID, ts hlc.Timestamp) ReadResult {
	c, ok := s.chains[id]
	if !ok {
		return ReadResult{RowID: id, kind: ReadEmpty}
	}
	if c.Intent != nil && ts == hlc.Max {
		res := ReadResult{RowID: id, kind: ReadWriteIntent, IntentTxnID: c.Intent.TxnID, Row: c.Intent.Row}
		if nc := c.newestCommitted(); nc != nil {
			t := nc.Timestamp
			res.NewestCommittedTimestamp = &t
		}
		return res
	}
	for _, cv := range c.Committed {
		if cv.Timestamp.LessEqual(ts) {
			return ReadResult{RowID: id, kind: ReadCommitted, CommittedTimestamp: cv.Timestamp, Row: cv.Row}
		}
	}
	return ReadResult{RowID: id, kind: ReadEmpty}
}

// Cursor iterates ReadResults in RowID order.
type Cursor struct {
	results []ReadResult
	pos     int
}

func (c *Cursor) Next() (ReadResult, bool) {
	if c.pos >= len(c.results) {
		return ReadResult{}, false
	}
	r := c.results[c.pos]
	c.pos++
	return r, true
}

// Scan iterates all chains, applying the same per-chain selection as
// Read, per spec §4.3.
func (s *PartitionStorage) Scan(ts hlc.Timestamp) *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ReadResult, 0, len(s.sorted))
	for _, id := range s.sorted {
		r := s.readLocked(id, ts)
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return &Cursor{results: out}
}

// ScanVersions iterates one chain head-to-tail without filtering, per
// spec §4.3.
func (s *PartitionStorage) ScanVersions(id RowID) *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	if !ok {
		return &Cursor{}
	}
	out := make([]ReadResult, 0, len(c.Committed)+1)
	if c.Intent != nil {
		res := ReadResult{RowID: id, kind: ReadWriteIntent, IntentTxnID: c.Intent.TxnID, Row: c.Intent.Row}
		if nc := c.newestCommitted(); nc != nil {
			t := nc.Timestamp
			res.NewestCommittedTimestamp = &t
		}
		out = append(out, res)
	}
	for _, cv := range c.Committed {
		out = append(out, ReadResult{RowID: id, kind: ReadCommitted, CommittedTimestamp: cv.Timestamp, Row: cv.Row})
	}
	return &Cursor{results: out}
}

// AddWrite installs or replaces the write intent for id under txID.
// Returns the row previously intended by this same transaction, if
// any (re-upsert within the same transaction is allowed and returns
// the prior value). Fails with TxIdMismatch if another transaction
// already holds the intent, per spec §4.3.
func (s *PartitionStorage) AddWrite(id RowID, row *binrow.Row, txID string, commitTable string, commitPartition uint16) (*binrow.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addWriteLocked(id, row, txID, commitTable, commitPartition)
}

func (s *PartitionStorage) addWriteLocked(id RowID, row *binrow.Row, txID string, commitTable string, commitPartition uint16) (*binrow.Row, error) {
	s.notify(id)

	c, ok := s.chains[id]
	if !ok {
		c = &chain{}
		s.chains[id] = c
		s.insertSorted(id)
	}

	if c.Intent != nil && c.Intent.TxnID != txID {
		return nil, kverrors.New(kverrors.TxIDMismatch, "row already has an intent from another transaction")
	}

	var previous *binrow.Row
	if c.Intent != nil {
		previous = c.Intent.Row
	}
	c.Intent = &Intent{TxnID: txID, CommitTableID: commitTable, CommitPartitionID: commitPartition, Row: row}
	return previous, nil
}

// AbortWrite removes the intent for id. If the chain becomes entirely
// empty, the chain itself is removed.
func (s *PartitionStorage) AbortWrite(id RowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortWriteLocked(id)
}

func (s *PartitionStorage) abortWriteLocked(id RowID) error {
	c, ok := s.chains[id]
	if !ok || c.Intent == nil {
		return nil
	}
	s.notify(id)
	c.Intent = nil
	if c.empty() {
		delete(s.chains, id)
		s.removeSorted(id)
	}
	return nil
}

// CommitWrite converts the current intent into a committed version at
// ts. ts must be strictly greater than every existing committed
// timestamp on the chain; an equal or older ts fails with Storage
// (spec invariant: "committed versions ... strictly decreasing...
// newest to oldest").
func (s *PartitionStorage) CommitWrite(id RowID, ts hlc.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitWriteLocked(id, ts)
}

func (s *PartitionStorage) commitWriteLocked(id RowID, ts hlc.Timestamp) error {
	s.notify(id)

	c, ok := s.chains[id]
	if !ok || c.Intent == nil {
		return kverrors.New(kverrors.Storage, "commit_write: no intent present")
	}
	if nc := c.newestCommitted(); nc != nil && !nc.Timestamp.Less(ts) {
		return kverrors.New(kverrors.Storage, "commit_write: ts does not exceed newest committed version")
	}

	committed := &CommittedVersion{Timestamp: ts, Row: c.Intent.Row}
	c.Committed = append([]*CommittedVersion{committed}, c.Committed...)
	c.Intent = nil
	return nil
}

// AddWriteCommitted installs a committed version directly, bypassing
// the intent phase (used by snapshot install). Rejects if an intent
// already exists, per spec §4.3.
func (s *PartitionStorage) AddWriteCommitted(id RowID, row *binrow.Row, ts hlc.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addWriteCommittedLocked(id, row, ts)
}

func (s *PartitionStorage) addWriteCommittedLocked(id RowID, row *binrow.Row, ts hlc.Timestamp) error {
	s.notify(id)

	c, ok := s.chains[id]
	if !ok {
		c = &chain{}
		s.chains[id] = c
		s.insertSorted(id)
	}
	if c.Intent != nil {
		return kverrors.New(kverrors.Storage, "add_write_committed: intent already present")
	}

	// Keep Committed ordered newest-first regardless of insertion order
	// (snapshot install may apply versions out of order across rows,
	// but all versions for a single row arrive inside one page — spec
	// §4.8 — so within-chain ordering is still expected monotone; we
	// defend it anyway).
	idx := sort.Search(len(c.Committed), func(i int) bool { return c.Committed[i].Timestamp.Less(ts) })
	cv := &CommittedVersion{Timestamp: ts, Row: row}
	c.Committed = append(c.Committed, nil)
	copy(c.Committed[idx+1:], c.Committed[idx:])
	c.Committed[idx] = cv
	return nil
}

// ClosestRowID returns the least RowID >= lower with at least one
// version, per spec §4.3.
func (s *PartitionStorage) ClosestRowID(lower RowID) (RowID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.sorted), func(i int) bool { return !s.sorted[i].Less(lower) })
	if i >= len(s.sorted) {
		return RowID{}, false
	}
	return s.sorted[i], true
}

// Ops is the set of mutations available inside a RunConsistently
// closure. It forwards to PartitionStorage's already-locked variants,
// so a closure can perform several reads and writes as one atomic
// critical section without re-acquiring (and deadlocking on) the
// partition's mutex.
type Ops struct {
	s *PartitionStorage
}

func (o *Ops) Read(id RowID, ts hlc.Timestamp) ReadResult {
	return o.s.readLocked(id, ts)
}

func (o *Ops) AddWrite(id RowID, row *binrow.Row, txID string, commitTable string, commitPartition uint16) (*binrow.Row, error) {
	return o.s.addWriteLocked(id, row, txID, commitTable, commitPartition)
}

func (o *Ops) AbortWrite(id RowID) error {
	return o.s.abortWriteLocked(id)
}

func (o *Ops) CommitWrite(id RowID, ts hlc.Timestamp) error {
	return o.s.commitWriteLocked(id, ts)
}

func (o *Ops) AddWriteCommitted(id RowID, row *binrow.Row, ts hlc.Timestamp) error {
	return o.s.addWriteCommittedLocked(id, row, ts)
}

// RunConsistently serializes fn under the partition's exclusive lease
// so concurrent mutations never interleave, per spec §5. fn must not
// suspend (no network/disk I/O) and must only mutate the partition
// through the supplied Ops handle — calling back into PartitionStorage's
// own exported methods from within fn would deadlock on its mutex.
func (s *PartitionStorage) RunConsistently(fn func(ops *Ops)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Ops{s: s})
}
