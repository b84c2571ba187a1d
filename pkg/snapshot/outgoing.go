package snapshot

import (
	"context"
	"sync"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/raftengine"
)

// MVEntry is one row version streamed in an MV page.
type MVEntry struct {
	RowID     mvcc.RowID
	Row       *binrow.Row
	Timestamp hlc.Timestamp
}

// MVPage is one bounded page of MVEntry, with Done set on the page
// that exhausts the snapshot.
type MVPage struct {
	Entries []MVEntry
	Done    bool
}

// OutgoingSnapshot is the sender side of C8: a read-timestamp-
// consistent view of a partition's committed rows, paged out while the
// partition keeps taking writes. It is both a cursor walking the
// partition in RowID order and the recipient of an mvcc.Hook callback
// fired on every mutation: a row the cursor has not yet reached is
// captured at its pre-mutation value and queued for out-of-order
// delivery, so NextPage never has to hold the partition lock for more
// than one row at a time. sentSet is the single source of truth for
// "has this row already gone out" and is shared between the cursor
// walk and the hook to avoid sending a row twice or not at all.
type OutgoingSnapshot struct {
	storage  *mvcc.PartitionStorage
	ts       hlc.Timestamp
	pageSize int
	limiter  *raftengine.ByteRateLimiter

	mu         sync.Mutex
	nextLower  mvcc.RowID
	cursorDone bool
	sentSet    map[mvcc.RowID]bool
	queue      []MVEntry
	sentCount  int
	finished   bool
}

// NewOutgoingSnapshot prepares to page out storage's committed view as
// of ts in pageSize-row chunks, throttled to byteBudget bytes/sec (0 =
// unthrottled). It installs its hook and returns immediately: no row
// is read until the first NextPage call, so construction never blocks
// a writer.
func NewOutgoingSnapshot(storage *mvcc.PartitionStorage, ts hlc.Timestamp, pageSize int, byteBudget int64) *OutgoingSnapshot {
	if pageSize <= 0 {
		pageSize = 256
	}
	o := &OutgoingSnapshot{
		storage:  storage,
		ts:       ts,
		pageSize: pageSize,
		limiter:  raftengine.NewByteRateLimiter(byteBudget),
		sentSet:  make(map[mvcc.RowID]bool),
	}
	storage.AddHook(o)
	return o
}

// BeforeMutate implements mvcc.Hook. It runs with storage's lock held
// by the caller, so it must not call back into storage; read gives it
// the row's value at the snapshot timestamp without doing so. A row
// already sent (by the cursor or a prior mutation) is left alone: its
// ts-consistent value is immutable once committed, so there is nothing
// new to capture. A row the cursor has not reached yet is marked sent
// here and its current version enqueued, so the cursor will skip over
// it later instead of sending a stale or double copy.
func (o *OutgoingSnapshot) BeforeMutate(id mvcc.RowID, read func(ts hlc.Timestamp) mvcc.ReadResult) {
	o.mu.Lock()
	if o.finished || o.sentSet[id] {
		o.mu.Unlock()
		return
	}
	o.sentSet[id] = true
	o.mu.Unlock()

	res := read(o.ts)
	if !res.IsCommitted() {
		return
	}

	o.mu.Lock()
	o.queue = append(o.queue, MVEntry{RowID: id, Row: res.Row, Timestamp: res.CommittedTimestamp})
	o.mu.Unlock()
}

// Cursor reports how many rows have been sent so far.
func (o *OutgoingSnapshot) Cursor() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sentCount
}

// AlreadySent reports whether id has been included in a page already
// returned by NextPage, or captured off the send queue awaiting one.
func (o *OutgoingSnapshot) AlreadySent(id mvcc.RowID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sentSet[id]
}

// NextPage returns the next bounded page of rows, blocking to respect
// the byte-rate budget. It drains the send queue first, then advances
// the base cursor to fill out the rest of the page. The cursor walk
// releases o.mu before every call into storage, so a concurrent
// BeforeMutate (which runs with storage's own lock held) never has to
// wait on it — holding both locks in opposite order would deadlock.
// Once the cursor is exhausted and the queue is empty it keeps
// returning an empty Done page.
func (o *OutgoingSnapshot) NextPage(ctx context.Context) (MVPage, error) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return MVPage{Done: true}, nil
	}
	o.mu.Unlock()

	entries := make([]MVEntry, 0, o.pageSize)

	o.mu.Lock()
	for len(entries) < o.pageSize && len(o.queue) > 0 {
		entries = append(entries, o.queue[0])
		o.queue = o.queue[1:]
	}
	o.mu.Unlock()

	for len(entries) < o.pageSize {
		o.mu.Lock()
		if o.cursorDone {
			o.mu.Unlock()
			break
		}
		lower := o.nextLower
		o.mu.Unlock()

		id, ok := o.storage.ClosestRowID(lower)
		if !ok {
			o.mu.Lock()
			o.cursorDone = true
			o.mu.Unlock()
			break
		}
		next, hasNext := nextRowID(id)

		o.mu.Lock()
		alreadySent := o.sentSet[id]
		if !alreadySent {
			o.sentSet[id] = true
		}
		if hasNext {
			o.nextLower = next
		} else {
			o.cursorDone = true
		}
		o.mu.Unlock()

		if alreadySent {
			if !hasNext {
				break
			}
			continue
		}

		res := o.storage.Read(id, o.ts)
		if res.IsCommitted() {
			entries = append(entries, MVEntry{RowID: id, Row: res.Row, Timestamp: res.CommittedTimestamp})
		}
		if !hasNext {
			break
		}
	}

	totalBytes := 0
	for _, e := range entries {
		if e.Row != nil {
			totalBytes += len(e.Row.Bytes())
		}
	}
	if err := o.limiter.Wait(ctx, totalBytes); err != nil {
		return MVPage{}, err
	}

	o.mu.Lock()
	o.sentCount += len(entries)
	done := o.cursorDone && len(o.queue) == 0
	o.finished = done
	o.mu.Unlock()

	return MVPage{Entries: entries, Done: done}, nil
}

// nextRowID returns the RowID immediately following id in big-endian
// 128-bit order, or false if id is the maximum representable RowID.
func nextRowID(id mvcc.RowID) (mvcc.RowID, bool) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] != 0xff {
			id[i]++
			return id, true
		}
		id[i] = 0
	}
	return mvcc.RowID{}, false
}
