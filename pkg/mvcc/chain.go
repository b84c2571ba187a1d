package mvcc

import (
	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
)

// Intent is an uncommitted write at the head of a version chain,
// carrying the owning transaction id and the commit-group it will
// write to (spec §3 "Version Chain").
type Intent struct {
	TxnID             string
	CommitTableID     string
	CommitPartitionID uint16
	Row               *binrow.Row
}

// CommittedVersion is one entry in the committed portion of a chain.
// An empty Row (nil) represents a tombstone.
type CommittedVersion struct {
	Timestamp hlc.Timestamp
	Row       *binrow.Row
}

// chain is the full newest-first version history for one RowID. At
// most one Intent may exist at a time (spec invariant); Committed is
// kept sorted strictly decreasing by Timestamp, newest first.
type chain struct {
	Intent    *Intent
	Committed []*CommittedVersion
}

func (c *chain) newestCommitted() *CommittedVersion {
	if len(c.Committed) == 0 {
		return nil
	}
	return c.Committed[0]
}

func (c *chain) empty() bool {
	return c.Intent == nil && len(c.Committed) == 0
}

// ReadResultKind distinguishes the three shapes a read can return
// (spec §4.3 "Read algorithm").
type ReadResultKind int

const (
	ReadEmpty ReadResultKind = iota
	ReadCommitted
	ReadWriteIntent
)

// ReadResult is the outcome of Read/Scan/ScanVersions.
type ReadResult struct {
	RowID RowID
	kind  ReadResultKind

	// CommittedTimestamp is valid when kind == ReadCommitted; Row holds
	// the committed row then, and the intent's row when kind ==
	// ReadWriteIntent.
	CommittedTimestamp hlc.Timestamp
	Row                *binrow.Row

	// valid when kind == ReadWriteIntent
	IntentTxnID               string
	NewestCommittedTimestamp  *hlc.Timestamp
}

func (r ReadResult) IsEmpty() bool       { return r.kind == ReadEmpty }
func (r ReadResult) IsCommitted() bool   { return r.kind == ReadCommitted }
func (r ReadResult) IsWriteIntent() bool { return r.kind == ReadWriteIntent }
