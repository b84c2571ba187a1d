// Package snapshot implements the Snapshot Copier component (C8): an
// OutgoingSnapshot cursor over a partition's MVCC storage, bounded-page
// byte-throttled streaming, and an IncomingCopier that replays the
// five phases from spec §4.8 against a target storage, with
// cooperative cancellation.
package snapshot
