package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cuemby/tablemesh/pkg/binrow"
	"github.com/cuemby/tablemesh/pkg/hlc"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/mvcc"
	"github.com/cuemby/tablemesh/pkg/snapshot"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMV       = []byte("mv")
	bucketIntents  = []byte("intents")
	bucketTxState  = []byte("txstate")
	bucketMeta     = []byte("meta")
	keyLastIncluded = []byte("last_included_index")
	keySentinel     = []byte("sentinel")
)

// Store persists one partition's MVCC committed versions, write
// intents, and transaction-state table, on bbolt. It is the on-disk
// counterpart of mvcc.PartitionStorage: a restarted node replays
// LoadChains/LoadIntents to rebuild the in-memory structure.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the partition's database file under
// dataDir, named by table id and partition id.
func Open(dataDir, tableID string, partitionID uint16) (*Store, error) {
	name := tableID + "-" + strconv.FormatUint(uint64(partitionID), 10) + ".db"
	db, err := bolt.Open(filepath.Join(dataDir, name), 0600, nil)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Storage, "open partition database", err)
	}
	s := &Store{db: db}
	if err := s.createBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createBuckets() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMV, bucketIntents, bucketTxState, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "create partition buckets", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// mvKey orders committed versions by (row id ascending, timestamp
// ascending) so ForEach walks oldest-to-newest per row; LoadChains
// replays them in that order and AddWriteCommitted places each one in
// mvcc's newest-first chain.
func mvKey(id mvcc.RowID, ts hlc.Timestamp) []byte {
	key := make([]byte, 16+8+4)
	copy(key[:16], id[:])
	binary.BigEndian.PutUint64(key[16:24], ts.Physical)
	binary.BigEndian.PutUint32(key[24:28], ts.Logical)
	return key
}

// PersistCommittedVersion appends one committed version to row id's
// on-disk history. A nil row persists a tombstone.
func (s *Store) PersistCommittedVersion(id mvcc.RowID, ts hlc.Timestamp, row *binrow.Row) error {
	var payload []byte
	if row != nil {
		payload = row.Bytes()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMV).Put(mvKey(id, ts), payload)
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "persist committed version", err)
	}
	return nil
}

// PersistIntent records (or overwrites) the write intent for id.
func (s *Store) PersistIntent(id mvcc.RowID, intent *mvcc.Intent) error {
	data, err := json.Marshal(intentRecord{
		TxnID:             intent.TxnID,
		CommitTableID:     intent.CommitTableID,
		CommitPartitionID: intent.CommitPartitionID,
		Row:               encodeOptionalRow(intent.Row),
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Assembly, "marshal intent record", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).Put(id[:], data)
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "persist intent", err)
	}
	return nil
}

// DeleteIntent removes id's on-disk intent, if any.
func (s *Store) DeleteIntent(id mvcc.RowID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).Delete(id[:])
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "delete intent", err)
	}
	return nil
}

type intentRecord struct {
	TxnID             string
	CommitTableID     string
	CommitPartitionID uint16
	Row               []byte // nil means no row bytes (should not occur for a real intent)
}

func encodeOptionalRow(r *binrow.Row) []byte {
	if r == nil {
		return nil
	}
	return r.Bytes()
}

// LoadChains replays the on-disk committed versions into an
// mvcc.PartitionStorage via AddWriteCommitted, oldest first per row;
// AddWriteCommitted keeps each chain newest-first.
func (s *Store) LoadChains(ps *mvcc.PartitionStorage) error {
	type versionEntry struct {
		id  mvcc.RowID
		ts  hlc.Timestamp
		row *binrow.Row
	}
	var entries []versionEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMV).ForEach(func(k, v []byte) error {
			if len(k) != 28 {
				return kverrors.New(kverrors.Assembly, "malformed mv key")
			}
			var id mvcc.RowID
			copy(id[:], k[:16])
			ts := hlc.Timestamp{
				Physical: binary.BigEndian.Uint64(k[16:24]),
				Logical:  binary.BigEndian.Uint32(k[24:28]),
			}
			var row *binrow.Row
			if len(v) > 0 {
				parsed, err := binrow.Parse(v)
				if err != nil {
					return err
				}
				row = parsed
			}
			entries = append(entries, versionEntry{id: id, ts: ts, row: row})
			return nil
		})
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "load committed versions", err)
	}

	// Within a row id, keys are already ascending by timestamp; apply
	// oldest first so AddWriteCommitted's newest-first insertion lands
	// in the right order regardless of replay order.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].id != entries[j].id {
			return entries[i].id.Less(entries[j].id)
		}
		return entries[i].ts.Less(entries[j].ts)
	})

	for _, e := range entries {
		if err := ps.AddWriteCommitted(e.id, e.row, e.ts); err != nil {
			return kverrors.Wrap(kverrors.Storage, "replay committed version", err)
		}
	}
	return nil
}

// LoadIntents replays on-disk write intents into an
// mvcc.PartitionStorage via AddWrite, restoring in-flight transactions
// across a restart.
func (s *Store) LoadIntents(ps *mvcc.PartitionStorage) error {
	type intentEntry struct {
		id  mvcc.RowID
		rec intentRecord
	}
	var entries []intentEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).ForEach(func(k, v []byte) error {
			if len(k) != 16 {
				return kverrors.New(kverrors.Assembly, "malformed intent key")
			}
			var rec intentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			var id mvcc.RowID
			copy(id[:], k)
			entries = append(entries, intentEntry{id: id, rec: rec})
			return nil
		})
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "load intents", err)
	}

	for _, e := range entries {
		var row *binrow.Row
		if len(e.rec.Row) > 0 {
			row, err = binrow.Parse(e.rec.Row)
			if err != nil {
				return kverrors.Wrap(kverrors.Storage, "parse persisted intent row", err)
			}
		}
		if _, err := ps.AddWrite(e.id, row, e.rec.TxnID, e.rec.CommitTableID, e.rec.CommitPartitionID); err != nil {
			return kverrors.Wrap(kverrors.Storage, "replay intent", err)
		}
	}
	return nil
}

// PersistTxState upserts txID's opaque state bytes.
func (s *Store) PersistTxState(txID string, state []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxState).Put([]byte(txID), state)
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "persist tx state", err)
	}
	return nil
}

// LoadTxStates returns every persisted transaction-state record.
func (s *Store) LoadTxStates() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxState).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Storage, "load tx states", err)
	}
	return out, nil
}

// Reset drops and recreates every bucket, stamping the
// "full-rebalance started" sentinel, per spec §4.8 phase 1.
func (s *Store) Reset(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMV, bucketIntents, bucketTxState} {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keySentinel, []byte("full-rebalance-started"))
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "reset partition storage", err)
	}
	return nil
}

// ApplyMVPage persists one page of a snapshot install's MV stream.
func (s *Store) ApplyMVPage(ctx context.Context, page snapshot.MVPage) error {
	for _, e := range page.Entries {
		if err := s.PersistCommittedVersion(e.RowID, e.Timestamp, e.Row); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTxStatePage persists one page of a snapshot install's
// tx-state stream.
func (s *Store) ApplyTxStatePage(ctx context.Context, page snapshot.TxStatePage) error {
	for _, e := range page.Entries {
		if err := s.PersistTxState(e.TxID, e.State); err != nil {
			return err
		}
	}
	return nil
}

// StampLastIncludedIndex records the Raft log index this partition's
// on-disk state reflects, per spec §4.8 phase 5. This is the install's
// last phase, so it also clears the "full-rebalance started" sentinel
// Reset stamped in phase 1: reaching here means the install ran to
// completion.
func (s *Store) StampLastIncludedIndex(ctx context.Context, index uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMeta).Put(keyLastIncluded, buf); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(keySentinel)
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "stamp last included index", err)
	}
	return nil
}

// IsPartial reports whether the partition's on-disk state was left
// mid-install: Reset stamps a sentinel at the start of a snapshot
// install (spec §4.8 phase 1) and StampLastIncludedIndex clears it at
// the end (phase 5), so a sentinel still present on open means the
// node crashed between the two and the loaded MV/intent data is
// incomplete.
func (s *Store) IsPartial() (bool, error) {
	var partial bool
	err := s.db.View(func(tx *bolt.Tx) error {
		partial = tx.Bucket(bucketMeta).Get(keySentinel) != nil
		return nil
	})
	if err != nil {
		return false, kverrors.Wrap(kverrors.Storage, "read partition sentinel", err)
	}
	return partial, nil
}

// LastIncludedIndex returns the most recently stamped index, if any.
func (s *Store) LastIncludedIndex() (index uint64, ok bool, err error) {
	txErr := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyLastIncluded)
		if data == nil {
			return nil
		}
		ok = true
		index = binary.BigEndian.Uint64(data)
		return nil
	})
	if txErr != nil {
		return 0, false, kverrors.Wrap(kverrors.Storage, "read last included index", txErr)
	}
	return index, ok, nil
}
