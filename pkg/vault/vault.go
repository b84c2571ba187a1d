package vault

import (
	"path/filepath"

	"github.com/cuemby/tablemesh/pkg/kverrors"
	bolt "go.etcd.io/bbolt"
)

var bucketLocal = []byte("local")

// Vault is a single-bucket bbolt store for a node's opaque local
// records (cluster id, node id, CMG membership marker, etc), keyed by
// string.
type Vault struct {
	db *bolt.DB
}

// Open opens (creating if absent) the vault database under dataDir.
func Open(dataDir string) (*Vault, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "vault.db"), 0600, nil)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Storage, "open vault database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLocal)
		return err
	})
	if err != nil {
		db.Close()
		return nil, kverrors.Wrap(kverrors.Storage, "create vault bucket", err)
	}

	return &Vault{db: db}, nil
}

// Close closes the underlying database.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Put writes value under key, overwriting any prior value.
func (v *Vault) Put(key string, value []byte) error {
	err := v.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocal).Put([]byte(key), value)
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "vault put", err)
	}
	return nil
}

// Get returns the value stored under key, or ok=false if absent. The
// returned slice is a copy safe to retain past the call.
func (v *Vault) Get(key string) (value []byte, ok bool, err error) {
	txErr := v.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocal).Get([]byte(key))
		if data == nil {
			return nil
		}
		ok = true
		value = append([]byte(nil), data...)
		return nil
	})
	if txErr != nil {
		return nil, false, kverrors.Wrap(kverrors.Storage, "vault get", txErr)
	}
	return value, ok, nil
}

// Delete removes key. No-op if absent.
func (v *Vault) Delete(key string) error {
	err := v.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocal).Delete([]byte(key))
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "vault delete", err)
	}
	return nil
}

// ForEach calls fn for every key/value pair in the vault, in bbolt's
// byte-lexicographic key order.
func (v *Vault) ForEach(fn func(key string, value []byte) error) error {
	err := v.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocal).ForEach(func(k, val []byte) error {
			return fn(string(k), val)
		})
	})
	if err != nil {
		return kverrors.Wrap(kverrors.Storage, "vault foreach", err)
	}
	return nil
}
