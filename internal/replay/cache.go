// Package replay persists external-collaborator responses so that an
// investigation can be replayed deterministically: the first run records
// each response under the investigation and a stable request key, and a
// replay run reads the recording instead of calling out.
package replay

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/fraudlens/fraudlens/internal/errors"
)

// Cache is a bbolt-backed recording store. One bucket per investigation.
type Cache struct {
	db *bolt.DB
}

// Open opens (or creates) the recording store at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to open replay cache %s", path)
	}
	return &Cache{db: db}, nil
}

// Record stores a response under (investigationID, key), overwriting any
// previous recording for the same request.
func (c *Cache) Record(investigationID, key string, payload []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(investigationID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), payload)
	})
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal,
			"failed to record response %s for investigation %s", key, investigationID)
	}
	return nil
}

// Lookup returns the recorded response for (investigationID, key).
func (c *Cache) Lookup(investigationID, key string) ([]byte, bool, error) {
	var payload []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(investigationID))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(key)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, errors.KindInternal,
			"failed to read replay cache for investigation %s", investigationID)
	}
	return payload, payload != nil, nil
}

// Drop removes every recording for one investigation.
func (c *Cache) Drop(investigationID string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(investigationID)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(investigationID))
	})
	if err != nil {
		return errors.Wrap(err, errors.KindInternal,
			fmt.Sprintf("failed to drop recordings for investigation %s", investigationID))
	}
	return nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}
