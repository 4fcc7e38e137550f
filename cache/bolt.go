package cache

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("forgecache_fingerprints")

// BoltCache is an embedded, single-file persistent Function Cache
// backend: the default remains MemoryCache for a single run, but
// BoltCache is what lets a later invocation of the same process tree
// re-use results without standing up Redis.
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens (creating if absent) a bbolt database at path and
// ensures its fingerprint bucket exists.
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt cache bucket: %w", err)
	}
	return &BoltCache{db: db}, nil
}

func (c *BoltCache) Get(_ context.Context, fingerprint string, _ Props) (string, bool, error) {
	var dataID string
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(fingerprint))
		if v != nil {
			dataID = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get %s: %w", fingerprint, err)
	}
	return dataID, found, nil
}

func (c *BoltCache) Update(_ context.Context, fingerprint string, _ Props, dataID string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(fingerprint), []byte(dataID))
	})
	if err != nil {
		return fmt.Errorf("bolt put %s: %w", fingerprint, err)
	}
	return nil
}

// Close releases the underlying file lock.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
