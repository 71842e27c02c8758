// Package objcache caches the mapping from a (commit ID, path) pair to the
// Git blob SHA-1 synthesized for it, so repeat clones/fetches of the same
// commit don't re-hash unchanged file content through the Version Store.
// Narrowed from a generic bbolt bucket helper down to the one bucket and
// one JSON-encoded value shape this cache needs.
package objcache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("blob_sha")

// Entry is the cached synthesis result for one (commit, path) pair.
type Entry struct {
	SHA  string `json:"sha"` // 40-char hex Git blob SHA-1
	LFS  bool   `json:"lfs"` // true if SHA is for the LFS pointer text, not raw content
	Size int64  `json:"size"`
}

// Cache wraps a bbolt database file.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("objcache: opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("objcache: creating bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func key(commitID, path string) []byte {
	return []byte(commitID + "\x00" + path)
}

// Get looks up the cached entry for (commitID, path). ok is false on miss.
func (c *Cache) Get(commitID, path string) (entry Entry, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get(key(commitID, path))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &entry)
	})
	return entry, ok, err
}

// Put stores entry for (commitID, path).
func (c *Cache) Put(commitID, path string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("objcache: marshaling entry: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key(commitID, path), data)
	})
}
