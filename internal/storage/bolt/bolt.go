package bolt

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"fluxstore/internal/storage"
)

// openTimeout bounds how long Open waits for another process holding the
// file lock.
const openTimeout = 2 * time.Second

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using bbolt (embedded B+ tree).
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &Store{db: db}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, err
}

func (s *Store) Set(bucket, key, value []byte) error {
	return s.SetMany(bucket, []storage.Entry{{Key: key, Value: value}})
}

func (s *Store) SetMany(bucket []byte, entries []storage.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		for _, e := range entries {
			if err := b.Put(e.Key, e.Value); err != nil {
				return fmt.Errorf("put %q: %w", e.Key, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(bucket, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

// ForEach visits every pair in bucket. key and value are only valid for the
// duration of fn.
func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(fn)
	})
}

func (s *Store) Snapshot(bucket []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.ForEach(bucket, func(k, v []byte) error {
		result[string(k)] = append([]byte(nil), v...)
		return nil
	})
	return result, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
