// Package storage is the key-value layer persisted snapshots are written to.
package storage

// Entry is one key/value pair of a batched write.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is an abstract bucketed key-value store. Values returned by Get and
// Snapshot are copies owned by the caller.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Set(bucket, key, value []byte) error
	// SetMany writes every entry in one transaction: either all are stored
	// or none are.
	SetMany(bucket []byte, entries []Entry) error
	Delete(bucket, key []byte) error
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	Snapshot(bucket []byte) (map[string][]byte, error)
	Close() error
}
