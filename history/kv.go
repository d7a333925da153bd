package history

import "time"

// KVConfig contains settings specific to BadgerDB connections
type KVConfig struct {
	StorageDirPath string
	KeyTTLDuration time.Duration // TTL for each key in the db
}

// KeyValue exposes a common interface for recording send attempts on an
// underlying storage layer.
//
// Implementations need to include connection logic in code to initialize
// a store.
type KeyValue interface {
	// Write one send-attempt entry
	Put(KVEntry) error
	// Return an entry given its key
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}

// NewEntry builds the entry for one send attempt. The timestamp is part of
// the key so repeated sends of the same file never overwrite each other.
func NewEntry(emlFile string, outcome string, at time.Time) KVEntry {
	return KVEntry{
		Key:   []byte(emlFile + "|" + at.Format(time.RFC3339Nano)),
		Value: []byte(outcome),
	}
}
