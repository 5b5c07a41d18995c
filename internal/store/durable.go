package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/substate"
)

const (
	// defaultCacheSize is the number of substates kept in the read cache.
	defaultCacheSize = 4096
)

var (
	substatePrefix = []byte("s:")        // substatePrefix starts every substate key
	txPrefix       = []byte("t:")        // txPrefix records committed transaction hashes
	versionKey     = []byte("m:version") // versionKey holds the commit counter
)

// cached is a read-cache slot. A nil value records a known absence.
type cached struct {
	value *substate.Value
}

// DurableStore is the Pebble-backed Database. Substates live under
// "s:" + node id + module + encoded key.
type DurableStore struct {
	db      *storage.Storage // db is the underlying key-value store
	cache   *lru.Cache       // cache maps raw keys to cached values
	mu      sync.RWMutex     // mu serializes commits against reads
	version uint64           // version is the number of applied commits
}

// NewDurableStore opens the substate layer on top of db.
// A cacheSize <= 0 selects the default.
func NewDurableStore(db *storage.Storage, cacheSize int) (*DurableStore, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create read cache:\n%w", err)
	}

	raw, err := db.Get(versionKey)
	if err != nil {
		return nil, fmt.Errorf("read version:\n%w", err)
	}

	d := &DurableStore{db: db, cache: cache}
	if len(raw) == 8 {
		d.version = binary.BigEndian.Uint64(raw)
	}

	return d, nil
}

// Storage returns the underlying key-value store.
func (d *DurableStore) Storage() *storage.Storage {
	return d.db
}

// NodePrefix returns the key prefix of every substate of a node.
func NodePrefix(id ids.NodeId) []byte {
	out := make([]byte, 0, len(substatePrefix)+ids.NodeIdLength)
	out = append(out, substatePrefix...)
	return append(out, id[:]...)
}

// PartitionPrefix returns the key prefix of one partition.
func PartitionPrefix(id ids.NodeId, module substate.ModuleId) []byte {
	return append(NodePrefix(id), byte(module))
}

// SubstateDbKey returns the storage key of one substate.
func SubstateDbKey(id ids.NodeId, module substate.ModuleId, key substate.Key) []byte {
	return append(PartitionPrefix(id, module), key.Encode()...)
}

// ParseSubstateDbKey splits a storage key produced by SubstateDbKey.
func ParseSubstateDbKey(raw []byte) (ids.NodeId, substate.ModuleId, substate.Key, error) {
	head := len(substatePrefix) + ids.NodeIdLength + 1
	if len(raw) <= head || string(raw[:len(substatePrefix)]) != string(substatePrefix) {
		return ids.NodeId{}, 0, substate.Key{}, fmt.Errorf("%w: storage key %x", substate.ErrInvalidKey, raw)
	}

	id, err := ids.FromBytes(raw[len(substatePrefix) : head-1])
	if err != nil {
		return ids.NodeId{}, 0, substate.Key{}, err
	}

	key, err := substate.DecodeKey(raw[head:])
	if err != nil {
		return ids.NodeId{}, 0, substate.Key{}, err
	}

	return id, substate.ModuleId(raw[head-1]), key, nil
}

// Get returns the committed value or nil.
func (d *DurableStore) Get(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dbKey := SubstateDbKey(id, module, key)

	if c, ok := d.cache.Get(string(dbKey)); ok {
		return c.(cached).value.Clone(), nil
	}

	raw, err := d.db.Get(dbKey)
	if err != nil {
		return nil, err
	}

	var v *substate.Value
	if raw != nil {
		if v, err = substate.Unmarshal(raw); err != nil {
			return nil, fmt.Errorf("decode %v %v %v:\n%w", id, module, key, err)
		}
	}

	d.cache.Add(string(dbKey), cached{value: v})

	return v.Clone(), nil
}

// Scan returns the committed substates of a partition ordered by key.
func (d *DurableStore) Scan(id ids.NodeId, module substate.ModuleId) ([]substate.Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	prefix := PartitionPrefix(id, module)

	var out []substate.Entry
	err := d.db.IteratePrefix(prefix, func(k, raw []byte) error {
		key, err := substate.DecodeKey(k[len(prefix):])
		if err != nil {
			return err
		}

		v, err := substate.Unmarshal(raw)
		if err != nil {
			return fmt.Errorf("decode %v %v %v:\n%w", id, module, key, err)
		}

		out = append(out, substate.Entry{Key: key, Value: v})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Walk calls fn for every committed substate in storage key order.
func (d *DurableStore) Walk(fn func(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.db.IteratePrefix(substatePrefix, func(k, raw []byte) error {
		id, module, key, err := ParseSubstateDbKey(k)
		if err != nil {
			return err
		}

		v, err := substate.Unmarshal(raw)
		if err != nil {
			return fmt.Errorf("decode %v %v %v:\n%w", id, module, key, err)
		}

		return fn(id, module, key, v)
	})
}

// HasNode reports whether any substate of the node is committed.
func (d *DurableStore) HasNode(id ids.NodeId) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.db.HasPrefix(NodePrefix(id))
}

// Version returns the number of applied commits.
func (d *DurableStore) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.version
}

// txKey returns the storage key recording a committed transaction.
func txKey(hash [32]byte) []byte {
	return append(append(make([]byte, 0, len(txPrefix)+len(hash)), txPrefix...), hash[:]...)
}

// HasTransaction reports whether a transaction hash was committed.
func (d *DurableStore) HasTransaction(hash [32]byte) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	raw, err := d.db.Get(txKey(hash))
	if err != nil {
		return false, fmt.Errorf("read transaction %x:\n%w", hash[:8], err)
	}

	return raw != nil, nil
}

// Commit applies a diff in one atomic batch: partition deletes first,
// then writes, then the version bump.
func (d *DurableStore) Commit(diff *StateDiff, baseVersion uint64) error {
	return d.commit(diff, baseVersion, nil)
}

// CommitTransaction is Commit for the diff of a transaction. The hash is
// recorded in the same batch; a hash committed before is refused.
func (d *DurableStore) CommitTransaction(hash [32]byte, diff *StateDiff, baseVersion uint64) error {
	return d.commit(diff, baseVersion, txKey(hash))
}

func (d *DurableStore) commit(diff *StateDiff, baseVersion uint64, tx []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if baseVersion != d.version {
		return fmt.Errorf("%w: base %d, current %d", ErrVersionConflict, baseVersion, d.version)
	}

	if tx != nil {
		raw, err := d.db.Get(tx)
		if err != nil {
			return fmt.Errorf("read transaction record:\n%w", err)
		}
		if raw != nil {
			return fmt.Errorf("%w: %x", ErrDuplicateTransaction, tx[len(txPrefix):])
		}
	}

	batch := d.db.NewBatch()
	defer batch.Close()

	for _, p := range diff.PartitionDeletes {
		if err := batch.DeletePrefix(PartitionPrefix(p.Node, p.Module)); err != nil {
			return fmt.Errorf("delete partition %v %v:\n%w", p.Node, p.Module, err)
		}
	}

	for _, w := range diff.Writes {
		key := SubstateDbKey(w.Node, w.Module, w.Key)

		var err error
		if w.IsDelete() {
			err = batch.Delete(key)
		} else {
			err = batch.Set(key, substate.Marshal(w.Value))
		}
		if err != nil {
			return fmt.Errorf("write %v %v %v:\n%w", w.Node, w.Module, w.Key, err)
		}
	}

	next := d.version + 1

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if tx != nil {
		if err := batch.Set(tx, buf[:]); err != nil {
			return fmt.Errorf("write transaction record:\n%w", err)
		}
	}

	if err := batch.Set(versionKey, buf[:]); err != nil {
		return fmt.Errorf("write version:\n%w", err)
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit batch:\n%w", err)
	}

	d.invalidate(diff)
	d.version = next

	logger.Debug("diff committed",
		"version", next,
		"writes", len(diff.Writes),
		"partition_deletes", len(diff.PartitionDeletes),
	)

	return nil
}

// Reload drops the read cache and re-reads the version after the raw
// store was replaced underneath, as snapshot import does.
func (d *DurableStore) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.db.Get(versionKey)
	if err != nil {
		return fmt.Errorf("read version:\n%w", err)
	}

	d.version = 0
	if len(raw) == 8 {
		d.version = binary.BigEndian.Uint64(raw)
	}
	d.cache.Purge()

	return nil
}

// invalidate removes the cache slots touched by a diff.
func (d *DurableStore) invalidate(diff *StateDiff) {
	if len(diff.PartitionDeletes) > 0 {
		d.cache.Purge()
		return
	}

	for _, w := range diff.Writes {
		d.cache.Remove(string(SubstateDbKey(w.Node, w.Module, w.Key)))
	}
}
