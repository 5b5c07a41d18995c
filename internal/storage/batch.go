package storage

import "github.com/cockroachdb/pebble"

// Batch collects writes that are applied atomically on Commit.
// Operations are applied in the order they were added, so a range
// deletion followed by a Set of a key inside that range keeps the Set.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts an empty write batch.
func (s *Storage) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

// Set stages a key-value write.
func (b *Batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

// Delete stages a point deletion.
func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// DeletePrefix stages the deletion of every key starting with prefix.
func (b *Batch) DeletePrefix(prefix []byte) error {
	upper := PrefixUpperBound(prefix)
	if upper == nil {
		// Prefix is all 0xFF: extend it so the range stays bounded.
		upper = append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF)
	}

	return b.b.DeleteRange(prefix, upper, nil)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return int(b.b.Count())
}

// Commit applies all staged operations atomically.
// Like single writes, the WAL is synced by the background loop.
func (b *Batch) Commit() error {
	return b.b.Commit(pebble.NoSync)
}

// Close releases the batch. Uncommitted operations are discarded.
func (b *Batch) Close() error {
	return b.b.Close()
}
