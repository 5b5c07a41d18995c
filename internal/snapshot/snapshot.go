// Package snapshot exports and imports the raw contents of a durable
// store. A snapshot is a zstd-compressed flatbuffers table of sorted
// key/value entries with a blake3 checksum over them.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"OwnLedger/internal/logger"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
	"OwnLedger/internal/types"
)

var (
	// ErrCorrupt is returned for a snapshot that fails integrity checks.
	ErrCorrupt = errors.New("corrupt snapshot")

	// ErrNotEmpty is returned when importing into a store that has state.
	ErrNotEmpty = errors.New("store is not empty")
)

// Info describes a snapshot.
type Info struct {
	Version  uint64 // Version is the store version captured
	Entries  int
	Checksum [32]byte
}

// entry is a copied key/value pair.
type entry struct {
	key   []byte
	value []byte
}

// Export writes a compressed snapshot of d to w.
func Export(d *store.DurableStore, w io.Writer) (*Info, error) {
	data, info, err := Build(d)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress snapshot:\n%w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot:\n%w", err)
	}

	logger.Info("snapshot exported",
		"version", info.Version,
		"entries", info.Entries,
		"raw_bytes", len(data),
	)

	return info, nil
}

// Import reads a compressed snapshot from r into the empty store d.
func Import(d *store.DurableStore, r io.Reader) (*Info, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	return Apply(d, data)
}

// Build returns the uncompressed snapshot of d.
func Build(d *store.DurableStore) ([]byte, *Info, error) {
	version := d.Version()

	entries, err := collect(d.Storage())
	if err != nil {
		return nil, nil, fmt.Errorf("collect entries:\n%w", err)
	}

	info := &Info{Version: version, Entries: len(entries), Checksum: checksum(version, entries)}

	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(info.Checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, version)
	types.SnapshotAddEntries(builder, entriesVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes(), info, nil
}

// Apply verifies an uncompressed snapshot and writes it into the empty
// store d in one batch.
func Apply(d *store.DurableStore, data []byte) (info *Info, err error) {
	if d.Version() != 0 {
		return nil, fmt.Errorf("%w: version %d", ErrNotEmpty, d.Version())
	}
	if has, err := d.Storage().HasPrefix(nil); err != nil {
		return nil, fmt.Errorf("check store:\n%w", err)
	} else if has {
		return nil, ErrNotEmpty
	}

	entries, info, err := parse(data)
	if err != nil {
		return nil, err
	}

	pairs := make([]storage.KeyValue, len(entries))
	for i, e := range entries {
		pairs[i] = storage.KeyValue{Key: e.key, Value: e.value}
	}
	if err := d.Storage().SetBatch(pairs); err != nil {
		return nil, fmt.Errorf("commit snapshot:\n%w", err)
	}

	if err := d.Reload(); err != nil {
		return nil, err
	}
	if d.Version() != info.Version {
		return nil, fmt.Errorf("%w: version %d after import, snapshot says %d", ErrCorrupt, d.Version(), info.Version)
	}

	logger.Info("snapshot imported", "version", info.Version, "entries", info.Entries)

	return info, nil
}

// parse decodes and verifies a snapshot.
func parse(data []byte) (entries []entry, info *Info, err error) {
	// flatbuffers panics on malformed offsets.
	defer func() {
		if r := recover(); r != nil {
			entries, info, err = nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}

	snap := types.GetRootAsSnapshot(data, 0)

	stored := snap.ChecksumBytes()
	if len(stored) != 32 {
		return nil, nil, fmt.Errorf("%w: checksum length %d", ErrCorrupt, len(stored))
	}

	entries = make([]entry, snap.EntriesLength())
	var e types.SnapshotEntry

	for i := range entries {
		if !snap.Entries(&e, i) {
			return nil, nil, fmt.Errorf("%w: entry %d", ErrCorrupt, i)
		}
		entries[i] = entry{
			key:   append([]byte(nil), e.KeyBytes()...),
			value: append([]byte(nil), e.ValueBytes()...),
		}
		if i > 0 && bytes.Compare(entries[i-1].key, entries[i].key) >= 0 {
			return nil, nil, fmt.Errorf("%w: keys out of order at %d", ErrCorrupt, i)
		}
	}

	info = &Info{Version: snap.Version(), Entries: len(entries)}
	info.Checksum = checksum(info.Version, entries)

	if !bytes.Equal(info.Checksum[:], stored) {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	return entries, info, nil
}

// collect copies every raw entry in key order.
func collect(db *storage.Storage) ([]entry, error) {
	var entries []entry

	err := db.Iterate(func(key, value []byte) error {
		entries = append(entries, entry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})
		return nil
	})

	return entries, err
}

// checksum hashes the version then each length-prefixed key and value.
func checksum(version uint64, entries []entry) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	hasher.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		hasher.Write(buf[:4])
		hasher.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		hasher.Write(buf[:4])
		hasher.Write(e.value)
	}

	var sum [32]byte
	hasher.Sum(sum[:0])

	return sum
}
