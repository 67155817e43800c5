package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"CipherPool/internal/storage"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1
)

// Snapshot serializes the full ledger keyspace into a zstd-compressed,
// checksummed blob for backup. Pebble iterates in key order, so two
// snapshots of the same state are byte-identical.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries bytes.Buffer
	var count uint64

	err := l.db.Iterate(func(key, value []byte) error {
		writeEntry(&entries, key, value)
		count++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect ledger state:\n%w", err)
	}

	payload := buildSnapshotPayload(count, entries.Bytes())

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(payload, nil), nil
}

// Restore replaces the ledger keyspace with a snapshot's contents.
// Keys present in the store but absent from the snapshot are deleted,
// so restoring onto a ledger that has advanced rolls it back instead
// of merging the two states. The checksum is verified before anything
// is written; all entries and deletions land in one atomic batch.
func (l *Ledger) Restore(snapshot []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("create zstd decoder:\n%w", err)
	}
	defer decoder.Close()

	payload, err := decoder.DecodeAll(snapshot, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot:\n%w", err)
	}

	count, entries, err := parseSnapshotPayload(payload)
	if err != nil {
		return err
	}

	writes := make([]storage.Write, 0, count)
	restored := make(map[string]struct{}, count)

	for i := uint64(0); i < count; i++ {
		key, value, rest, err := readEntry(entries)
		if err != nil {
			return fmt.Errorf("snapshot entry %d:\n%w", i, err)
		}
		entries = rest

		writes = append(writes, storage.Write{Key: key, Value: value})
		restored[string(key)] = struct{}{}
	}

	err = l.db.Iterate(func(key, value []byte) error {
		if _, ok := restored[string(key)]; !ok {
			writes = append(writes, storage.Write{Key: append([]byte{}, key...), Delete: true})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan stale keys:\n%w", err)
	}

	if err := l.db.Commit(writes); err != nil {
		return fmt.Errorf("apply snapshot:\n%w", err)
	}

	return nil
}

// buildSnapshotPayload assembles version, checksum, count and entries.
func buildSnapshotPayload(count uint64, entries []byte) []byte {
	checksum := snapshotChecksum(count, entries)

	payload := make([]byte, 0, 4+32+8+len(entries))
	payload = binary.LittleEndian.AppendUint32(payload, snapshotVersion)
	payload = append(payload, checksum[:]...)
	payload = binary.LittleEndian.AppendUint64(payload, count)
	payload = append(payload, entries...)

	return payload
}

// parseSnapshotPayload validates the header and returns count and
// entry bytes.
func parseSnapshotPayload(payload []byte) (uint64, []byte, error) {
	if len(payload) < 4+32+8 {
		return 0, nil, fmt.Errorf("snapshot too short: %d bytes", len(payload))
	}

	version := binary.LittleEndian.Uint32(payload[:4])
	if version != snapshotVersion {
		return 0, nil, fmt.Errorf("unsupported snapshot version %d", version)
	}

	var checksum [32]byte
	copy(checksum[:], payload[4:36])

	count := binary.LittleEndian.Uint64(payload[36:44])
	entries := payload[44:]

	if snapshotChecksum(count, entries) != checksum {
		return 0, nil, fmt.Errorf("snapshot checksum mismatch")
	}

	return count, entries, nil
}

// snapshotChecksum computes the BLAKE3 checksum over count and entries.
func snapshotChecksum(count uint64, entries []byte) [32]byte {
	h := blake3.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	h.Write(buf[:])
	h.Write(entries)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// writeEntry appends one length-prefixed key-value pair.
func writeEntry(buf *bytes.Buffer, key, value []byte) {
	var size [4]byte

	binary.LittleEndian.PutUint32(size[:], uint32(len(key)))
	buf.Write(size[:])
	buf.Write(key)

	binary.LittleEndian.PutUint32(size[:], uint32(len(value)))
	buf.Write(size[:])
	buf.Write(value)
}

// readEntry parses one length-prefixed key-value pair, returning the
// remaining bytes.
func readEntry(data []byte) (key, value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, nil, fmt.Errorf("truncated key length")
	}

	klen := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < klen {
		return nil, nil, nil, fmt.Errorf("truncated key")
	}

	key = append([]byte{}, data[:klen]...)
	data = data[klen:]

	if len(data) < 4 {
		return nil, nil, nil, fmt.Errorf("truncated value length")
	}

	vlen := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < vlen {
		return nil, nil, nil, fmt.Errorf("truncated value")
	}

	value = append([]byte{}, data[:vlen]...)

	return key, value, data[vlen:], nil
}
