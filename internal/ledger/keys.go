package ledger

import (
	"encoding/binary"

	"CipherPool/internal/he"
)

// Pebble key layout. Single-byte-tag prefixes keep the keyspaces
// disjoint and cheap to scan.
var (
	prefixSubmitted  = []byte("s:") // s:<principal> -> 1
	prefixPermission = []byte("p:") // p:<handle><principal> -> 1
	prefixPublic     = []byte("d:") // d:<handle> -> 1
	prefixPending    = []byte("q:") // q:<principal> -> handle
	prefixUsed       = []byte("u:") // u:<handle> -> 1
	prefixAverage    = []byte("r:") // r:<principal> -> uint64 LE
	keyCount         = []byte("m:count")
	keyTotal         = []byte("m:total")
)

// flagValue marks set-membership entries.
var flagValue = []byte{1}

// submittedKey builds the submission flag key for a principal.
func submittedKey(p Principal) []byte {
	return append(append([]byte{}, prefixSubmitted...), p[:]...)
}

// permissionKey builds the capability key for (handle, principal).
func permissionKey(h he.Handle, p Principal) []byte {
	key := make([]byte, 0, len(prefixPermission)+he.HandleSize+PrincipalSize)
	key = append(key, prefixPermission...)
	key = append(key, h[:]...)
	key = append(key, p[:]...)
	return key
}

// publicFlagKey builds the publicly-decryptable flag key for a handle.
func publicFlagKey(h he.Handle) []byte {
	return append(append([]byte{}, prefixPublic...), h[:]...)
}

// pendingKey builds the pending-decryption key for a principal.
func pendingKey(p Principal) []byte {
	return append(append([]byte{}, prefixPending...), p[:]...)
}

// usedKey builds the replay-guard key for a handle.
func usedKey(h he.Handle) []byte {
	return append(append([]byte{}, prefixUsed...), h[:]...)
}

// averageKey builds the last-average key for a principal.
func averageKey(p Principal) []byte {
	return append(append([]byte{}, prefixAverage...), p[:]...)
}

// encodeCount encodes the submission count as 4 bytes little-endian.
func encodeCount(count uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, count)
	return buf
}

// decodeCount decodes the submission count. Missing or short values
// decode to zero, matching the uninitialized ledger.
func decodeCount(value []byte) uint32 {
	if len(value) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(value)
}

// encodeAverage encodes a verified average as 8 bytes little-endian.
func encodeAverage(avg uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, avg)
	return buf
}

// decodeAverage decodes a verified average, defaulting to zero.
func decodeAverage(value []byte) uint64 {
	if len(value) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(value)
}
