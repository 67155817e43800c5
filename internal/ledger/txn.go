package ledger

import (
	"fmt"

	"CipherPool/internal/he"
	"CipherPool/internal/storage"
)

// txn accumulates the writes of one ledger operation and commits them
// as a single atomic Pebble batch. Nothing reaches storage until
// commit, so any error path before it leaves the ledger untouched.
//
// Capability grants staged in the txn are visible to granted/
// requireGranted, which is what lets an operation establish permission
// on a handle and use it as an operand within the same logical step.
type txn struct {
	l      *Ledger
	writes []storage.Write
	staged map[string]struct{}
}

// newTxn creates an empty transaction against the ledger.
func (l *Ledger) newTxn() *txn {
	return &txn{
		l:      l,
		staged: make(map[string]struct{}),
	}
}

// set stages a key-value write.
func (tx *txn) set(key, value []byte) {
	tx.writes = append(tx.writes, storage.Write{Key: key, Value: value})
	tx.staged[string(key)] = struct{}{}
}

// remove stages a key deletion.
func (tx *txn) remove(key []byte) {
	tx.writes = append(tx.writes, storage.Write{Key: key, Delete: true})
}

// grant stages a capability for (handle, principal). Granting an
// already-held capability is a no-op.
func (tx *txn) grant(h he.Handle, p Principal) {
	if tx.granted(h, p) {
		return
	}
	tx.set(permissionKey(h, p), flagValue)
}

// granted reports whether (handle, principal) holds a capability,
// considering both persisted state and writes staged in this txn.
func (tx *txn) granted(h he.Handle, p Principal) bool {
	key := permissionKey(h, p)
	if _, ok := tx.staged[string(key)]; ok {
		return true
	}

	has, err := tx.l.db.Has(key)
	return err == nil && has
}

// requireGranted fails unless the capability exists. Called before a
// handle is passed to the engine as an operand; a failure here means a
// protocol invariant was broken, not a caller mistake.
func (tx *txn) requireGranted(h he.Handle, p Principal) error {
	if !tx.granted(h, p) {
		return fmt.Errorf("missing capability for handle %s", h)
	}
	return nil
}

// markPublic stages the publicly-decryptable flag for a handle. The
// flag is one-directional: nothing ever clears it.
func (tx *txn) markPublic(h he.Handle) {
	tx.set(publicFlagKey(h), flagValue)
}

// commit applies all staged writes atomically.
func (tx *txn) commit() error {
	return tx.l.db.Commit(tx.writes)
}
