package ledger

import (
	"CipherPool/internal/he"
)

// View accessors. Reads go straight to storage without taking the
// mutex: batches commit atomically, so a reader always observes the
// state left by some completed operation. Storage errors surface as
// zero values, matching an uninitialized ledger.

// Count returns the number of distinct principals that submitted.
func (l *Ledger) Count() uint32 {
	return l.count()
}

// HasSubmitted reports whether the principal already submitted.
func (l *Ledger) HasSubmitted(p Principal) bool {
	has, err := l.db.Has(submittedKey(p))
	return err == nil && has
}

// LastAverage returns the last average the principal verified, or
// zero before the first successful verification.
func (l *Ledger) LastAverage(p Principal) uint64 {
	value, err := l.db.Get(averageKey(p))
	if err != nil {
		return 0
	}
	return decodeAverage(value)
}

// PendingHandle returns the principal's outstanding decryption handle.
// The second return is false when no request is pending.
func (l *Ledger) PendingHandle(p Principal) (he.Handle, bool) {
	value, err := l.db.Get(pendingKey(p))
	if err != nil || len(value) != he.HandleSize {
		return he.Handle{}, false
	}

	var h he.Handle
	copy(h[:], value)
	return h, true
}

// IsGranted reports whether (handle, principal) holds a capability.
func (l *Ledger) IsGranted(h he.Handle, p Principal) bool {
	has, err := l.db.Has(permissionKey(h, p))
	return err == nil && has
}

// IsPubliclyDecryptable reports whether anyone may request the
// handle's decryption.
func (l *Ledger) IsPubliclyDecryptable(h he.Handle) bool {
	has, err := l.db.Has(publicFlagKey(h))
	return err == nil && has
}

// count reads the submission count.
func (l *Ledger) count() uint32 {
	value, err := l.db.Get(keyCount)
	if err != nil {
		return 0
	}
	return decodeCount(value)
}

// totalHandle reads the running encrypted total. Zero handle while the
// ledger is empty (count == 0 exactly when the total is uninitialized).
func (l *Ledger) totalHandle() he.Handle {
	value, err := l.db.Get(keyTotal)
	if err != nil || len(value) != he.HandleSize {
		return he.Handle{}
	}

	var h he.Handle
	copy(h[:], value)
	return h
}
