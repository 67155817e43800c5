package ledger

import (
	"encoding/hex"
	"fmt"
	"sync"

	"CipherPool/internal/he"
	"CipherPool/internal/logger"
	"CipherPool/internal/storage"
)

// PrincipalSize is the size of a principal identity in bytes.
const PrincipalSize = 32

// Principal identifies a party subject to the capability model: an
// external participant's Ed25519 public key, or the ledger's own
// identity.
type Principal [PrincipalSize]byte

// IsZero reports whether the principal is the zero value.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

// String returns a short hex form for logging.
func (p Principal) String() string {
	return hex.EncodeToString(p[:8])
}

// Ledger is the confidential aggregation core. It orchestrates the
// permission registry, submission ledger and decryption tracker over
// one Pebble store, with the homomorphic engine as an opaque
// collaborator.
//
// Every mutating operation runs under the mutex and lands as a single
// atomic batch: no two mutations interleave, and a failed call writes
// nothing. View reads go straight to storage and only ever observe
// committed batches.
type Ledger struct {
	mu       sync.Mutex
	db       *storage.Storage
	engine   he.Engine
	identity Principal // identity is the ledger's own principal
	events   *Feed
}

// New creates a ledger over the given storage and engine. The identity
// is the principal the ledger grants itself when combining handles.
func New(db *storage.Storage, engine he.Engine, identity Principal) *Ledger {
	return &Ledger{
		db:       db,
		engine:   engine,
		identity: identity,
		events:   NewFeed(),
	}
}

// Identity returns the ledger's own principal.
func (l *Ledger) Identity() Principal {
	return l.identity
}

// Events returns the ledger's notification feed.
func (l *Ledger) Events() *Feed {
	return l.events
}

// Submit records one encrypted salary for a principal. Each principal
// may submit exactly once; the second attempt fails with
// ErrAlreadySubmitted before anything is written. The input proof is
// validated by the engine against the (ledger, principal) binding.
func (l *Ledger) Submit(principal Principal, ciphertext, inputProof []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	submitted, err := l.db.Has(submittedKey(principal))
	if err != nil {
		return fmt.Errorf("read submission flag:\n%w", err)
	}
	if submitted {
		return ErrAlreadySubmitted
	}

	binding := he.Binding{Ledger: [32]byte(l.identity), Submitter: [32]byte(principal)}

	handle, err := l.engine.FromExternal(ciphertext, inputProof, binding)
	if err != nil {
		return fmt.Errorf("register ciphertext:\n%w", err)
	}

	tx := l.newTxn()

	// The ledger needs the capability on the fresh handle before it
	// may appear as an operand.
	tx.grant(handle, l.identity)

	count := l.count()
	total := handle

	if count > 0 {
		prev := l.totalHandle()

		if err := tx.requireGranted(prev, l.identity); err != nil {
			return fmt.Errorf("combine total:\n%w", err)
		}
		if err := tx.requireGranted(handle, l.identity); err != nil {
			return fmt.Errorf("combine total:\n%w", err)
		}

		// The old total handle is abandoned here: never decryptable,
		// never an operand again.
		total, err = l.engine.Add(prev, handle)
		if err != nil {
			return fmt.Errorf("combine total:\n%w", err)
		}
	}

	newCount := count + 1

	tx.set(keyCount, encodeCount(newCount))
	tx.set(keyTotal, total[:])
	tx.set(submittedKey(principal), flagValue)
	tx.grant(total, l.identity)
	tx.grant(total, principal)

	if err := tx.commit(); err != nil {
		return fmt.Errorf("commit submission:\n%w", err)
	}

	logger.Info("salary submitted", "principal", principal, "count", newCount)
	l.events.publish(SalarySubmitted{Principal: principal, Count: newCount})

	return nil
}

// RequestAverage computes a fresh encrypted average handle for the
// requester and marks it publicly decryptable. Fails with
// ErrNoSalariesSubmitted while the ledger is empty (the engine's
// plaintext division is undefined for a zero divisor).
//
// The average is recomputed on every call, so successive requesters
// receive distinct handles even for the same numeric average; each
// must be verified independently. A new request by the same requester
// overwrites a still-pending handle, which then stays publicly
// decryptable but is never referenced again.
//
// The handle holds sum * count^-1 in the engine's plaintext ring:
// that is the integer average only when count divides the sum.
// A requester that needs the rounded average must recover it from the
// decrypted quotient (multiply back by count mod the ring modulus to
// obtain the sum, then divide down).
func (l *Ledger) RequestAverage(requester Principal) (he.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.count()
	if count == 0 {
		return he.Handle{}, ErrNoSalariesSubmitted
	}

	total := l.totalHandle()
	tx := l.newTxn()

	if err := tx.requireGranted(total, l.identity); err != nil {
		return he.Handle{}, fmt.Errorf("divide total:\n%w", err)
	}

	avg, err := l.engine.DivPlain(total, uint64(count))
	if err != nil {
		return he.Handle{}, fmt.Errorf("divide total:\n%w", err)
	}

	tx.grant(avg, l.identity)
	tx.grant(avg, requester)
	tx.markPublic(avg)
	tx.set(pendingKey(requester), avg[:])

	if err := tx.commit(); err != nil {
		return he.Handle{}, fmt.Errorf("commit average request:\n%w", err)
	}

	logger.Info("average requested", "requester", requester, "handle", avg)
	l.events.publish(AverageRequested{Requester: requester, Handle: avg})

	return avg, nil
}

// VerifyDecryption consumes a decryption result for the requester's
// pending handle. Preconditions are checked in order: a pending
// request must exist, the handle must not have been consumed before,
// and the proof must validate against the authority set. A proof
// failure leaves the pending request intact so the caller can retry
// with a corrected result.
func (l *Ledger) VerifyDecryption(requester Principal, cleartext, proof []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending, err := l.db.Get(pendingKey(requester))
	if err != nil {
		return fmt.Errorf("read pending request:\n%w", err)
	}
	if len(pending) != he.HandleSize {
		return ErrNoPendingDecryption
	}

	var handle he.Handle
	copy(handle[:], pending)

	used, err := l.db.Has(usedKey(handle))
	if err != nil {
		return fmt.Errorf("read replay guard:\n%w", err)
	}
	if used {
		return ErrHandleAlreadyUsed
	}

	// Authoritative: nothing below runs unless the authority set
	// really signed this (handle, cleartext) pair.
	if err := l.engine.VerifyDecryption([]he.Handle{handle}, cleartext, proof); err != nil {
		return err
	}

	avg, err := he.DecodeCleartext(cleartext)
	if err != nil {
		return fmt.Errorf("decode cleartext:\n%w", err)
	}

	tx := l.newTxn()
	tx.set(averageKey(requester), encodeAverage(avg))
	tx.set(usedKey(handle), flagValue)
	tx.remove(pendingKey(requester))

	if err := tx.commit(); err != nil {
		return fmt.Errorf("commit verification:\n%w", err)
	}

	logger.Info("average decrypted", "requester", requester, "average", avg)
	l.events.publish(AverageDecrypted{Requester: requester, Average: avg})

	return nil
}
