package relayer

import (
	"errors"
	"fmt"

	"CipherPool/internal/he"
	"CipherPool/internal/logger"
)

// ErrNotPublic is returned for handles that were never marked
// publicly decryptable.
var ErrNotPublic = errors.New("handle is not publicly decryptable")

// Visibility answers whether a handle may be decrypted at all. The
// ledger implements it; the relayer never sees the rest of the ledger.
type Visibility interface {
	IsPubliclyDecryptable(h he.Handle) bool
}

// Relayer is the off-chain decryption side of the protocol. It holds
// the engine's decryption capability together with the authority
// signing keys, and turns a publicly-decryptable handle into a
// cleartext plus an aggregated proof the ledger will accept.
//
// The relayer is deliberately stateless: every result it produces is
// recomputed and re-signed, so restarting it loses nothing.
type Relayer struct {
	decryptor  he.Decryptor
	visibility Visibility
	keys       []*he.AuthorityKey
}

// New creates a relayer over the given decryptor and authority keys.
// The keys must cover the full authority set the ledger's engine was
// configured with, or verification will fail downstream.
func New(decryptor he.Decryptor, visibility Visibility, keys []*he.AuthorityKey) (*Relayer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("authority set is empty")
	}

	return &Relayer{
		decryptor:  decryptor,
		visibility: visibility,
		keys:       keys,
	}, nil
}

// Decrypt resolves a handle to its cleartext and an aggregated
// authority proof over it. Handles that are not publicly decryptable
// are refused before touching the decryptor.
func (r *Relayer) Decrypt(handle he.Handle) (cleartext, proof []byte, err error) {
	if !r.visibility.IsPubliclyDecryptable(handle) {
		return nil, nil, ErrNotPublic
	}

	value, err := r.decryptor.Decrypt(handle)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt handle:\n%w", err)
	}

	cleartext = he.EncodeCleartext(value)

	proof, err = r.sign([]he.Handle{handle}, cleartext)
	if err != nil {
		return nil, nil, fmt.Errorf("sign result:\n%w", err)
	}

	logger.Debug("handle decrypted", "handle", handle)

	return cleartext, proof, nil
}

// sign collects a proof share from every authority key and aggregates
// them into the single signature the ledger verifies.
func (r *Relayer) sign(handles []he.Handle, cleartext []byte) ([]byte, error) {
	message := he.DecryptionTranscript(handles, cleartext)

	shares := make([][]byte, 0, len(r.keys))
	for _, key := range r.keys {
		shares = append(shares, key.Sign(message))
	}

	return he.AggregateProofShares(shares)
}
