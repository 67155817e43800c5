package he

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Input proofs bind an external ciphertext to (ledger, submitter).
// The submitter signs a BLAKE3 transcript of the binding and the
// ciphertext digest with the same Ed25519 key that identifies it as a
// principal, so a valid proof simultaneously authenticates the
// submitter and pins the ciphertext to this ledger.

// SignInput produces the input proof for a ciphertext under the given
// binding. The private key must correspond to binding.Submitter.
func SignInput(priv ed25519.PrivateKey, ciphertext []byte, binding Binding) []byte {
	return ed25519.Sign(priv, inputTranscript(ciphertext, binding))
}

// verifyInput checks an input proof against its binding.
func verifyInput(ciphertext, proof []byte, binding Binding) bool {
	if len(proof) != ed25519.SignatureSize {
		return false
	}

	pub := ed25519.PublicKey(binding.Submitter[:])
	return ed25519.Verify(pub, inputTranscript(ciphertext, binding), proof)
}

// inputTranscript computes the signed transcript for an input proof.
func inputTranscript(ciphertext []byte, binding Binding) []byte {
	digest := blake3.Sum256(ciphertext)

	h := blake3.New()
	h.Write([]byte("cipherpool-input-v1"))
	h.Write(binding.Ledger[:])
	h.Write(binding.Submitter[:])
	h.Write(digest[:])

	var out [32]byte
	h.Sum(out[:0])
	return out[:]
}

// DecryptionTranscript computes the message the decryption authority
// set signs: a BLAKE3 digest over the handles being decrypted and the
// cleartext they decrypt to. Including the handles makes a proof for
// one handle useless for any other.
func DecryptionTranscript(handles []Handle, cleartext []byte) []byte {
	h := blake3.New()
	h.Write([]byte("cipherpool-decryption-v1"))

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(handles)))
	h.Write(count[:])

	for _, handle := range handles {
		h.Write(handle[:])
	}
	h.Write(cleartext)

	var out [32]byte
	h.Sum(out[:0])
	return out[:]
}

// authoritySet verifies decryption proofs against a fixed set of
// authority public keys. Shared by all engine backends.
type authoritySet struct {
	keys [][]byte // keys are compressed BLS public keys
}

// verifyProof checks an aggregated authority signature over the
// decryption transcript.
func (a authoritySet) verifyProof(handles []Handle, cleartext, proof []byte) error {
	msg := DecryptionTranscript(handles, cleartext)

	if !VerifyAuthorities(proof, msg, a.keys) {
		return ErrInvalidDecryptionProof
	}

	return nil
}
