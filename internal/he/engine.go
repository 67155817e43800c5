package he

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/zeebo/blake3"
)

// HandleSize is the size of a ciphertext handle in bytes.
const HandleSize = 32

// CleartextSize is the size of the encoded cleartext carried in
// decryption results.
const CleartextSize = 8

// PlaintextModulus is the prime cleartext ring both backends compute
// in (21*2^17 + 1, NTT friendly for the lattice parameters). All
// engine arithmetic, including DivPlain's inverse multiplication, is
// modulo this value, so the backends agree on every input.
const PlaintextModulus = 2752513

// Handle is an opaque reference to one ciphertext held by an engine.
// A handle is immutable: every engine operation that produces a value
// produces a fresh handle, never rewrites an existing one.
type Handle [HandleSize]byte

// IsZero reports whether the handle is the zero value, used to
// represent "no handle".
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Bytes returns the handle's 32-byte identity.
func (h Handle) Bytes() []byte {
	return h[:]
}

// String returns a short hex form for logging.
func (h Handle) String() string {
	return hex.EncodeToString(h[:8])
}

// Binding ties an external ciphertext to the ledger it was produced
// for and the party that produced it. Input proofs are verified
// against the binding, so a ciphertext cannot be replayed into a
// different ledger or attributed to a different submitter.
type Binding struct {
	Ledger    [32]byte // Ledger is the identity of the aggregation ledger
	Submitter [32]byte // Submitter is the Ed25519 public key of the submitting party
}

var (
	// ErrInvalidInputProof is returned when an external ciphertext's
	// input proof does not validate against its binding.
	ErrInvalidInputProof = errors.New("invalid input proof")

	// ErrInvalidDecryptionProof is returned when a cleartext/proof pair
	// does not validate against the decryption authority set.
	ErrInvalidDecryptionProof = errors.New("invalid decryption proof")

	// ErrUnknownHandle is returned when an operand handle does not
	// reference a ciphertext known to the engine.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrDivisionByZero is returned by DivPlain for a zero divisor.
	ErrDivisionByZero = errors.New("division by plaintext zero")
)

// Engine is the homomorphic primitive the ledger is built on. The
// protocol never inspects ciphertexts, only moves handles between
// operations, so backends with real cryptography and plaintext test
// doubles are interchangeable.
type Engine interface {
	// FromExternal validates an externally produced ciphertext and its
	// input proof against the binding and registers it under a fresh
	// handle. Fails with ErrInvalidInputProof on a bad proof.
	FromExternal(ciphertext, inputProof []byte, binding Binding) (Handle, error)

	// Add combines two ciphertexts into a new one holding their sum.
	Add(a, b Handle) (Handle, error)

	// DivPlain divides a ciphertext by a plaintext scalar. Only
	// plaintext divisors are supported; encrypted divisors are outside
	// this engine's contract.
	DivPlain(h Handle, divisor uint64) (Handle, error)

	// VerifyDecryption checks that cleartext is the decryption of the
	// given handles, attested by the trusted decryption authority set.
	// Fails with ErrInvalidDecryptionProof otherwise.
	VerifyDecryption(handles []Handle, cleartext, proof []byte) error
}

// Decryptor is the capability held by the off-chain decryption
// authority. It is deliberately not part of Engine: the ledger core
// must never be able to decrypt.
type Decryptor interface {
	Decrypt(h Handle) (uint64, error)
}

// EncodeCleartext encodes a decrypted value as the 8-byte
// little-endian wire form carried in decryption results.
func EncodeCleartext(value uint64) []byte {
	buf := make([]byte, CleartextSize)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}

// DecodeCleartext decodes the 8-byte little-endian cleartext form.
func DecodeCleartext(cleartext []byte) (uint64, error) {
	if len(cleartext) != CleartextSize {
		return 0, fmt.Errorf("cleartext must be 8 bytes, got %d", len(cleartext))
	}
	return binary.LittleEndian.Uint64(cleartext), nil
}

// plaintextInverse computes divisor^-1 mod PlaintextModulus.
func plaintextInverse(divisor uint64) (uint64, error) {
	t := new(big.Int).SetUint64(PlaintextModulus)
	d := new(big.Int).SetUint64(divisor % PlaintextModulus)

	inv := new(big.Int).ModInverse(d, t)
	if inv == nil {
		return 0, fmt.Errorf("divisor %d has no inverse mod %d", divisor, uint64(PlaintextModulus))
	}

	return inv.Uint64(), nil
}

// deriveHandle computes a fresh handle as BLAKE3 over a domain tag and
// the identities that produced the value. Domain tags keep handles for
// different operations disjoint even over identical operand bytes.
func deriveHandle(tag string, parts ...[]byte) Handle {
	h := blake3.New()
	h.Write([]byte("cipherpool-handle/"))
	h.Write([]byte(tag))
	for _, p := range parts {
		var size [8]byte
		binary.LittleEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write(p)
	}

	var out Handle
	h.Sum(out[:0])
	return out
}
