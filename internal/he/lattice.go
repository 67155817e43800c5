package he

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// latticeParams are the BFV parameters used by the production backend.
// The plaintext modulus bounds the largest representable encrypted sum.
var latticeParams = heint.ParametersLiteral{
	LogN:             13,
	LogQ:             []int{22, 22, 22, 22, 22, 22},
	LogP:             []int{31},
	PlaintextModulus: PlaintextModulus,
}

// Lattice is the production engine backend on BFV. Ciphertexts live in
// memory keyed by handle; handles are BLAKE3 derivations over the
// operation that produced them, so the protocol sees the same handle
// algebra as with the plain backend.
//
// Division by a plaintext scalar is realized as multiplication by the
// scalar's inverse mod PlaintextModulus; BFV has no native integer
// division. The quotient equals the integer quotient only when the
// divisor divides the encrypted value, and the plain backend computes
// the identical modular quotient.
type Lattice struct {
	mu        sync.Mutex
	params    heint.Parameters
	encoder   *heint.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *heint.Evaluator
	cts       map[Handle]*rlwe.Ciphertext
	seq       uint64
	authority authoritySet
}

// NewLattice creates a lattice engine with a fresh key pair, trusting
// the given authority public keys for decryption proofs.
func NewLattice(authorityKeys [][]byte) (*Lattice, error) {
	params, err := heint.NewParametersFromLiteral(latticeParams)
	if err != nil {
		return nil, fmt.Errorf("build parameters:\n%w", err)
	}

	sk, pk := rlwe.NewKeyGenerator(params).GenKeyPairNew()

	return &Lattice{
		params:    params,
		encoder:   heint.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		decryptor: rlwe.NewDecryptor(params, sk),
		evaluator: heint.NewEvaluator(params, nil),
		cts:       make(map[Handle]*rlwe.Ciphertext),
		authority: authoritySet{keys: authorityKeys},
	}, nil
}

// MaxValue returns the largest value an encrypted sum may reach before
// wrapping in the plaintext modulus.
func (l *Lattice) MaxValue() uint64 {
	return l.params.PlaintextModulus() - 1
}

// Encrypt produces the external ciphertext form for a value. Client
// side only; the ledger never calls this.
func (l *Lattice) Encrypt(value uint64) ([]byte, error) {
	if value >= l.params.PlaintextModulus() {
		return nil, fmt.Errorf("value %d exceeds plaintext modulus", value)
	}

	pt := heint.NewPlaintext(l.params, l.params.MaxLevel())
	if err := l.encoder.Encode([]uint64{value}, pt); err != nil {
		return nil, fmt.Errorf("encode value:\n%w", err)
	}

	ct := heint.NewCiphertext(l.params, 1, l.params.MaxLevel())

	l.mu.Lock()
	err := l.encryptor.Encrypt(pt, ct)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("encrypt value:\n%w", err)
	}

	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext:\n%w", err)
	}

	return data, nil
}

// FromExternal validates the input proof, deserializes the ciphertext
// and registers it under a fresh handle.
func (l *Lattice) FromExternal(ciphertext, inputProof []byte, binding Binding) (Handle, error) {
	if !verifyInput(ciphertext, inputProof, binding) {
		return Handle{}, ErrInvalidInputProof
	}

	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(ciphertext); err != nil {
		return Handle{}, fmt.Errorf("unmarshal ciphertext:\n%w", err)
	}

	handle := deriveHandle("input", ciphertext, binding.Ledger[:], binding.Submitter[:])

	l.mu.Lock()
	l.cts[handle] = ct
	l.mu.Unlock()

	return handle, nil
}

// Add produces a fresh handle holding the sum of both operands.
func (l *Lattice) Add(a, b Handle) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cta, ok := l.cts[a]
	if !ok {
		return Handle{}, fmt.Errorf("add operand %s: %w", a, ErrUnknownHandle)
	}

	ctb, ok := l.cts[b]
	if !ok {
		return Handle{}, fmt.Errorf("add operand %s: %w", b, ErrUnknownHandle)
	}

	sum := heint.NewCiphertext(l.params, 1, l.params.MaxLevel())
	if err := l.evaluator.Add(cta, ctb, sum); err != nil {
		return Handle{}, fmt.Errorf("homomorphic add:\n%w", err)
	}

	handle := deriveHandle("add", a[:], b[:], l.nextNonce())
	l.cts[handle] = sum

	return handle, nil
}

// DivPlain multiplies the operand by the divisor's inverse mod
// PlaintextModulus. Exact integer division only when the divisor
// divides the operand.
func (l *Lattice) DivPlain(h Handle, divisor uint64) (Handle, error) {
	if divisor == 0 {
		return Handle{}, ErrDivisionByZero
	}

	inv, err := plaintextInverse(divisor)
	if err != nil {
		return Handle{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ct, ok := l.cts[h]
	if !ok {
		return Handle{}, fmt.Errorf("div operand %s: %w", h, ErrUnknownHandle)
	}

	pt := heint.NewPlaintext(l.params, l.params.MaxLevel())
	if err := l.encoder.Encode([]uint64{inv}, pt); err != nil {
		return Handle{}, fmt.Errorf("encode inverse:\n%w", err)
	}

	quot := heint.NewCiphertext(l.params, 1, ct.Level())
	if err := l.evaluator.Mul(ct, pt, quot); err != nil {
		return Handle{}, fmt.Errorf("homomorphic scalar mul:\n%w", err)
	}

	var divisorBytes [8]byte
	binary.LittleEndian.PutUint64(divisorBytes[:], divisor)

	handle := deriveHandle("div", h[:], divisorBytes[:], l.nextNonce())
	l.cts[handle] = quot

	return handle, nil
}

// nextNonce returns a fresh per-operation nonce. Derived handles stay
// unique across calls even over identical operands; the caller must
// hold l.mu.
func (l *Lattice) nextNonce() []byte {
	l.seq++

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, l.seq)
	return buf
}

// VerifyDecryption checks the authority proof over the transcript.
func (l *Lattice) VerifyDecryption(handles []Handle, cleartext, proof []byte) error {
	return l.authority.verifyProof(handles, cleartext, proof)
}

// Decrypt returns the value behind a handle. Authority side only.
func (l *Lattice) Decrypt(h Handle) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ct, ok := l.cts[h]
	if !ok {
		return 0, fmt.Errorf("decrypt %s: %w", h, ErrUnknownHandle)
	}

	pt := heint.NewPlaintext(l.params, ct.Level())
	l.decryptor.Decrypt(ct, pt)

	values := make([]uint64, l.params.N())
	if err := l.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("decode plaintext:\n%w", err)
	}

	return values[0], nil
}
