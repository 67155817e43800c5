package he

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Plain is the plaintext test double: the same Engine contract as the
// lattice backend, with arithmetic mod PlaintextModulus behind it so
// both backends decrypt every operation to the same value. The
// "ciphertext" is the value's 8-byte little-endian form, so tests can
// drive the full protocol without lattice parameters or keys.
type Plain struct {
	mu        sync.Mutex
	values    map[Handle]uint64
	seq       uint64
	authority authoritySet
}

// NewPlain creates a plaintext engine trusting the given authority
// public keys for decryption proofs.
func NewPlain(authorityKeys [][]byte) *Plain {
	return &Plain{
		values:    make(map[Handle]uint64),
		authority: authoritySet{keys: authorityKeys},
	}
}

// Encrypt produces the external ciphertext form for a value. Client
// side only; the ledger never calls this.
func (p *Plain) Encrypt(value uint64) ([]byte, error) {
	if value >= PlaintextModulus {
		return nil, fmt.Errorf("value %d exceeds plaintext modulus", value)
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf, nil
}

// FromExternal validates the input proof and registers the ciphertext
// under a fresh handle.
func (p *Plain) FromExternal(ciphertext, inputProof []byte, binding Binding) (Handle, error) {
	if !verifyInput(ciphertext, inputProof, binding) {
		return Handle{}, ErrInvalidInputProof
	}

	if len(ciphertext) != 8 {
		return Handle{}, fmt.Errorf("plain ciphertext must be 8 bytes, got %d", len(ciphertext))
	}

	value := binary.LittleEndian.Uint64(ciphertext) % PlaintextModulus
	handle := deriveHandle("input", ciphertext, binding.Ledger[:], binding.Submitter[:])

	p.mu.Lock()
	p.values[handle] = value
	p.mu.Unlock()

	return handle, nil
}

// Add produces a fresh handle holding the sum of both operands.
func (p *Plain) Add(a, b Handle) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	va, ok := p.values[a]
	if !ok {
		return Handle{}, fmt.Errorf("add operand %s: %w", a, ErrUnknownHandle)
	}

	vb, ok := p.values[b]
	if !ok {
		return Handle{}, fmt.Errorf("add operand %s: %w", b, ErrUnknownHandle)
	}

	handle := deriveHandle("add", a[:], b[:], p.nextNonce())
	p.values[handle] = (va + vb) % PlaintextModulus

	return handle, nil
}

// DivPlain multiplies the operand by the divisor's inverse mod
// PlaintextModulus, the same semantics as the lattice backend. Exact
// integer division only when the divisor divides the operand.
func (p *Plain) DivPlain(h Handle, divisor uint64) (Handle, error) {
	if divisor == 0 {
		return Handle{}, ErrDivisionByZero
	}

	inv, err := plaintextInverse(divisor)
	if err != nil {
		return Handle{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.values[h]
	if !ok {
		return Handle{}, fmt.Errorf("div operand %s: %w", h, ErrUnknownHandle)
	}

	var divisorBytes [8]byte
	binary.LittleEndian.PutUint64(divisorBytes[:], divisor)

	handle := deriveHandle("div", h[:], divisorBytes[:], p.nextNonce())
	p.values[handle] = v * inv % PlaintextModulus

	return handle, nil
}

// nextNonce returns a fresh per-operation nonce. Derived handles stay
// unique across calls even over identical operands; the caller must
// hold p.mu.
func (p *Plain) nextNonce() []byte {
	p.seq++

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.seq)
	return buf
}

// VerifyDecryption checks the authority proof over the transcript.
func (p *Plain) VerifyDecryption(handles []Handle, cleartext, proof []byte) error {
	return p.authority.verifyProof(handles, cleartext, proof)
}

// Decrypt returns the value behind a handle. Authority side only.
func (p *Plain) Decrypt(h Handle) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.values[h]
	if !ok {
		return 0, fmt.Errorf("decrypt %s: %w", h, ErrUnknownHandle)
	}

	return v, nil
}
