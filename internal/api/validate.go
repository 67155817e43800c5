package api

import (
	"fmt"

	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/types"
)

const (
	// inputProofSize is the size of an Ed25519 input proof.
	inputProofSize = 64

	// decryptionProofSize is the size of a compressed BLS signature.
	decryptionProofSize = 96

	// maxCiphertextSize bounds the serialized ciphertext. The lattice
	// backend produces ciphertexts well under this.
	maxCiphertextSize = 1 << 19 // 512 KB
)

// validateSubmission parses and validates a FlatBuffers Submission.
// FlatBuffers panics on malformed data, so parsing recovers into an
// error.
func validateSubmission(data []byte) (sub *types.Submission, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			sub, retErr = nil, fmt.Errorf("malformed submission data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("submission data too short")
	}

	sub = types.GetRootAsSubmission(data, 0)

	if got := len(sub.PrincipalBytes()); got != ledger.PrincipalSize {
		return nil, fmt.Errorf("invalid principal size: got %d, want %d", got, ledger.PrincipalSize)
	}

	if got := len(sub.ProofBytes()); got != inputProofSize {
		return nil, fmt.Errorf("invalid input proof size: got %d, want %d", got, inputProofSize)
	}

	ctLen := len(sub.CiphertextBytes())
	if ctLen == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}
	if ctLen > maxCiphertextSize {
		return nil, fmt.Errorf("ciphertext too large: %d bytes", ctLen)
	}

	return sub, nil
}

// validateDecryptionResult parses and validates a FlatBuffers
// DecryptionResult.
func validateDecryptionResult(data []byte) (result *types.DecryptionResult, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			result, retErr = nil, fmt.Errorf("malformed decryption result data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("decryption result data too short")
	}

	result = types.GetRootAsDecryptionResult(data, 0)

	if got := len(result.RequesterBytes()); got != ledger.PrincipalSize {
		return nil, fmt.Errorf("invalid requester size: got %d, want %d", got, ledger.PrincipalSize)
	}

	if got := len(result.CleartextBytes()); got != he.CleartextSize {
		return nil, fmt.Errorf("invalid cleartext size: got %d, want %d", got, he.CleartextSize)
	}

	if got := len(result.ProofBytes()); got != decryptionProofSize {
		return nil, fmt.Errorf("invalid decryption proof size: got %d, want %d", got, decryptionProofSize)
	}

	return result, nil
}
