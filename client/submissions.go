package client

import (
	"encoding/hex"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"CipherPool/internal/he"
	"CipherPool/internal/types"
)

// Encryptor produces ciphertexts the node's engine accepts. Both
// engine backends implement it; a party typically holds the same
// backend configuration as the node.
type Encryptor interface {
	Encrypt(value uint64) ([]byte, error)
}

// SubmitSalary encrypts a salary, proves it for this wallet and ledger,
// and submits it to the node.
func (w *Wallet) SubmitSalary(c *Client, enc Encryptor, salary uint64) error {
	ciphertext, err := enc.Encrypt(salary)
	if err != nil {
		return fmt.Errorf("encrypt salary:\n%w", err)
	}

	binding := he.Binding{Ledger: c.identity, Submitter: w.Pubkey()}
	proof := he.SignInput(w.privKey, ciphertext, binding)

	body := buildSubmission(w.Pubkey(), ciphertext, proof)

	if err := postBinary(c.nodeAddr, "/submit", body); err != nil {
		return fmt.Errorf("submit salary:\n%w", err)
	}

	return nil
}

// RequestAverage asks the node for a fresh encrypted average handle
// pending for this wallet.
func (w *Wallet) RequestAverage(c *Client) (he.Handle, error) {
	pubkey := w.Pubkey()

	body := map[string]string{
		"requester": hex.EncodeToString(pubkey[:]),
	}

	var resp struct {
		Handle string `json:"handle"`
	}

	if err := httpPostJSON("http://"+c.nodeAddr+"/request-average", body, &resp); err != nil {
		return he.Handle{}, fmt.Errorf("request average:\n%w", err)
	}

	raw, err := hex.DecodeString(resp.Handle)
	if err != nil || len(raw) != he.HandleSize {
		return he.Handle{}, fmt.Errorf("invalid handle: %q", resp.Handle)
	}

	var h he.Handle
	copy(h[:], raw)

	return h, nil
}

// SubmitDecryptionResult delivers an off-chain decryption result for
// this wallet's pending handle and returns the verified average.
func (w *Wallet) SubmitDecryptionResult(c *Client, cleartext, proof []byte) (uint64, error) {
	body := buildDecryptionResult(w.Pubkey(), cleartext, proof)

	var resp struct {
		Average uint64 `json:"average"`
	}

	if err := postBinaryJSON(c.nodeAddr, "/verify", body, &resp); err != nil {
		return 0, fmt.Errorf("submit decryption result:\n%w", err)
	}

	return resp.Average, nil
}

// buildSubmission serializes a Submission FlatBuffers body.
func buildSubmission(principal [32]byte, ciphertext, proof []byte) []byte {
	builder := flatbuffers.NewBuilder(len(ciphertext) + 256)

	proofVec := builder.CreateByteVector(proof)
	ctVec := builder.CreateByteVector(ciphertext)
	principalVec := builder.CreateByteVector(principal[:])

	types.SubmissionStart(builder)
	types.SubmissionAddPrincipal(builder, principalVec)
	types.SubmissionAddCiphertext(builder, ctVec)
	types.SubmissionAddProof(builder, proofVec)
	builder.Finish(types.SubmissionEnd(builder))

	return builder.FinishedBytes()
}

// buildDecryptionResult serializes a DecryptionResult FlatBuffers body.
func buildDecryptionResult(requester [32]byte, cleartext, proof []byte) []byte {
	builder := flatbuffers.NewBuilder(256)

	proofVec := builder.CreateByteVector(proof)
	ctVec := builder.CreateByteVector(cleartext)
	requesterVec := builder.CreateByteVector(requester[:])

	types.DecryptionResultStart(builder)
	types.DecryptionResultAddRequester(builder, requesterVec)
	types.DecryptionResultAddCleartext(builder, ctVec)
	types.DecryptionResultAddProof(builder, proofVec)
	builder.Finish(types.DecryptionResultEnd(builder))

	return builder.FinishedBytes()
}
