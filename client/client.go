package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"CipherPool/internal/he"
)

// Client connects to a CipherPool node via HTTP.
type Client struct {
	nodeAddr string   // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	identity [32]byte // identity is the ledger's own principal
}

// Wallet holds the Ed25519 keypair a party submits and requests under.
type Wallet struct {
	privKey ed25519.PrivateKey // privKey is the Ed25519 private key
	pubKey  ed25519.PublicKey  // pubKey is the Ed25519 public key
}

// NewClient creates a client connected to a node.
// It fetches the ledger identity from the node's /status endpoint.
func NewClient(nodeAddr string) (*Client, error) {
	var status struct {
		Identity string `json:"identity"`
	}

	if err := httpGet("http://"+nodeAddr+"/status", &status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	idBytes, err := hex.DecodeString(status.Identity)
	if err != nil || len(idBytes) != 32 {
		return nil, fmt.Errorf("invalid ledger identity: %q", status.Identity)
	}

	c := &Client{nodeAddr: nodeAddr}
	copy(c.identity[:], idBytes)

	return c, nil
}

// Identity returns the ledger's principal.
func (c *Client) Identity() [32]byte {
	return c.identity
}

// NewWallet creates a new wallet with a random Ed25519 keypair.
func NewWallet() *Wallet {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	return &Wallet{
		privKey: priv,
		pubKey:  pub,
	}
}

// WalletFromKey creates a wallet around an existing private key.
func WalletFromKey(priv ed25519.PrivateKey) *Wallet {
	return &Wallet{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}
}

// Pubkey returns the wallet's public key as a 32-byte array.
func (w *Wallet) Pubkey() [32]byte {
	var pk [32]byte
	copy(pk[:], w.pubKey)
	return pk
}

// Count returns the number of submissions recorded by the node.
func (c *Client) Count() (uint32, error) {
	var resp struct {
		Count uint32 `json:"count"`
	}

	if err := httpGet("http://"+c.nodeAddr+"/count", &resp); err != nil {
		return 0, fmt.Errorf("get count:\n%w", err)
	}

	return resp.Count, nil
}

// HasSubmitted reports whether the principal already submitted.
func (c *Client) HasSubmitted(principal [32]byte) (bool, error) {
	var resp struct {
		Submitted bool `json:"submitted"`
	}

	url := "http://" + c.nodeAddr + "/submitted/" + hex.EncodeToString(principal[:])
	if err := httpGet(url, &resp); err != nil {
		return false, fmt.Errorf("get submitted:\n%w", err)
	}

	return resp.Submitted, nil
}

// LastAverage returns the last average the principal verified.
func (c *Client) LastAverage(principal [32]byte) (uint64, error) {
	var resp struct {
		Average uint64 `json:"average"`
	}

	url := "http://" + c.nodeAddr + "/average/" + hex.EncodeToString(principal[:])
	if err := httpGet(url, &resp); err != nil {
		return 0, fmt.Errorf("get average:\n%w", err)
	}

	return resp.Average, nil
}

// Decrypt asks the node's relayer for the cleartext and decryption
// proof of a publicly-decryptable handle.
func (c *Client) Decrypt(h he.Handle) (cleartext, proof []byte, err error) {
	body := map[string]string{
		"handle": hex.EncodeToString(h[:]),
	}

	var resp struct {
		Cleartext string `json:"cleartext"`
		Proof     string `json:"proof"`
	}

	if err := httpPostJSON("http://"+c.nodeAddr+"/decrypt", body, &resp); err != nil {
		return nil, nil, fmt.Errorf("decrypt handle:\n%w", err)
	}

	cleartext, err = hex.DecodeString(resp.Cleartext)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cleartext hex:\n%w", err)
	}

	proof, err = hex.DecodeString(resp.Proof)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid proof hex:\n%w", err)
	}

	return cleartext, proof, nil
}

// PendingHandle returns the principal's outstanding decryption handle.
func (c *Client) PendingHandle(principal [32]byte) (he.Handle, error) {
	var resp struct {
		Handle string `json:"handle"`
	}

	url := "http://" + c.nodeAddr + "/pending/" + hex.EncodeToString(principal[:])
	if err := httpGet(url, &resp); err != nil {
		return he.Handle{}, fmt.Errorf("get pending:\n%w", err)
	}

	raw, err := hex.DecodeString(resp.Handle)
	if err != nil || len(raw) != he.HandleSize {
		return he.Handle{}, fmt.Errorf("invalid handle: %q", resp.Handle)
	}

	var h he.Handle
	copy(h[:], raw)

	return h, nil
}
