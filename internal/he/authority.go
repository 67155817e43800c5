package he

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// AuthorityPublicKeySize is the size of a BLS public key in bytes.
	AuthorityPublicKeySize = 48

	// AuthoritySignatureSize is the size of a BLS signature in bytes.
	AuthoritySignatureSize = 96
)

// authorityDST is the domain separation tag for decryption proofs.
var authorityDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// AuthorityKey holds a decryption authority's BLS key pair. Authority
// members sign decryption transcripts; the ledger only ever sees the
// public halves.
type AuthorityKey struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// AuthorityKeyFromED25519 derives a deterministic authority key from
// an Ed25519 private key, binding the authority identity to the
// holder's node key via BLAKE3("cipherpool-authority-keygen" || seed).
func AuthorityKeyFromED25519(privKey ed25519.PrivateKey) (*AuthorityKey, error) {
	seed := privKey.Seed()
	h := blake3.New()
	h.Write([]byte("cipherpool-authority-keygen"))
	h.Write(seed)

	var derived [32]byte
	h.Sum(derived[:0])

	return AuthorityKeyFromSeed(derived[:])
}

// GenerateAuthorityKey creates a new authority key pair from a random seed.
func GenerateAuthorityKey() (*AuthorityKey, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return AuthorityKeyFromSeed(ikm[:])
}

// AuthorityKeyFromSeed creates an authority key pair from a
// deterministic seed. The seed must be at least 32 bytes.
func AuthorityKeyFromSeed(seed []byte) (*AuthorityKey, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate authority key")
	}

	public := new(blst.P1Affine).From(secret)

	return &AuthorityKey{
		secret: secret,
		public: public,
	}, nil
}

// Sign creates a BLS signature over the message.
func (k *AuthorityKey) Sign(message []byte) []byte {
	sig := new(blst.P2Affine).Sign(k.secret, message, authorityDST)
	return sig.Compress()
}

// PublicKeyBytes returns the compressed public key bytes.
func (k *AuthorityKey) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// VerifyAuthority checks a single authority signature against a
// message and public key.
func VerifyAuthority(signature, message, publicKey []byte) bool {
	if len(signature) != AuthoritySignatureSize || len(publicKey) != AuthorityPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, authorityDST)
}

// AggregateProofShares combines the authority members' signatures over
// one decryption transcript into a single proof.
func AggregateProofShares(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))

	for i, sigBytes := range signatures {
		if len(sigBytes) != AuthoritySignatureSize {
			return nil, fmt.Errorf("invalid signature size at index %d", i)
		}

		sig := new(blst.P2Affine).Uncompress(sigBytes)
		if sig == nil {
			return nil, fmt.Errorf("invalid signature at index %d", i)
		}

		sigs[i] = sig
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAuthorities verifies an aggregated proof against a message and
// the full authority public key set. Every member must have signed.
func VerifyAuthorities(signature, message []byte, publicKeys [][]byte) bool {
	if len(signature) != AuthoritySignatureSize || len(publicKeys) == 0 {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))

	for i, pkBytes := range publicKeys {
		if len(pkBytes) != AuthorityPublicKeySize {
			return false
		}

		pk := new(blst.P1Affine).Uncompress(pkBytes)
		if pk == nil {
			return false
		}

		pks[i] = pk
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, true) {
		return false
	}

	return sig.Verify(true, aggPk.ToAffine(), true, message, authorityDST)
}
