package relayer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/storage"
)

// testFixture wires a ledger, its engine and a relayer sharing the
// same authority set.
type testFixture struct {
	ledger  *ledger.Ledger
	engine  *he.Plain
	relayer *Relayer
}

// newTestFixture builds the fixture with the given number of
// authority members.
func newTestFixture(t *testing.T, members int) *testFixture {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keys := make([]*he.AuthorityKey, members)
	publics := make([][]byte, members)

	for i := range keys {
		key, err := he.GenerateAuthorityKey()
		if err != nil {
			t.Fatalf("generate authority key: %v", err)
		}
		keys[i] = key
		publics[i] = key.PublicKeyBytes()
	}

	engine := he.NewPlain(publics)
	l := ledger.New(db, engine, ledger.Principal{0xAA})

	r, err := New(engine, l, keys)
	if err != nil {
		t.Fatalf("create relayer: %v", err)
	}

	return &testFixture{ledger: l, engine: engine, relayer: r}
}

// submitSalary submits one salary for a fresh party.
func (f *testFixture) submitSalary(t *testing.T, value uint64) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate party key: %v", err)
	}

	var party ledger.Principal
	copy(party[:], pub)

	ct, err := f.engine.Encrypt(value)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	binding := he.Binding{Ledger: [32]byte(f.ledger.Identity()), Submitter: [32]byte(party)}

	if err := f.ledger.Submit(party, ct, he.SignInput(priv, ct, binding)); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

// TestDecrypt_RoundTrip tests that the relayer's result passes the
// ledger's verification and records the average.
func TestDecrypt_RoundTrip(t *testing.T) {
	f := newTestFixture(t, 1)

	f.submitSalary(t, 50000)
	f.submitSalary(t, 60000)
	f.submitSalary(t, 70000)

	requester := ledger.Principal{0x01}

	handle, err := f.ledger.RequestAverage(requester)
	if err != nil {
		t.Fatalf("request average: %v", err)
	}

	cleartext, proof, err := f.relayer.Decrypt(handle)
	if err != nil {
		t.Fatalf("relayer decrypt: %v", err)
	}

	if err := f.ledger.VerifyDecryption(requester, cleartext, proof); err != nil {
		t.Fatalf("verify decryption: %v", err)
	}

	if got := f.ledger.LastAverage(requester); got != 60000 {
		t.Fatalf("expected average 60000, got %d", got)
	}
}

// TestDecrypt_RefusesPrivateHandle tests that a handle the ledger
// never marked public cannot be decrypted through the relayer.
func TestDecrypt_RefusesPrivateHandle(t *testing.T) {
	f := newTestFixture(t, 1)

	f.submitSalary(t, 52000)

	var private he.Handle
	if _, _, err := f.relayer.Decrypt(private); !errors.Is(err, ErrNotPublic) {
		t.Fatalf("expected ErrNotPublic, got %v", err)
	}
}

// TestDecrypt_MultiAuthority tests that a multi-member authority set
// produces a proof covering every member.
func TestDecrypt_MultiAuthority(t *testing.T) {
	f := newTestFixture(t, 3)

	f.submitSalary(t, 52000)

	requester := ledger.Principal{0x02}

	handle, err := f.ledger.RequestAverage(requester)
	if err != nil {
		t.Fatalf("request average: %v", err)
	}

	cleartext, proof, err := f.relayer.Decrypt(handle)
	if err != nil {
		t.Fatalf("relayer decrypt: %v", err)
	}

	if err := f.ledger.VerifyDecryption(requester, cleartext, proof); err != nil {
		t.Fatalf("verify decryption: %v", err)
	}
}

// TestNew_EmptyAuthoritySet tests that a relayer without keys is
// rejected at construction.
func TestNew_EmptyAuthoritySet(t *testing.T) {
	f := newTestFixture(t, 1)

	if _, err := New(f.engine, f.ledger, nil); err == nil {
		t.Fatal("expected empty authority set to be rejected")
	}
}
