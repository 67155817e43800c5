package client

import (
	"net/http/httptest"
	"strings"
	"testing"

	"CipherPool/internal/api"
	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/relayer"
	"CipherPool/internal/storage"
	"CipherPool/internal/types"
)

// testNode runs a full node behind an httptest server: storage,
// engine, ledger, relayer and the HTTP API.
type testNode struct {
	addr    string
	engine  *he.Plain
	ledger  *ledger.Ledger
	relayer *relayer.Relayer
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	key, err := he.GenerateAuthorityKey()
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}

	engine := he.NewPlain([][]byte{key.PublicKeyBytes()})
	l := ledger.New(db, engine, ledger.Principal{0xAA})

	r, err := relayer.New(engine, l, []*he.AuthorityKey{key})
	if err != nil {
		t.Fatalf("create relayer: %v", err)
	}

	server := httptest.NewServer(api.New(":0", l, r).Handler())
	t.Cleanup(server.Close)

	return &testNode{
		addr:    strings.TrimPrefix(server.URL, "http://"),
		engine:  engine,
		ledger:  l,
		relayer: r,
	}
}

// TestBuildSubmission verifies the FlatBuffers body parses back to its
// input fields.
func TestBuildSubmission(t *testing.T) {
	var principal [32]byte
	for i := range principal {
		principal[i] = byte(i + 1)
	}

	ciphertext := []byte{0x10, 0x20, 0x30}
	proof := make([]byte, 64)
	proof[0] = 0xFF

	body := buildSubmission(principal, ciphertext, proof)

	sub := types.GetRootAsSubmission(body, 0)

	if got := sub.PrincipalBytes(); len(got) != 32 || got[5] != principal[5] {
		t.Error("principal mismatch in parsed submission")
	}
	if got := sub.CiphertextBytes(); len(got) != 3 || got[1] != 0x20 {
		t.Error("ciphertext mismatch in parsed submission")
	}
	if got := sub.ProofBytes(); len(got) != 64 || got[0] != 0xFF {
		t.Error("proof mismatch in parsed submission")
	}
}

// TestBuildDecryptionResult verifies the FlatBuffers body parses back
// to its input fields.
func TestBuildDecryptionResult(t *testing.T) {
	var requester [32]byte
	requester[0] = 0x42

	cleartext := he.EncodeCleartext(60000)
	proof := make([]byte, 96)
	proof[95] = 0x01

	body := buildDecryptionResult(requester, cleartext, proof)

	result := types.GetRootAsDecryptionResult(body, 0)

	if got := result.RequesterBytes(); len(got) != 32 || got[0] != 0x42 {
		t.Error("requester mismatch in parsed result")
	}
	if got, err := he.DecodeCleartext(result.CleartextBytes()); err != nil || got != 60000 {
		t.Errorf("cleartext mismatch in parsed result: %d, %v", got, err)
	}
	if got := result.ProofBytes(); len(got) != 96 || got[95] != 0x01 {
		t.Error("proof mismatch in parsed result")
	}
}

// TestNewClient_FetchesIdentity verifies the client picks up the
// ledger identity from /status.
func TestNewClient_FetchesIdentity(t *testing.T) {
	node := newTestNode(t)

	c, err := NewClient(node.addr)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if c.Identity() != [32]byte(node.ledger.Identity()) {
		t.Error("client identity must match the ledger identity")
	}
}

// TestFullProtocolRoundTrip drives the whole protocol through the
// client: three submissions, an average request, off-chain decryption
// and result verification.
func TestFullProtocolRoundTrip(t *testing.T) {
	node := newTestNode(t)

	c, err := NewClient(node.addr)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	salaries := []uint64{50000, 60000, 70000}
	wallets := make([]*Wallet, len(salaries))

	for i, salary := range salaries {
		wallets[i] = NewWallet()

		if err := wallets[i].SubmitSalary(c, node.engine, salary); err != nil {
			t.Fatalf("submit salary %d: %v", i, err)
		}
	}

	count, err := c.Count()
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}

	submitted, err := c.HasSubmitted(wallets[0].Pubkey())
	if err != nil {
		t.Fatalf("get submitted: %v", err)
	}
	if !submitted {
		t.Error("first wallet must be recorded as submitted")
	}

	requester := wallets[0]

	handle, err := requester.RequestAverage(c)
	if err != nil {
		t.Fatalf("request average: %v", err)
	}

	pending, err := c.PendingHandle(requester.Pubkey())
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if pending != handle {
		t.Error("pending handle must match the requested handle")
	}

	cleartext, proof, err := c.Decrypt(handle)
	if err != nil {
		t.Fatalf("decrypt through relayer: %v", err)
	}

	average, err := requester.SubmitDecryptionResult(c, cleartext, proof)
	if err != nil {
		t.Fatalf("submit decryption result: %v", err)
	}
	if average != 60000 {
		t.Errorf("expected average 60000, got %d", average)
	}

	stored, err := c.LastAverage(requester.Pubkey())
	if err != nil {
		t.Fatalf("get last average: %v", err)
	}
	if stored != 60000 {
		t.Errorf("expected stored average 60000, got %d", stored)
	}
}

// TestSubmitSalary_DuplicateRejected verifies the node's conflict
// status surfaces as a client error.
func TestSubmitSalary_DuplicateRejected(t *testing.T) {
	node := newTestNode(t)

	c, err := NewClient(node.addr)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	w := NewWallet()

	if err := w.SubmitSalary(c, node.engine, 52000); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if err := w.SubmitSalary(c, node.engine, 52000); err == nil {
		t.Error("expected second submission to fail")
	}
}
