package integration

import (
	"net/http/httptest"
	"strings"
	"testing"

	"CipherPool/client"
	"CipherPool/internal/api"
	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/relayer"
	"CipherPool/internal/storage"
)

// TestNode is one in-process node: storage, engine, ledger, relayer
// and the HTTP API behind an httptest server.
type TestNode struct {
	Addr      string
	Engine    he.Engine
	Encryptor client.Encryptor
	Ledger    *ledger.Ledger
	Relayer   *relayer.Relayer
}

// startLatticeNode wires a node around the BFV backend with a
// single-member authority set.
func startLatticeNode(t *testing.T) *TestNode {
	t.Helper()

	key, err := he.GenerateAuthorityKey()
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}

	engine, err := he.NewLattice([][]byte{key.PublicKeyBytes()})
	if err != nil {
		t.Fatalf("create lattice engine: %v", err)
	}

	return startNode(t, engine, engine, []*he.AuthorityKey{key})
}

// startPlainNode wires a node around the plaintext test backend.
func startPlainNode(t *testing.T) *TestNode {
	t.Helper()

	key, err := he.GenerateAuthorityKey()
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}

	engine := he.NewPlain([][]byte{key.PublicKeyBytes()})

	return startNode(t, engine, engine, []*he.AuthorityKey{key})
}

// nodeEngine is the combined surface both backends satisfy.
type nodeEngine interface {
	he.Engine
	client.Encryptor
}

func startNode(t *testing.T, engine nodeEngine, decryptor he.Decryptor, keys []*he.AuthorityKey) *TestNode {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l := ledger.New(db, engine, ledger.Principal{0xC1})

	r, err := relayer.New(decryptor, l, keys)
	if err != nil {
		t.Fatalf("create relayer: %v", err)
	}

	server := httptest.NewServer(api.New(":0", l, r).Handler())
	t.Cleanup(server.Close)

	return &TestNode{
		Addr:      strings.TrimPrefix(server.URL, "http://"),
		Engine:    engine,
		Encryptor: engine,
		Ledger:    l,
		Relayer:   r,
	}
}
