package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"CipherPool/internal/api"
	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/logger"
	"CipherPool/internal/relayer"
	"CipherPool/internal/storage"
)

// Node represents a running CipherPool node: one ledger, its engine,
// the in-process decryption relayer and the HTTP API in front of them.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	engine  he.Engine
	ledger  *ledger.Ledger
	relayer *relayer.Relayer
	api     *api.Server
	done    chan struct{}
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, done: make(chan struct{})}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initEngine(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initLedger(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	dbPath := n.cfg.DataPath + "/db"

	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initEngine builds the homomorphic engine and the relayer sharing
// its decryption capability. The node's own key always contributes one
// authority member; extra members come from configured seeds.
func (n *Node) initEngine() error {
	keys, err := n.authorityKeys()
	if err != nil {
		return err
	}

	publics := make([][]byte, len(keys))
	for i, key := range keys {
		publics[i] = key.PublicKeyBytes()
	}

	var decryptor he.Decryptor

	switch n.cfg.Backend {
	case "lattice":
		engine, err := he.NewLattice(publics)
		if err != nil {
			return fmt.Errorf("init lattice engine:\n%w", err)
		}
		n.engine, decryptor = engine, engine

	case "plain":
		logger.Warn("plain backend holds values in cleartext, use for testing only")
		engine := he.NewPlain(publics)
		n.engine, decryptor = engine, engine

	default:
		return fmt.Errorf("unknown backend: %q", n.cfg.Backend)
	}

	n.relayer, err = relayer.New(decryptor, visibilityFunc(func(h he.Handle) bool {
		return n.ledger.IsPubliclyDecryptable(h)
	}), keys)
	if err != nil {
		return fmt.Errorf("init relayer:\n%w", err)
	}

	return nil
}

// visibilityFunc adapts a function to the relayer's Visibility.
type visibilityFunc func(h he.Handle) bool

func (f visibilityFunc) IsPubliclyDecryptable(h he.Handle) bool {
	return f(h)
}

// authorityKeys derives the full decryption authority set.
func (n *Node) authorityKeys() ([]*he.AuthorityKey, error) {
	own, err := he.AuthorityKeyFromED25519(n.cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive authority key:\n%w", err)
	}

	keys := []*he.AuthorityKey{own}

	seeds, err := n.cfg.parseAuthoritySeeds()
	if err != nil {
		return nil, err
	}

	for _, seed := range seeds {
		key, err := he.AuthorityKeyFromSeed(seed)
		if err != nil {
			return nil, fmt.Errorf("derive authority member:\n%w", err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// initLedger builds the ledger under the node's identity and restores
// a snapshot when one is configured.
func (n *Node) initLedger() error {
	pubKey := n.cfg.PrivateKey.Public().(ed25519.PublicKey)

	var identity ledger.Principal
	copy(identity[:], pubKey)

	n.ledger = ledger.New(n.storage, n.engine, identity)

	if n.cfg.RestorePath == "" {
		return nil
	}

	snapshot, err := os.ReadFile(n.cfg.RestorePath)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	if err := n.ledger.Restore(snapshot); err != nil {
		return fmt.Errorf("restore snapshot:\n%w", err)
	}

	logger.Info("snapshot restored", "path", n.cfg.RestorePath, "count", n.ledger.Count())

	return nil
}

// Run starts the HTTP API and blocks until shutdown.
func (n *Node) Run() error {
	n.api = api.New(n.cfg.HTTPAddress, n.ledger, n.relayer)
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	go n.watchEvents()

	return n.waitForShutdown()
}

// watchEvents mirrors ledger notifications into the log.
func (n *Node) watchEvents() {
	events := n.ledger.Events().Subscribe(64)

	for {
		select {
		case e := <-events:
			switch ev := e.(type) {
			case ledger.SalarySubmitted:
				logger.Debug("event: salary submitted", "principal", ev.Principal, "count", ev.Count)
			case ledger.AverageRequested:
				logger.Debug("event: average requested", "requester", ev.Requester, "handle", ev.Handle)
			case ledger.AverageDecrypted:
				logger.Debug("event: average decrypted", "requester", ev.Requester, "average", ev.Average)
			}

		case <-n.done:
			return
		}
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close releases all node resources.
func (n *Node) Close() error {
	close(n.done)

	if n.api != nil {
		n.api.Stop()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
