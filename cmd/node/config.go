package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 signing key. Its public key is
	// the ledger identity.
	PrivateKey ed25519.PrivateKey

	// Backend selects the homomorphic engine: "lattice" or "plain".
	Backend string

	// AuthoritySeeds holds extra 32-byte hex seeds for additional
	// decryption authority members. The node's own key always
	// contributes one member.
	AuthoritySeeds []string

	// RestorePath points at a snapshot to restore before serving.
	RestorePath string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	var seeds string

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.Backend, "backend", "lattice", "Homomorphic backend: lattice or plain")
	flag.StringVar(&seeds, "authority-seeds", "", "Comma-separated hex seeds for extra authority members")
	flag.StringVar(&cfg.RestorePath, "restore", "", "Snapshot file to restore before serving")
	flag.Parse()

	if seeds != "" {
		cfg.AuthoritySeeds = strings.Split(seeds, ",")
	}

	return cfg
}

// parseAuthoritySeeds decodes the configured hex seeds.
func (cfg *Config) parseAuthoritySeeds() ([][]byte, error) {
	parsed := make([][]byte, 0, len(cfg.AuthoritySeeds))

	for _, s := range cfg.AuthoritySeeds {
		seed, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil || len(seed) != 32 {
			return nil, fmt.Errorf("invalid authority seed: %q", s)
		}

		parsed = append(parsed, seed)
	}

	return parsed, nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
