// Package fixture reads and writes recorded derivation test vectors.
//
// A fixture is a directory named after the test. It holds a TOML
// descriptor, a compressed witness database, a compressed L2 genesis and
// an uncompressed rollup config:
//
//	simple-transfer/
//	    fixture.toml
//	    witness-db.tar.zst
//	    genesis.json.zst
//	    rollup.json
//
// The pipeline decompresses the archives next to themselves before a run
// and removes the plaintext afterwards; archives are never modified.
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
)

// File names inside a fixture directory.
const (
	DescriptorFile = "fixture.toml"
	WitnessArchive = "witness-db.tar.zst"
	WitnessDir     = "witness-db"
	GenesisArchive = "genesis.json.zst"
	GenesisFile    = "genesis.json"
	RollupFile     = "rollup.json"
)

// ErrInvalidDescriptor is returned for descriptors that parse but are incomplete.
var ErrInvalidDescriptor = errors.New("invalid fixture descriptor")

// Fixture is one recorded test vector.
type Fixture struct {
	Name           string `toml:"name"`
	ExpectedStatus uint8  `toml:"expected-status"`
	Inputs         Inputs `toml:"inputs"`

	// Dir is the fixture directory; it identifies the fixture on disk.
	Dir string `toml:"-"`
}

// Inputs are the recorded program inputs.
type Inputs struct {
	// L1Head holds the data required to derive L2 up to the claim.
	L1Head        common.Hash `toml:"l1-head"`
	L2BlockNumber uint64      `toml:"l2-block-number"`
	L2Claim       common.Hash `toml:"l2-claim"`
	// L2OutputRoot is the starting, trusted output root.
	L2OutputRoot common.Hash `toml:"l2-output-root"`
	// L2Head is the block hash matching L2OutputRoot.
	L2Head    common.Hash `toml:"l2-head"`
	L2ChainID uint64      `toml:"l2-chain-id"`
}

// Path joins name onto the fixture directory.
func (f *Fixture) Path(name string) string {
	return filepath.Join(f.Dir, name)
}

// GenesisPath is the decompressed genesis file.
func (f *Fixture) GenesisPath() string { return f.Path(GenesisFile) }

// RollupConfigPath is the rollup config file.
func (f *Fixture) RollupConfigPath() string { return f.Path(RollupFile) }

// WitnessPath is the decompressed witness directory.
func (f *Fixture) WitnessPath() string { return f.Path(WitnessDir) }

// Load parses the descriptor in dir.
func Load(dir string) (*Fixture, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, fmt.Errorf("load fixture %s: %w", dir, err)
	}

	fx, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load fixture %s: %w", dir, err)
	}
	fx.Dir = dir
	return fx, nil
}

// Parse decodes a descriptor. Unknown keys are rejected.
func Parse(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DescriptorFile, err)
	}
	if strings.TrimSpace(fx.Name) == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidDescriptor)
	}
	return &fx, nil
}

// Write stores fx's descriptor in dir, creating it if needed, and sets fx.Dir.
func Write(dir string, fx *Fixture) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	data, err := toml.Marshal(fx)
	if err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptorFile), data, 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	fx.Dir = dir
	return nil
}

// Discover loads every fixture directly under root whose directory name
// matches glob. An empty glob matches everything. Directories without a
// parsable descriptor are skipped. Results are sorted by directory name.
func Discover(root, glob string, logger *slog.Logger) ([]*Fixture, error) {
	if glob == "" {
		glob = "*"
	}
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("invalid fixture glob %q: %w", glob, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("discover fixtures: %w", err)
	}

	var fixtures []*Fixture
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(glob, entry.Name()); !ok {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		fx, err := Load(dir)
		if err != nil {
			logger.Debug("skipping fixture directory", "dir", dir, "error", err)
			continue
		}
		if fx.Name != entry.Name() {
			logger.Warn("fixture name differs from its directory", "name", fx.Name, "dir", dir)
		}
		fixtures = append(fixtures, fx)
	}

	slices.SortFunc(fixtures, func(a, b *Fixture) int {
		return strings.Compare(a.Dir, b.Dir)
	})
	return fixtures, nil
}
