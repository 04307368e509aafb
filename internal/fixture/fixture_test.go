package fixture

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Testdata(t *testing.T) {
	fx, err := Load(filepath.Join("testdata", "simple-transfer"))
	require.NoError(t, err)

	assert.Equal(t, "simple-transfer", fx.Name)
	assert.Equal(t, uint8(0), fx.ExpectedStatus)
	assert.Equal(t, uint64(16491249), fx.Inputs.L2BlockNumber)
	assert.Equal(t, uint64(10), fx.Inputs.L2ChainID)
	assert.Equal(t,
		common.HexToHash("0x5ad11a6c4a0d3bd4b2b5e4d7e2b3a6d9b7c3e1f0a9d8c7b6a5f4e3d2c1b0a998"),
		fx.Inputs.L1Head)
	assert.Equal(t, filepath.Join("testdata", "simple-transfer", "genesis.json"), fx.GenesisPath())
	assert.Equal(t, filepath.Join("testdata", "simple-transfer", "rollup.json"), fx.RollupConfigPath())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "name = \"a\"\ncolor = \"red\"\n"},
		{"missing name", "expected-status = 1\n"},
		{"short hash", "name = \"a\"\n[inputs]\nl1-head = \"0x01\"\n"},
		{"status overflow", "name = \"a\"\nexpected-status = 300\n"},
		{"not toml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestWrite_Load(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deposit")
	fx := &Fixture{
		Name:           "deposit",
		ExpectedStatus: 1,
		Inputs: Inputs{
			L1Head:        common.HexToHash("0xaa"),
			L2BlockNumber: 42,
			L2Claim:       common.HexToHash("0xbb"),
			L2OutputRoot:  common.HexToHash("0xcc"),
			L2Head:        common.HexToHash("0xdd"),
			L2ChainID:     8453,
		},
	}
	require.NoError(t, Write(dir, fx))
	assert.Equal(t, dir, fx.Dir)

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, fx, got)
}

func writeFixture(t *testing.T, root, name string) {
	t.Helper()
	require.NoError(t, Write(filepath.Join(root, name), &Fixture{Name: name}))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "simple-transfer")
	writeFixture(t, root, "deposit")
	writeFixture(t, root, "simple-deposit")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-fixture"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("hi"), 0o644))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	all, err := Discover(root, "", logger)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "deposit", all[0].Name)
	assert.Equal(t, "simple-deposit", all[1].Name)
	assert.Equal(t, "simple-transfer", all[2].Name)
	assert.Contains(t, logs.String(), "not-a-fixture")

	simple, err := Discover(root, "simple-*", nil)
	require.NoError(t, err)
	require.Len(t, simple, 2)

	none, err := Discover(root, "withdrawal", nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = Discover(root, "[", nil)
	assert.Error(t, err)

	_, err = Discover(filepath.Join(root, "missing"), "", nil)
	assert.Error(t, err)
}
