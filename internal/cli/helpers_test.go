package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fpt/internal/fixture"
	"github.com/roach88/fpt/internal/testutil"
)

const testRegistry = `
backend: native: default: true

program: {
	"op-program-native": {
		default: true
		compat: ["native"]
		build: {
			repo: "local/op-program"
			rev:  "v1"
			steps: [%q]
			artifacts: {
				host:   "bin/host"
				client: "bin/client"
			}
		}
	}
}
`

// workspace is a self-contained fpt installation: settings file, registry,
// pre-created component checkout and fixtures directory.
type workspace struct {
	t        *testing.T
	root     string
	config   string
	fixtures string
}

func newWorkspace(t *testing.T, hostExit int, buildStep string) *workspace {
	t.Helper()
	testutil.RequireShell(t)
	t.Setenv("HOME", t.TempDir())

	root := t.TempDir()
	w := &workspace{t: t, root: root, fixtures: filepath.Join(root, "tests")}
	components := filepath.Join(root, "components")

	checkout := filepath.Join(components, "local", "op-program")
	testutil.WriteScript(t, checkout, "bin/host", "exit "+strconv.Itoa(hostExit))
	testutil.WriteFile(t, checkout, "bin/client", "")

	reg := testutil.WriteFile(t, root, "registry.cue", fmt.Sprintf(testRegistry, buildStep))
	w.config = testutil.WriteFile(t, root, "config.yaml", fmt.Sprintf(`
components_dir: %s
fixtures_dir: %s
ledger: %s
scratch_dir: %s
workers: 2
registry: %s
`, components, w.fixtures, filepath.Join(root, "builds.db"), t.TempDir(), reg))
	require.NoError(t, os.MkdirAll(w.fixtures, 0o755))
	return w
}

func (w *workspace) fixture(name string, expected uint8) {
	t := w.t
	t.Helper()
	src := t.TempDir()
	witness := filepath.Join(src, fixture.WitnessDir)
	testutil.WriteFile(t, witness, "CURRENT", "MANIFEST-000001\n")
	genesis := testutil.WriteFile(t, src, fixture.GenesisFile, `{}`)

	fx := &fixture.Fixture{
		Name:           name,
		ExpectedStatus: expected,
		Inputs: fixture.Inputs{
			L1Head:        common.HexToHash("0x01"),
			L2BlockNumber: 7,
			L2Claim:       common.HexToHash("0x02"),
			L2OutputRoot:  common.HexToHash("0x03"),
			L2Head:        common.HexToHash("0x04"),
			L2ChainID:     901,
		},
	}
	require.NoError(t, fixture.Write(filepath.Join(w.fixtures, name), fx))
	require.NoError(t, fixture.PackDir(witness, fx.Path(fixture.WitnessArchive)))
	require.NoError(t, fixture.PackFile(genesis, fx.Path(fixture.GenesisArchive)))
	require.NoError(t, os.WriteFile(fx.RollupConfigPath(), []byte(`{}`), 0o644))
}

// run executes the root command with args and returns stdout, stderr and
// the exit code main would use.
func (w *workspace) run(args ...string) (string, string, int) {
	return execRoot(w.t, append([]string{"--config", w.config}, args...)...)
}

func execRoot(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), GetExitCode(err)
}
