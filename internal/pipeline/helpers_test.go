package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/fpt/internal/build"
	"github.com/roach88/fpt/internal/fixture"
	"github.com/roach88/fpt/internal/registry"
	"github.com/roach88/fpt/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// hostScript exits with code once it has seen a decompressed genesis file
// and witness directory on its command line.
func hostScript(code int) string {
	return `
while [ $# -gt 0 ]; do
	case "$1" in
	--l2.genesis|--l2-genesis-path) genesis="$2"; shift ;;
	--datadir|--data-dir) datadir="$2"; shift ;;
	esac
	shift
done
[ -f "$genesis" ] || { echo "missing genesis $genesis" >&2; exit 98; }
[ -d "$datadir" ] || { echo "missing witness $datadir" >&2; exit 99; }
exit ` + strconv.Itoa(code)
}

// fakeVM implements the load-elf and run subcommands of a MIPS VM. The
// guest exits 0 when the host was asked to run in server mode.
const fakeVM = `
case "$1" in
load-elf)
	while [ $# -gt 0 ]; do
		[ "$1" = "--out" ] && out="$2"
		shift
	done
	echo '{}' > "$out"
	;;
run)
	code=5
	for arg in "$@"; do
		[ "$arg" = "--server" ] && code=0
	done
	echo "{\"exited\":true,\"exit\":$code}" > out.json
	;;
esac
`

type env struct {
	t          *testing.T
	components string
	fixtures   string
	scripts    string
	builder    *build.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	testutil.RequireShell(t)
	root := t.TempDir()
	e := &env{
		t:          t,
		components: filepath.Join(root, "components"),
		fixtures:   filepath.Join(root, "fixtures"),
		scripts:    filepath.Join(root, "scripts"),
	}
	require.NoError(t, os.MkdirAll(e.fixtures, 0o755))
	e.builder = build.New(e.components, nil)
	return e
}

// component returns a build spec whose single step installs script as
// bin/<artifact> and creates an empty client image. The checkout is
// pre-created so no clone happens.
func (e *env) component(repo, artifact, script string) registry.BuildSpec {
	e.t.Helper()
	src := testutil.WriteScript(e.t, e.scripts, filepath.Join(repo, artifact), script)
	spec := registry.BuildSpec{
		Repo:    repo,
		Rev:     "v1",
		WorkDir: ".",
		Steps: []string{
			"mkdir -p bin && cp '" + src + "' bin/" + artifact + " && touch bin/client",
		},
		Artifacts: map[string]string{
			artifact: "bin/" + artifact,
			"client": "bin/client",
		},
	}
	require.NoError(e.t, os.MkdirAll(e.builder.Path(spec), 0o755))
	return spec
}

func (e *env) program(kind registry.ProgramKind, backend registry.BackendKind, hostCode int) registry.ProgramDefinition {
	return registry.ProgramDefinition{
		Default: true,
		Compat:  []registry.BackendKind{backend},
		Build:   e.component("local/"+string(kind), ArtifactHost, hostScript(hostCode)),
	}
}

// fixture writes a fixture with real archives under the fixtures dir.
func (e *env) fixture(name string, expected uint8) *fixture.Fixture {
	e.t.Helper()
	t := e.t
	src := t.TempDir()
	witness := filepath.Join(src, fixture.WitnessDir)
	require.NoError(t, os.MkdirAll(witness, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(witness, "CURRENT"), []byte("MANIFEST-000001\n"), 0o644))
	genesis := filepath.Join(src, fixture.GenesisFile)
	require.NoError(t, os.WriteFile(genesis, []byte(`{"config":{"chainId":10}}`), 0o644))

	fx := &fixture.Fixture{
		Name:           name,
		ExpectedStatus: expected,
		Inputs: fixture.Inputs{
			L1Head:        common.HexToHash("0x01"),
			L2BlockNumber: 100,
			L2Claim:       common.HexToHash("0x02"),
			L2OutputRoot:  common.HexToHash("0x03"),
			L2Head:        common.HexToHash("0x04"),
			L2ChainID:     10,
		},
	}
	dir := filepath.Join(e.fixtures, name)
	require.NoError(t, fixture.Write(dir, fx))
	require.NoError(t, fixture.PackDir(witness, fx.Path(fixture.WitnessArchive)))
	require.NoError(t, fixture.PackFile(genesis, fx.Path(fixture.GenesisArchive)))
	require.NoError(t, os.WriteFile(fx.RollupConfigPath(), []byte(`{}`), 0o644))
	return fx
}

func nativeMatrix(programs map[registry.ProgramKind]registry.ProgramDefinition) registry.Matrix {
	return registry.Matrix{{
		Backend:    registry.Native,
		Definition: registry.BackendDefinition{Default: true},
		Programs:   programs,
	}}
}

func (e *env) config() Config {
	return Config{FixturesDir: e.fixtures, ScratchDir: e.t.TempDir()}
}

func (e *env) deps(unpacker Unpacker, reporter Reporter) Deps {
	return Deps{
		Builder:     e.builder,
		Unpacker:    unpacker,
		Reporter:    reporter,
		Diagnostics: &syncBuffer{},
		Now:         testutil.NewStepClock(time.Unix(0, 0), time.Second).Now,
		RunID:       testutil.FixedRunID("run-test"),
	}
}

// runAll drives a pipeline through every stage.
func runAll(t *testing.T, p *Pipeline) (Summary, error) {
	t.Helper()
	ctx := context.Background()
	ready, err := p.Setup(ctx)
	if err != nil {
		return Summary{}, err
	}
	ran, err := ready.Run(ctx)
	if err != nil {
		return Summary{}, err
	}
	done, err := ran.Teardown(ctx)
	if err != nil {
		return Summary{}, err
	}
	return done.Summary(), nil
}

// countingUnpacker counts operations per fixture directory and tracks how
// many run at once.
type countingUnpacker struct {
	inner    Unpacker
	delay    time.Duration
	mu       sync.Mutex
	unpacks  map[string]int
	cleans   map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newCountingUnpacker() *countingUnpacker {
	return &countingUnpacker{
		inner:   FixtureUnpacker{},
		unpacks: make(map[string]int),
		cleans:  make(map[string]int),
	}
}

func (c *countingUnpacker) enter() func() {
	n := c.inFlight.Add(1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(c.delay)
	return func() { c.inFlight.Add(-1) }
}

func (c *countingUnpacker) Unpack(ctx context.Context, fx *fixture.Fixture) error {
	defer c.enter()()
	c.mu.Lock()
	c.unpacks[fx.Dir]++
	c.mu.Unlock()
	return c.inner.Unpack(ctx, fx)
}

func (c *countingUnpacker) Clean(fx *fixture.Fixture) error {
	defer c.enter()()
	c.mu.Lock()
	c.cleans[fx.Dir]++
	c.mu.Unlock()
	return c.inner.Clean(fx)
}

type recordingReporter struct {
	results []Result
}

func (r *recordingReporter) Report(res Result) {
	// Calls are serialized by the pipeline; no lock needed.
	r.results = append(r.results, res)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
