// Package generator records new fixtures by running the reference program
// against live chain endpoints.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/roach88/fpt/internal/backend"
	"github.com/roach88/fpt/internal/fixture"
	"github.com/roach88/fpt/internal/program"
	"github.com/roach88/fpt/internal/registry"
)

// Reference is the program whose observed status becomes a fixture's
// expected status.
const Reference = registry.OpProgramNative

// L1HeadOffset is how far past the disputed block's L1 origin the L1 head
// is taken, so the derivation window is fully covered.
const L1HeadOffset = 25

// ErrInvalidConfig is returned by New for incomplete configurations.
var ErrInvalidConfig = errors.New("invalid generator config")

// Config describes one fixture to record. Nil overrides are fetched from
// the endpoints.
type Config struct {
	Name        string
	L1RPC       string
	L1BeaconRPC string
	L2NodeRPC   string
	L2RPC       string
	L2Block     uint64

	L2Claim      *common.Hash
	L2OutputRoot *common.Hash
	L2Head       *common.Hash
	L1Head       *common.Hash
	L2ChainID    *uint64

	// RollupConfig and Genesis are the chain configuration files copied
	// into the fixture.
	RollupConfig string
	Genesis      string
	// OutDir is the fixtures root; the fixture is written to OutDir/Name.
	OutDir string
}

func (c Config) validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", c.Name},
		{"l1 rpc", c.L1RPC},
		{"l1 beacon rpc", c.L1BeaconRPC},
		{"l2 node rpc", c.L2NodeRPC},
		{"l2 rpc", c.L2RPC},
		{"rollup config", c.RollupConfig},
		{"genesis", c.Genesis},
		{"output dir", c.OutDir},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if c.L2Block == 0 {
		return fmt.Errorf("%w: l2 block must be greater than 0", ErrInvalidConfig)
	}
	return nil
}

// Builder provides the reference program's host binary.
type Builder interface {
	EnsureBuilt(ctx context.Context, name string, spec registry.BuildSpec) error
	Artifact(spec registry.BuildSpec, name string) (string, error)
}

// Generator records one fixture.
type Generator struct {
	cfg         Config
	builder     Builder
	ref         registry.ProgramDefinition
	logger      *slog.Logger
	diagnostics io.Writer
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithDiagnostics sets where reference program output is dumped on failure.
func WithDiagnostics(w io.Writer) Option {
	return func(g *Generator) { g.diagnostics = w }
}

// New creates a generator for cfg. ref is the reference program's
// registry definition.
func New(cfg Config, builder Builder, ref registry.ProgramDefinition, opts ...Option) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if builder == nil {
		return nil, fmt.Errorf("%w: nil builder", ErrInvalidConfig)
	}
	if !ref.CompatibleWith(registry.Native) {
		return nil, fmt.Errorf("%w: reference program must run natively", ErrInvalidConfig)
	}
	g := &Generator{
		cfg:         cfg,
		builder:     builder,
		ref:         ref,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		diagnostics: os.Stderr,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// outputResponse is the subset of optimism_outputAtBlock used here.
type outputResponse struct {
	OutputRoot common.Hash `json:"outputRoot"`
	BlockRef   struct {
		L1Origin struct {
			Number uint64 `json:"number"`
		} `json:"l1origin"`
	} `json:"blockRef"`
}

type blockResponse struct {
	Hash common.Hash `json:"hash"`
}

// GatherInputs resolves every input not overridden in the config.
func (g *Generator) GatherInputs(ctx context.Context) (program.Inputs, error) {
	n := g.cfg.L2Block
	g.logger.Info("fetching inputs", "l2_block", n)

	l1, err := rpc.DialContext(ctx, g.cfg.L1RPC)
	if err != nil {
		return program.Inputs{}, fmt.Errorf("dial l1: %w", err)
	}
	defer l1.Close()
	l2Node, err := rpc.DialContext(ctx, g.cfg.L2NodeRPC)
	if err != nil {
		return program.Inputs{}, fmt.Errorf("dial l2 node: %w", err)
	}
	defer l2Node.Close()
	l2, err := rpc.DialContext(ctx, g.cfg.L2RPC)
	if err != nil {
		return program.Inputs{}, fmt.Errorf("dial l2: %w", err)
	}
	defer l2.Close()

	in := program.Inputs{L2BlockNumber: n}

	var disputed *outputResponse
	disputedOutput := func() (*outputResponse, error) {
		if disputed != nil {
			return disputed, nil
		}
		out, err := outputAtBlock(ctx, l2Node, n)
		if err != nil {
			return nil, err
		}
		disputed = &out
		return disputed, nil
	}

	if g.cfg.L2Claim != nil {
		in.L2Claim = *g.cfg.L2Claim
	} else {
		g.logger.Debug("fetching l2 claim")
		out, err := disputedOutput()
		if err != nil {
			return program.Inputs{}, err
		}
		in.L2Claim = out.OutputRoot
	}

	if g.cfg.L2OutputRoot != nil {
		in.L2OutputRoot = *g.cfg.L2OutputRoot
	} else {
		g.logger.Debug("fetching starting output root")
		out, err := outputAtBlock(ctx, l2Node, n-1)
		if err != nil {
			return program.Inputs{}, err
		}
		in.L2OutputRoot = out.OutputRoot
	}

	if g.cfg.L2Head != nil {
		in.L2Head = *g.cfg.L2Head
	} else {
		g.logger.Debug("fetching l2 head")
		if in.L2Head, err = blockHash(ctx, l2, n-1); err != nil {
			return program.Inputs{}, fmt.Errorf("l2 head: %w", err)
		}
	}

	if g.cfg.L2ChainID != nil {
		in.L2ChainID = *g.cfg.L2ChainID
	} else {
		g.logger.Debug("fetching l2 chain id")
		id, err := ethclient.NewClient(l2).ChainID(ctx)
		if err != nil {
			return program.Inputs{}, fmt.Errorf("l2 chain id: %w", err)
		}
		if !id.IsUint64() {
			return program.Inputs{}, fmt.Errorf("l2 chain id %s out of range", id)
		}
		in.L2ChainID = id.Uint64()
	}

	if g.cfg.L1Head != nil {
		in.L1Head = *g.cfg.L1Head
	} else {
		g.logger.Debug("fetching l1 head")
		out, err := disputedOutput()
		if err != nil {
			return program.Inputs{}, err
		}
		if in.L1Head, err = blockHash(ctx, l1, out.BlockRef.L1Origin.Number+L1HeadOffset); err != nil {
			return program.Inputs{}, fmt.Errorf("l1 head: %w", err)
		}
	}

	return in, nil
}

func outputAtBlock(ctx context.Context, c *rpc.Client, n uint64) (outputResponse, error) {
	var out outputResponse
	if err := c.CallContext(ctx, &out, "optimism_outputAtBlock", hexutil.Uint64(n)); err != nil {
		return outputResponse{}, fmt.Errorf("output at block %d: %w", n, err)
	}
	return out, nil
}

func blockHash(ctx context.Context, c *rpc.Client, n uint64) (common.Hash, error) {
	var block *blockResponse
	if err := c.CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.Uint64(n), false); err != nil {
		return common.Hash{}, fmt.Errorf("block %d: %w", n, err)
	}
	if block == nil {
		return common.Hash{}, fmt.Errorf("block %d: %w", n, errBlockNotFound)
	}
	return block.Hash, nil
}

var errBlockNotFound = errors.New("not found")

// Generate gathers inputs, runs the reference program natively against the
// live endpoints and writes the fixture. The observed exit status becomes
// the expected status.
func (g *Generator) Generate(ctx context.Context) (*fixture.Fixture, error) {
	inputs, err := g.GatherInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather inputs: %w", err)
	}

	work, err := os.MkdirTemp("", "fpt-generate-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	witness := filepath.Join(work, fixture.WitnessDir)
	status, err := g.runReference(ctx, inputs, witness, work)
	if err != nil {
		return nil, err
	}
	g.logger.Info("reference program finished", "program", Reference, "status", status)

	return g.flush(inputs, status, witness)
}

func (g *Generator) runReference(ctx context.Context, inputs program.Inputs, witness, work string) (uint8, error) {
	if err := g.builder.EnsureBuilt(ctx, string(Reference), g.ref.Build); err != nil {
		return 0, err
	}
	host, err := g.builder.Artifact(g.ref.Build, "host")
	if err != nil {
		return 0, err
	}

	be, err := backend.New(registry.Native, "")
	if err != nil {
		return 0, err
	}
	be.Diagnostics = g.diagnostics
	adapter, err := program.New(Reference, host, be.ServerMode())
	if err != nil {
		return 0, err
	}

	hi := program.HostInputs{
		Inputs:           inputs,
		RollupConfigPath: g.cfg.RollupConfig,
		GenesisPath:      g.cfg.Genesis,
		Source: program.RPC{
			L1:       g.cfg.L1RPC,
			L1Beacon: g.cfg.L1BeaconRPC,
			L2:       g.cfg.L2RPC,
			Path:     witness,
		},
	}
	status, err := be.Run(ctx, hi, adapter, work)
	if err != nil {
		return 0, fmt.Errorf("run reference program: %w", err)
	}
	return status, nil
}

func (g *Generator) flush(inputs program.Inputs, status uint8, witness string) (*fixture.Fixture, error) {
	info, err := os.Stat(witness)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("reference program produced no witness database at %s", witness)
	}

	fx := &fixture.Fixture{
		Name:           g.cfg.Name,
		ExpectedStatus: status,
		Inputs: fixture.Inputs{
			L1Head:        inputs.L1Head,
			L2BlockNumber: inputs.L2BlockNumber,
			L2Claim:       inputs.L2Claim,
			L2OutputRoot:  inputs.L2OutputRoot,
			L2Head:        inputs.L2Head,
			L2ChainID:     inputs.L2ChainID,
		},
	}
	if err := fixture.Write(filepath.Join(g.cfg.OutDir, g.cfg.Name), fx); err != nil {
		return nil, err
	}

	g.logger.Info("compressing witness database", "fixture", fx.Name)
	if err := fixture.PackDir(witness, fx.Path(fixture.WitnessArchive)); err != nil {
		return nil, fmt.Errorf("pack witness: %w", err)
	}
	if err := fixture.PackFile(g.cfg.Genesis, fx.Path(fixture.GenesisArchive)); err != nil {
		return nil, fmt.Errorf("pack genesis: %w", err)
	}
	if err := copyFile(g.cfg.RollupConfig, fx.RollupConfigPath()); err != nil {
		return nil, fmt.Errorf("copy rollup config: %w", err)
	}

	g.logger.Info("wrote fixture", "fixture", fx.Name, "dir", fx.Dir, "expected_status", status)
	return fx, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
