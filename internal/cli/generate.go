package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/fpt/internal/generator"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Name         string
	L1RPC        string
	L1BeaconRPC  string
	L2NodeRPC    string
	L2RPC        string
	L2Block      uint64
	L2Claim      string
	L2OutputRoot string
	L2Head       string
	L1Head       string
	L2ChainID    uint64
	RollupConfig string
	Genesis      string
	Out          string
}

// GenerateResult is the JSON payload of the generate command.
type GenerateResult struct {
	Name           string `json:"name"`
	Dir            string `json:"dir"`
	ExpectedStatus uint8  `json:"expected_status"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Record a new fixture from live endpoints",
		Long: `Record a fixture for one L2 block. Inputs not given on the command line are
fetched from the endpoints; the reference program (op-program-native) then
runs natively to populate the witness database, and its exit status becomes
the fixture's expected status.

Endpoint and input flags default to the environment variables named in
their help text.

Example:
  fpt generate --name simple-transfer --l2-block 1200 \
    --rollup-config ./rollup.json --genesis ./genesis.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Name, "name", "n", "", "fixture name")
	stringEnv(flags, &opts.L1RPC, "l1-rpc", "L1_RPC", "L1 execution RPC")
	stringEnv(flags, &opts.L1BeaconRPC, "l1-beacon-rpc", "L1_BEACON_RPC", "L1 beacon RPC")
	stringEnv(flags, &opts.L2NodeRPC, "l2-node-rpc", "L2_NODE_RPC", "L2 rollup node RPC")
	stringEnv(flags, &opts.L2RPC, "l2-rpc", "L2_RPC", "L2 execution RPC")
	uintEnv(flags, &opts.L2Block, "l2-block", "L2_BLOCK", "disputed L2 block number")
	stringEnv(flags, &opts.L2Claim, "l2-claim", "L2_CLAIM", "L2 claim override")
	stringEnv(flags, &opts.L2OutputRoot, "l2-output-root", "L2_OUTPUT_ROOT", "starting output root override")
	stringEnv(flags, &opts.L2Head, "l2-head", "L2_HEAD", "starting L2 head hash override")
	stringEnv(flags, &opts.L1Head, "l1-head", "L1_HEAD", "L1 head hash override")
	uintEnv(flags, &opts.L2ChainID, "l2-chain-id", "L2_CHAIN_ID", "L2 chain id override")
	flags.StringVar(&opts.RollupConfig, "rollup-config", "", "rollup config file")
	flags.StringVar(&opts.Genesis, "genesis", "", "L2 genesis file")
	flags.StringVar(&opts.Out, "out", "", "fixtures directory (overrides config)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func stringEnv(flags *pflag.FlagSet, p *string, name, env, usage string) {
	flags.StringVar(p, name, os.Getenv(env), fmt.Sprintf("%s [$%s]", usage, env))
}

func uintEnv(flags *pflag.FlagSet, p *uint64, name, env, usage string) {
	def, _ := strconv.ParseUint(os.Getenv(env), 10, 64)
	flags.Uint64Var(p, name, def, fmt.Sprintf("%s [$%s]", usage, env))
}

func parseHash(flag, value string) (*common.Hash, error) {
	if value == "" {
		return nil, nil
	}
	var h common.Hash
	if err := h.UnmarshalText([]byte(value)); err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &h, nil
}

func (o *GenerateOptions) generatorConfig(outDir string, chainIDSet bool) (generator.Config, error) {
	cfg := generator.Config{
		Name:         o.Name,
		L1RPC:        o.L1RPC,
		L1BeaconRPC:  o.L1BeaconRPC,
		L2NodeRPC:    o.L2NodeRPC,
		L2RPC:        o.L2RPC,
		L2Block:      o.L2Block,
		RollupConfig: o.RollupConfig,
		Genesis:      o.Genesis,
		OutDir:       outDir,
	}
	if o.Out != "" {
		cfg.OutDir = o.Out
	}
	if chainIDSet {
		id := o.L2ChainID
		cfg.L2ChainID = &id
	}

	var err error
	for _, h := range []struct {
		flag  string
		value string
		dst   **common.Hash
	}{
		{"l2-claim", o.L2Claim, &cfg.L2Claim},
		{"l2-output-root", o.L2OutputRoot, &cfg.L2OutputRoot},
		{"l2-head", o.L2Head, &cfg.L2Head},
		{"l1-head", o.L1Head, &cfg.L1Head},
	} {
		if *h.dst, err = parseHash(h.flag, h.value); err != nil {
			return generator.Config{}, err
		}
	}
	return cfg, nil
}

func runGenerate(opts *GenerateOptions, cmd *cobra.Command) (err error) {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	chainIDSet := cmd.Flags().Changed("l2-chain-id") || os.Getenv("L2_CHAIN_ID") != ""
	gcfg, err := opts.generatorConfig(a.cfg.FixturesDir, chainIDSet)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid input override", err)
	}

	ref, ok := a.registry.Program(generator.Reference)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("registry has no %s program", generator.Reference))
	}
	g, err := generator.New(gcfg, a.builder, ref,
		generator.WithLogger(a.logger),
		generator.WithDiagnostics(cmd.ErrOrStderr()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid generate configuration", err)
	}

	fx, err := g.Generate(contextOf(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to generate fixture", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		return f.Success(GenerateResult{Name: fx.Name, Dir: fx.Dir, ExpectedStatus: fx.ExpectedStatus})
	}
	return f.Success(fmt.Sprintf("wrote fixture %s to %s (expected status %d)", fx.Name, fx.Dir, fx.ExpectedStatus))
}
