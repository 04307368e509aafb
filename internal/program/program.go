// Package program turns fixture inputs into proof-program host command lines.
//
// Two program families share one contract with different flag surfaces:
// op-program and kona. Adapter is a closed variant; HostCmd dispatches on
// the family derived from the program kind.
package program

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/fpt/internal/registry"
)

// ErrNoDataSource is returned when HostInputs carries no data source.
var ErrNoDataSource = errors.New("no data source")

// DataSource selects where the host program reads chain data from.
// Exactly one of Disk or RPC.
type DataSource interface {
	isDataSource()
}

// Disk is a pre-populated witness directory.
type Disk struct {
	Path string
}

// RPC is a set of live endpoints plus a local cache directory.
type RPC struct {
	L1       string
	L1Beacon string
	L2       string
	Path     string
}

func (Disk) isDataSource() {}
func (RPC) isDataSource()  {}

// Inputs are the trusted and claimed values of one derivation.
type Inputs struct {
	L1Head        common.Hash
	L2Head        common.Hash
	L2OutputRoot  common.Hash
	L2Claim       common.Hash
	L2BlockNumber uint64
	L2ChainID     uint64
}

// HostInputs is everything a host command line is built from.
type HostInputs struct {
	Inputs
	RollupConfigPath string
	GenesisPath      string
	Source           DataSource
}

// Family is a proof-program implementation sharing one flag surface.
type Family int

const (
	OpProgram Family = iota
	Kona
)

func (f Family) String() string {
	switch f {
	case OpProgram:
		return "op-program"
	case Kona:
		return "kona"
	default:
		return "unknown"
	}
}

// FamilyOf returns the family of a program kind.
func FamilyOf(kind registry.ProgramKind) (Family, error) {
	switch kind {
	case registry.OpProgramNative, registry.OpProgramMips, registry.OpProgramRiscv:
		return OpProgram, nil
	case registry.KonaNative, registry.KonaRiscv:
		return Kona, nil
	default:
		return 0, fmt.Errorf("%w: program %q", registry.ErrUnknownKind, kind)
	}
}

// Adapter builds host command lines for one program binary.
type Adapter struct {
	Kind   registry.ProgramKind
	Family Family
	// Binary is the host binary path; argv[0] of every command.
	Binary string
	// Server runs the host long-lived, serving a guest inside a VM.
	Server bool
}

// New creates an adapter for kind.
func New(kind registry.ProgramKind, binary string, server bool) (Adapter, error) {
	family, err := FamilyOf(kind)
	if err != nil {
		return Adapter{}, err
	}
	if binary == "" {
		return Adapter{}, fmt.Errorf("program %s: empty host binary path", kind)
	}
	return Adapter{Kind: kind, Family: family, Binary: binary, Server: server}, nil
}

// HostCmd returns the full argument vector, argv[0] being the host binary.
func (a Adapter) HostCmd(in HostInputs) ([]string, error) {
	if in.Source == nil {
		return nil, fmt.Errorf("program %s: %w", a.Kind, ErrNoDataSource)
	}

	var flags flagSet
	switch a.Family {
	case OpProgram:
		flags = opProgramFlags
	case Kona:
		flags = konaFlags
	default:
		return nil, fmt.Errorf("program %s: unsupported family %d", a.Kind, a.Family)
	}

	args := []string{
		a.Binary,
		flags.l1Head, in.L1Head.Hex(),
		flags.l2Head, in.L2Head.Hex(),
		flags.outputRoot, in.L2OutputRoot.Hex(),
		flags.claim, in.L2Claim.Hex(),
		flags.blockNumber, strconv.FormatUint(in.L2BlockNumber, 10),
		flags.chainID, strconv.FormatUint(in.L2ChainID, 10),
		flags.rollupConfig, in.RollupConfigPath,
		flags.genesis, in.GenesisPath,
	}
	if a.Server {
		args = append(args, "--server")
	}

	switch src := in.Source.(type) {
	case Disk:
		args = append(args, flags.dataDir, src.Path)
	case RPC:
		args = append(args,
			flags.l1, src.L1,
			flags.l1Beacon, src.L1Beacon,
			flags.l2, src.L2,
			flags.dataDir, src.Path,
		)
	default:
		return nil, fmt.Errorf("program %s: unsupported data source %T", a.Kind, src)
	}

	return args, nil
}

type flagSet struct {
	l1Head, l2Head, outputRoot, claim, blockNumber, chainID string
	rollupConfig, genesis                                   string
	l1, l1Beacon, l2, dataDir                               string
}

var opProgramFlags = flagSet{
	l1Head:       "--l1.head",
	l2Head:       "--l2.head",
	outputRoot:   "--l2.outputroot",
	claim:        "--l2.claim",
	blockNumber:  "--l2.blocknumber",
	chainID:      "--l2.chainid",
	rollupConfig: "--rollup.config",
	genesis:      "--l2.genesis",
	l1:           "--l1",
	l1Beacon:     "--l1.beacon",
	l2:           "--l2",
	dataDir:      "--datadir",
}

var konaFlags = flagSet{
	l1Head:       "--l1-head",
	l2Head:       "--l2-head",
	outputRoot:   "--l2-output-root",
	claim:        "--l2-claim",
	blockNumber:  "--l2-block-number",
	chainID:      "--l2-chain-id",
	rollupConfig: "--rollup-config-path",
	genesis:      "--l2-genesis-path",
	l1:           "--l1-node-address",
	l1Beacon:     "--l1-beacon-address",
	l2:           "--l2-node-address",
	dataDir:      "--data-dir",
}
