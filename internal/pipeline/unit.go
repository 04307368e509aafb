package pipeline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/fpt/internal/fixture"
	"github.com/roach88/fpt/internal/program"
	"github.com/roach88/fpt/internal/registry"
)

// Unit is one fixture run on one backend with one program.
// Units are created during setup and never modified.
type Unit struct {
	Fixture    *fixture.Fixture
	Backend    registry.BackendKind
	BackendDef registry.BackendDefinition
	Program    registry.ProgramKind
	ProgramDef registry.ProgramDefinition
	Inputs     program.HostInputs
}

// Name identifies the unit as fixture/backend/program.
func (u Unit) Name() string {
	return fmt.Sprintf("%s/%s/%s", u.Fixture.Name, u.Backend, u.Program)
}

// HostInputs maps a fixture onto the inputs of a host command. The witness
// is read from the fixture's decompressed directory.
func HostInputs(fx *fixture.Fixture) program.HostInputs {
	return program.HostInputs{
		Inputs: program.Inputs{
			L1Head:        fx.Inputs.L1Head,
			L2Head:        fx.Inputs.L2Head,
			L2OutputRoot:  fx.Inputs.L2OutputRoot,
			L2Claim:       fx.Inputs.L2Claim,
			L2BlockNumber: fx.Inputs.L2BlockNumber,
			L2ChainID:     fx.Inputs.L2ChainID,
		},
		RollupConfigPath: fx.RollupConfigPath(),
		GenesisPath:      fx.GenesisPath(),
		Source:           program.Disk{Path: fx.WitnessPath()},
	}
}

// Expand forms the cross product of fixtures and matrix entries.
// Units are ordered by fixture, then backend, then program.
func Expand(matrix registry.Matrix, fixtures []*fixture.Fixture) []Unit {
	var units []Unit
	for _, fx := range fixtures {
		inputs := HostInputs(fx)
		for _, entry := range matrix {
			for _, pk := range entry.ProgramKinds() {
				units = append(units, Unit{
					Fixture:    fx,
					Backend:    entry.Backend,
					BackendDef: entry.Definition,
					Program:    pk,
					ProgramDef: entry.Programs[pk],
					Inputs:     inputs,
				})
			}
		}
	}
	return units
}

// distinctFixtures returns each fixture referenced by units once, keyed by directory.
func distinctFixtures(units []Unit) []*fixture.Fixture {
	var out []*fixture.Fixture
	seen := make(map[string]bool)
	for _, u := range units {
		if seen[u.Fixture.Dir] {
			continue
		}
		seen[u.Fixture.Dir] = true
		out = append(out, u.Fixture)
	}
	return out
}

// Partition selects the k-th of n disjoint shares of a unit list (1-based).
type Partition struct {
	Index int
	Count int
}

// ParsePartition parses "k/n". An empty string selects everything.
func ParsePartition(s string) (Partition, error) {
	if s == "" {
		return Partition{Index: 1, Count: 1}, nil
	}
	k, n, ok := strings.Cut(s, "/")
	if !ok {
		return Partition{}, fmt.Errorf("invalid partition %q: want k/n", s)
	}
	index, err := strconv.Atoi(strings.TrimSpace(k))
	if err != nil {
		return Partition{}, fmt.Errorf("invalid partition %q: %w", s, err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return Partition{}, fmt.Errorf("invalid partition %q: %w", s, err)
	}
	if count < 1 || index < 1 || index > count {
		return Partition{}, fmt.Errorf("invalid partition %q: need 1 <= k <= n", s)
	}
	return Partition{Index: index, Count: count}, nil
}

func (p Partition) String() string {
	return fmt.Sprintf("%d/%d", p.Index, p.Count)
}

// Apply returns the units in this share. Shares of the same list are
// disjoint and together cover it.
func (p Partition) Apply(units []Unit) []Unit {
	if p.Count <= 1 {
		return slices.Clone(units)
	}
	var out []Unit
	for i, u := range units {
		if i%p.Count == p.Index-1 {
			out = append(out, u)
		}
	}
	return out
}
