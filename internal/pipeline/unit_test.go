package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fpt/internal/fixture"
	"github.com/roach88/fpt/internal/program"
	"github.com/roach88/fpt/internal/registry"
)

func TestExpand_CrossProduct(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	matrix := reg.ResolveMatrix(registry.AllComponents())

	fixtures := []*fixture.Fixture{
		{Name: "a", Dir: "/f/a"},
		{Name: "b", Dir: "/f/b"},
	}
	units := Expand(matrix, fixtures)
	require.Len(t, units, 2*matrix.Units())

	assert.Equal(t, "a/native/op-program-native", units[0].Name())
	assert.Equal(t, "a/native/kona-native", units[1].Name())
	assert.Equal(t, "b/asterisc/kona-riscv", units[len(units)-1].Name())

	for _, u := range units {
		assert.True(t, u.ProgramDef.CompatibleWith(u.Backend))
		disk, ok := u.Inputs.Source.(program.Disk)
		require.True(t, ok)
		assert.Equal(t, u.Fixture.WitnessPath(), disk.Path)
	}

	assert.Len(t, distinctFixtures(units), 2)
}

func TestParsePartition(t *testing.T) {
	p, err := ParsePartition("")
	require.NoError(t, err)
	assert.Equal(t, Partition{Index: 1, Count: 1}, p)

	p, err = ParsePartition("2/3")
	require.NoError(t, err)
	assert.Equal(t, "2/3", p.String())

	for _, bad := range []string{"2", "0/3", "4/3", "a/b", "1/0", "-1/2"} {
		_, err := ParsePartition(bad)
		assert.Error(t, err, bad)
	}
}

func TestPartition_DisjointAndCovering(t *testing.T) {
	var units []Unit
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		units = append(units, Unit{Fixture: &fixture.Fixture{Name: name}, Backend: registry.Native, Program: registry.OpProgramNative})
	}

	for n := 1; n <= 4; n++ {
		seen := make(map[string]int)
		for k := 1; k <= n; k++ {
			for _, u := range (Partition{Index: k, Count: n}).Apply(units) {
				seen[u.Name()]++
			}
		}
		assert.Len(t, seen, len(units), "n=%d", n)
		for name, count := range seen {
			assert.Equal(t, 1, count, "n=%d unit %s", n, name)
		}
	}
}
