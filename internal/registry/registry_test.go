package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []BackendKind{Native, Cannon, Asterisc}, reg.Backends())
	assert.Equal(t, ProgramKinds, reg.Programs())

	native, ok := reg.Backend(Native)
	require.True(t, ok)
	assert.True(t, native.Default)
	assert.Nil(t, native.Build, "native backend needs no external binary")

	cannon, ok := reg.Backend(Cannon)
	require.True(t, ok)
	require.NotNil(t, cannon.Build)
	assert.Equal(t, "ethereum-optimism/optimism", cannon.Build.Repo)
	assert.Equal(t, "cannon", cannon.Build.WorkDir)
	assert.Contains(t, cannon.Build.Artifacts, "binary")

	prog, ok := reg.Program(OpProgramNative)
	require.True(t, ok)
	assert.True(t, prog.Default)
	assert.Equal(t, []BackendKind{Native}, prog.Compat)
	assert.Equal(t, "op-program", prog.Build.WorkDir)
}

func TestParse_WorkDirDefaultsToCheckoutRoot(t *testing.T) {
	doc := `
backend: native: default: true
program: "kona-native": {
	compat: ["native"]
	build: {
		repo: "anton-rs/kona"
		rev:  "main"
		artifacts: client: "target/release/kona-client"
	}
}
`
	reg, err := Parse("test.cue", []byte(doc))
	require.NoError(t, err)

	prog, ok := reg.Program(KonaNative)
	require.True(t, ok)
	require.NotNil(t, prog.Build)
	assert.Equal(t, ".", prog.Build.WorkDir)
	assert.Empty(t, prog.Build.Steps)
}

func TestParse_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax error", `backend: {`},
		{"unknown backend label", `backend: mips64: {default: true}`},
		{"unknown program label", `program: "zk-program": {compat: ["native"], build: {repo: "a/b", rev: "v1", artifacts: client: "x"}}`},
		{"unknown compat kind", `program: "kona-native": {compat: ["sp1"], build: {repo: "a/b", rev: "v1", artifacts: client: "x"}}`},
		{"missing rev", `program: "kona-native": {compat: ["native"], build: {repo: "a/b", artifacts: client: "x"}}`},
		{"bad repo coordinate", `program: "kona-native": {compat: ["native"], build: {repo: "nope", rev: "v1", artifacts: client: "x"}}`},
		{"no artifacts", `program: "kona-native": {compat: ["native"], build: {repo: "a/b", rev: "v1"}}`},
		{"wrong type", `backend: native: {default: "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.cue", []byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRegistry)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, "test.cue", loadErr.Source)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.cue")
	doc := `
backend: native: default: true
program: "kona-native": {
	default: true
	compat: ["native"]
	build: {
		repo: "anton-rs/kona"
		rev:  "main"
		steps: ["cargo build --release"]
		artifacts: {host: "target/release/kona-host", client: "target/release/kona-client"}
	}
}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []BackendKind{Native}, reg.Backends())
	assert.Equal(t, []ProgramKind{KonaNative}, reg.Programs())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cue"))
	assert.ErrorIs(t, err, ErrMalformedRegistry)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseKinds(t *testing.T) {
	backends, err := ParseBackendKinds([]string{"cannon, native", "cannon"})
	require.NoError(t, err)
	assert.Equal(t, []BackendKind{Cannon, Native}, backends)

	programs, err := ParseProgramKinds([]string{"kona-native"})
	require.NoError(t, err)
	assert.Equal(t, []ProgramKind{KonaNative}, programs)

	_, err = ParseBackendKinds([]string{"native,sp1"})
	require.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), `"sp1"`)
	assert.Contains(t, err.Error(), "native, cannon, asterisc")

	_, err = ParseProgramKind("risc0")
	assert.ErrorIs(t, err, ErrUnknownKind)

	empty, err := ParseBackendKinds(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
