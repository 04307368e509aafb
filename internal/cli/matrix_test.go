package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrix_Text(t *testing.T) {
	w := newWorkspace(t, 0, "true")

	stdout, _, code := w.run("matrix")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "BACKEND")
	assert.Contains(t, stdout, "native (default, built)")
	assert.Contains(t, stdout, "op-program-native (default)")
}

func TestMatrix_JSONReflectsLedger(t *testing.T) {
	w := newWorkspace(t, 0, "true")
	w.fixture("simple-transfer", 0)

	decode := func() []MatrixBackend {
		stdout, _, code := w.run("--format", "json", "matrix")
		require.Equal(t, ExitSuccess, code)
		var resp struct {
			Status string          `json:"status"`
			Data   []MatrixBackend `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Equal(t, "ok", resp.Status)
		return resp.Data
	}

	rows := decode()
	require.Len(t, rows, 1)
	assert.Equal(t, "native", rows[0].Name)
	require.Len(t, rows[0].Programs, 1)
	assert.False(t, rows[0].Programs[0].Built)

	_, _, code := w.run("test")
	require.Equal(t, ExitSuccess, code)

	rows = decode()
	assert.True(t, rows[0].Programs[0].Built, "recorded after a successful build")

	require.NoError(t, os.Remove(filepath.Join(w.root, "components", "local", "op-program", "bin", "host")))
	rows = decode()
	assert.False(t, rows[0].Programs[0].Built, "ledger record without its artifacts")
}
