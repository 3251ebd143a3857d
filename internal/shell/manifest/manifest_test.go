package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secpCodeHash = "0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8"
	refTxHash    = "0x71a7ba8fc96349fea0ed3a5c47992e3b4084b031a42264a018e0072e8172e46c"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const tomlManifest = `
[lock]
code_hash = "` + secpCodeHash + `"
hash_type = "type"
args = "0x0101010101010101010101010101010101010101"

[[cells]]
name = "always_success"
enable_type_id = true
location = { file = "${BUILD_DIR:-build/release}/always_success" }

[[cells]]
name = "secp256k1_data"
enable_type_id = false
location = { tx_hash = "` + refTxHash + `", index = 3 }

[[dep_groups]]
name = "bundle"
cells = ["always_success", "secp256k1_data"]
`

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "build/release/always_success", "\x7fELF")
	path := writeFile(t, dir, "deployment.toml", tomlManifest)

	m, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, m.Path)
	assert.Equal(t, ledger.MustParseHash(secpCodeHash), m.Lock.CodeHash)
	assert.Equal(t, ledger.HashTypeType, m.Lock.HashType)
	assert.Len(t, m.Lock.Args, 20)

	require.Len(t, m.Cells, 2)
	code := m.Cells[0]
	assert.Equal(t, "always_success", code.Name)
	assert.True(t, code.IdentityEnabled)
	assert.Equal(t, []byte("\x7fELF"), code.Payload.Data)
	assert.Equal(t, filepath.Join(dir, "build/release/always_success"), code.Payload.Path)
	assert.False(t, code.Payload.IsReference())

	ref := m.Cells[1]
	require.True(t, ref.Payload.IsReference())
	assert.Equal(t, ledger.OutPoint{TxHash: ledger.MustParseHash(refTxHash), Index: 3}, *ref.Payload.Ref)

	require.Len(t, m.DepGroups, 1)
	assert.Equal(t, domain.DepGroupSpec{Name: "bundle", Members: []string{"always_success", "secp256k1_data"}}, m.DepGroups[0])
}

func TestLoad_VariablesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dist/always_success", "v2")
	path := writeFile(t, dir, "deployment.toml", tomlManifest)

	m, err := Load(path, map[string]string{"BUILD_DIR": "dist"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), m.Cells[0].Payload.Data)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lock.bin", "code")
	path := writeFile(t, dir, "deployment.yaml", `
lock:
  code_hash: "`+secpCodeHash+`"
  hash_type: data1
  args: "0x"
cells:
  - name: lock
    enable_type_id: false
    location:
      file: lock.bin
`)

	m, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.HashTypeData1, m.Lock.HashType)
	assert.Empty(t, m.Lock.Args)
	require.Len(t, m.Cells, 1)
	assert.Equal(t, []byte("code"), m.Cells[0].Payload.Data)
	assert.Empty(t, m.DepGroups)
}

func TestLoad_Errors(t *testing.T) {
	lock := `
[lock]
code_hash = "` + secpCodeHash + `"
hash_type = "type"
args = "0x"
`
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "bad code hash",
			body:    "[lock]\ncode_hash = \"0x12\"\nhash_type = \"type\"\nargs = \"0x\"\n",
			wantMsg: "lock.code_hash",
		},
		{
			name:    "bad hash type",
			body:    "[lock]\ncode_hash = \"" + secpCodeHash + "\"\nhash_type = \"data9\"\nargs = \"0x\"\n",
			wantMsg: "lock.hash_type",
		},
		{
			name:    "args without prefix",
			body:    "[lock]\ncode_hash = \"" + secpCodeHash + "\"\nhash_type = \"type\"\nargs = \"abcd\"\n",
			wantMsg: "lock.args",
		},
		{
			name:    "missing cell name",
			body:    lock + "[[cells]]\nlocation = { file = \"a\" }\n",
			wantMsg: "name is required",
		},
		{
			name:    "duplicate cell",
			body:    lock + "[[cells]]\nname = \"a\"\nlocation = { file = \"a.bin\" }\n[[cells]]\nname = \"a\"\nlocation = { file = \"a.bin\" }\n",
			wantMsg: "cell declared twice",
		},
		{
			name:    "no location",
			body:    lock + "[[cells]]\nname = \"a\"\n",
			wantMsg: "location needs a file",
		},
		{
			name:    "both locations",
			body:    lock + "[[cells]]\nname = \"a\"\nlocation = { file = \"a.bin\", tx_hash = \"" + refTxHash + "\", index = 0 }\n",
			wantMsg: "not both",
		},
		{
			name:    "reference without index",
			body:    lock + "[[cells]]\nname = \"a\"\nlocation = { tx_hash = \"" + refTxHash + "\" }\n",
			wantMsg: "location.index is required",
		},
		{
			name:    "reference with type id",
			body:    lock + "[[cells]]\nname = \"a\"\nenable_type_id = true\nlocation = { tx_hash = \"" + refTxHash + "\", index = 0 }\n",
			wantMsg: "enable_type_id",
		},
		{
			name:    "missing payload file",
			body:    lock + "[[cells]]\nname = \"a\"\nlocation = { file = \"nope.bin\" }\n",
			wantMsg: "read payload",
		},
		{
			name:    "duplicate dep group",
			body:    lock + "[[dep_groups]]\nname = \"g\"\ncells = [\"x\"]\n[[dep_groups]]\nname = \"g\"\ncells = [\"x\"]\n",
			wantMsg: "dep group declared twice",
		},
		{
			name:    "empty dep group",
			body:    lock + "[[dep_groups]]\nname = \"g\"\ncells = []\n",
			wantMsg: "dep group has no cells",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "a.bin", "a")
			path := writeFile(t, dir, "deployment.toml", tt.body)

			_, err := Load(path, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "deployment.toml"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}
