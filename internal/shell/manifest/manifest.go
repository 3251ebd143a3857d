// Package manifest loads the declared deployment: the lock that guards the
// deployed cells, the cells with their payload sources and the dep groups.
//
// The manifest may be TOML, YAML or JSON, selected by file extension:
//
//	[lock]
//	code_hash = "0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8"
//	hash_type = "type"
//	args = "0x..."
//
//	[[cells]]
//	name = "my_contract"
//	enable_type_id = true
//	location = { file = "build/release/my_contract" }
//
//	[[cells]]
//	name = "secp256k1_data"
//	enable_type_id = false
//	location = { tx_hash = "0x...", index = 3 }
//
//	[[dep_groups]]
//	name = "my_dep_group"
//	cells = ["my_contract", "secp256k1_data"]
//
// String values may reference variables as ${VAR} or ${VAR:-default}.
package manifest

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/spf13/viper"
)

const op = "load_manifest"

// Manifest is a validated deployment declaration.
type Manifest struct {
	Path      string
	Lock      ledger.Script
	Cells     []domain.CellSpec
	DepGroups []domain.DepGroupSpec
}

// =============================================================================
// File Shape
// =============================================================================

type fileConfig struct {
	Lock      lockConfig       `mapstructure:"lock"`
	Cells     []cellConfig     `mapstructure:"cells"`
	DepGroups []depGroupConfig `mapstructure:"dep_groups"`
}

type lockConfig struct {
	CodeHash string `mapstructure:"code_hash"`
	HashType string `mapstructure:"hash_type"`
	Args     string `mapstructure:"args"`
}

type cellConfig struct {
	Name         string         `mapstructure:"name"`
	EnableTypeID bool           `mapstructure:"enable_type_id"`
	Location     locationConfig `mapstructure:"location"`
}

type locationConfig struct {
	File   string  `mapstructure:"file"`
	TxHash string  `mapstructure:"tx_hash"`
	Index  *uint32 `mapstructure:"index"`
}

type depGroupConfig struct {
	Name  string   `mapstructure:"name"`
	Cells []string `mapstructure:"cells"`
}

// =============================================================================
// Loading
// =============================================================================

// Load reads the manifest at path. Payload files are resolved relative to
// the manifest's directory and read eagerly.
func Load(path string, vars map[string]string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, domain.NewConfigError(op, path, err.Error())
	}

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, domain.NewConfigError(op, path, err.Error())
	}

	m := &Manifest{Path: path}
	lock, err := parseLock(raw.Lock, vars)
	if err != nil {
		return nil, err
	}
	m.Lock = lock

	baseDir := filepath.Dir(path)
	seen := make(map[string]bool)
	for i, c := range raw.Cells {
		spec, err := parseCell(i, c, baseDir, vars)
		if err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, domain.NewConfigError(op, spec.Name, "cell declared twice")
		}
		seen[spec.Name] = true
		m.Cells = append(m.Cells, spec)
	}

	seen = make(map[string]bool)
	for i, g := range raw.DepGroups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return nil, domain.NewConfigError(op, fmt.Sprintf("dep_groups[%d]", i), "name is required")
		}
		if seen[name] {
			return nil, domain.NewConfigError(op, name, "dep group declared twice")
		}
		seen[name] = true
		if len(g.Cells) == 0 {
			return nil, domain.NewConfigError(op, name, "dep group has no cells")
		}
		m.DepGroups = append(m.DepGroups, domain.DepGroupSpec{Name: name, Members: append([]string(nil), g.Cells...)})
	}

	return m, nil
}

func parseLock(c lockConfig, vars map[string]string) (ledger.Script, error) {
	codeHash, err := ledger.ParseHash(Expand(c.CodeHash, vars))
	if err != nil {
		return ledger.Script{}, domain.NewConfigError(op, "lock.code_hash", err.Error())
	}
	hashType, err := ledger.ParseHashType(Expand(c.HashType, vars))
	if err != nil {
		return ledger.Script{}, domain.NewConfigError(op, "lock.hash_type", err.Error())
	}
	args, err := decodeHex(Expand(c.Args, vars))
	if err != nil {
		return ledger.Script{}, domain.NewConfigError(op, "lock.args", err.Error())
	}
	return ledger.Script{CodeHash: codeHash, HashType: hashType, Args: args}, nil
}

func parseCell(i int, c cellConfig, baseDir string, vars map[string]string) (domain.CellSpec, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return domain.CellSpec{}, domain.NewConfigError(op, fmt.Sprintf("cells[%d]", i), "name is required")
	}
	spec := domain.CellSpec{Name: name, IdentityEnabled: c.EnableTypeID}

	file := Expand(c.Location.File, vars)
	txHash := Expand(c.Location.TxHash, vars)
	switch {
	case file != "" && txHash != "":
		return domain.CellSpec{}, domain.NewConfigError(op, name, "location must be either a file or an out point, not both")

	case file != "":
		if !filepath.IsAbs(file) {
			file = filepath.Join(baseDir, file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return domain.CellSpec{}, domain.NewConfigError(op, name, fmt.Sprintf("read payload: %v", err))
		}
		spec.Payload = domain.Payload{Data: data, Path: file}

	case txHash != "":
		hash, err := ledger.ParseHash(txHash)
		if err != nil {
			return domain.CellSpec{}, domain.NewConfigError(op, name, fmt.Sprintf("location.tx_hash: %v", err))
		}
		if c.Location.Index == nil {
			return domain.CellSpec{}, domain.NewConfigError(op, name, "location.index is required with tx_hash")
		}
		if c.EnableTypeID {
			return domain.CellSpec{}, domain.NewConfigError(op, name, "enable_type_id cannot apply to a cell that is already on chain")
		}
		spec.Payload = domain.Payload{Ref: &ledger.OutPoint{TxHash: hash, Index: *c.Location.Index}}

	default:
		return domain.CellSpec{}, domain.NewConfigError(op, name, "location needs a file or a tx_hash and index")
	}
	return spec, nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("hex value %q must start with 0x", s)
	}
	return hex.DecodeString(s[2:])
}
