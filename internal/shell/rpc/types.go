package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/celldeploy/internal/core/ledger"
)

// =============================================================================
// Scalar Encodings
// =============================================================================

// Uint64 is a number encoded as a 0x-prefixed hex string.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + strconv.FormatUint(uint64(u), 16))
}

func (u *Uint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex number: %w", err)
	}
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("hex number %q: missing 0x prefix", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return fmt.Errorf("hex number %q: %w", s, err)
	}
	*u = Uint64(v)
	return nil
}

// Bytes is a byte string encoded as 0x-prefixed hex.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(b))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex bytes: %w", err)
	}
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("hex bytes %q: missing 0x prefix", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return fmt.Errorf("hex bytes: %w", err)
	}
	*b = raw
	return nil
}

// =============================================================================
// Wire Types
// =============================================================================

type scriptJSON struct {
	CodeHash string `json:"code_hash"`
	HashType string `json:"hash_type"`
	Args     Bytes  `json:"args"`
}

type outPointJSON struct {
	TxHash string `json:"tx_hash"`
	Index  Uint64 `json:"index"`
}

type cellDepJSON struct {
	OutPoint outPointJSON `json:"out_point"`
	DepType  string       `json:"dep_type"`
}

type cellInputJSON struct {
	Since          Uint64       `json:"since"`
	PreviousOutput outPointJSON `json:"previous_output"`
}

type cellOutputJSON struct {
	Capacity Uint64      `json:"capacity"`
	Lock     scriptJSON  `json:"lock"`
	Type     *scriptJSON `json:"type"`
}

type transactionJSON struct {
	Version     Uint64           `json:"version"`
	CellDeps    []cellDepJSON    `json:"cell_deps"`
	HeaderDeps  []string         `json:"header_deps"`
	Inputs      []cellInputJSON  `json:"inputs"`
	Outputs     []cellOutputJSON `json:"outputs"`
	OutputsData []Bytes          `json:"outputs_data"`
	Witnesses   []Bytes          `json:"witnesses"`
	Hash        string           `json:"hash,omitempty"`
}

// =============================================================================
// Conversion
// =============================================================================

func toScriptJSON(s ledger.Script) scriptJSON {
	return scriptJSON{CodeHash: s.CodeHash.String(), HashType: s.HashType.String(), Args: s.Args}
}

func fromScriptJSON(j scriptJSON) (ledger.Script, error) {
	codeHash, err := ledger.ParseHash(j.CodeHash)
	if err != nil {
		return ledger.Script{}, fmt.Errorf("script code_hash: %w", err)
	}
	hashType, err := ledger.ParseHashType(j.HashType)
	if err != nil {
		return ledger.Script{}, fmt.Errorf("script hash_type: %w", err)
	}
	return ledger.Script{CodeHash: codeHash, HashType: hashType, Args: []byte(j.Args)}, nil
}

func toOutPointJSON(o ledger.OutPoint) outPointJSON {
	return outPointJSON{TxHash: o.TxHash.String(), Index: Uint64(o.Index)}
}

func fromOutPointJSON(j outPointJSON) (ledger.OutPoint, error) {
	h, err := ledger.ParseHash(j.TxHash)
	if err != nil {
		return ledger.OutPoint{}, fmt.Errorf("out_point tx_hash: %w", err)
	}
	if j.Index > 0xffffffff {
		return ledger.OutPoint{}, fmt.Errorf("out_point index %d out of range", j.Index)
	}
	return ledger.OutPoint{TxHash: h, Index: uint32(j.Index)}, nil
}

func toCellOutputJSON(o ledger.CellOutput) cellOutputJSON {
	out := cellOutputJSON{Capacity: Uint64(o.Capacity), Lock: toScriptJSON(o.Lock)}
	if o.Type != nil {
		t := toScriptJSON(*o.Type)
		out.Type = &t
	}
	return out
}

func fromCellOutputJSON(j cellOutputJSON) (ledger.CellOutput, error) {
	lock, err := fromScriptJSON(j.Lock)
	if err != nil {
		return ledger.CellOutput{}, err
	}
	out := ledger.CellOutput{Capacity: uint64(j.Capacity), Lock: lock}
	if j.Type != nil {
		typ, err := fromScriptJSON(*j.Type)
		if err != nil {
			return ledger.CellOutput{}, err
		}
		out.Type = &typ
	}
	return out, nil
}

func toTransactionJSON(tx *ledger.Transaction) transactionJSON {
	j := transactionJSON{
		Version:     Uint64(tx.Version),
		CellDeps:    make([]cellDepJSON, 0, len(tx.CellDeps)),
		HeaderDeps:  make([]string, 0, len(tx.HeaderDeps)),
		Inputs:      make([]cellInputJSON, 0, len(tx.Inputs)),
		Outputs:     make([]cellOutputJSON, 0, len(tx.Outputs)),
		OutputsData: make([]Bytes, 0, len(tx.OutputsData)),
		Witnesses:   make([]Bytes, 0, len(tx.Witnesses)),
	}
	for _, d := range tx.CellDeps {
		j.CellDeps = append(j.CellDeps, cellDepJSON{OutPoint: toOutPointJSON(d.OutPoint), DepType: d.DepType.String()})
	}
	for _, h := range tx.HeaderDeps {
		j.HeaderDeps = append(j.HeaderDeps, h.String())
	}
	for _, in := range tx.Inputs {
		j.Inputs = append(j.Inputs, cellInputJSON{Since: Uint64(in.Since), PreviousOutput: toOutPointJSON(in.PreviousOutput)})
	}
	for _, o := range tx.Outputs {
		j.Outputs = append(j.Outputs, toCellOutputJSON(o))
	}
	for _, d := range tx.OutputsData {
		j.OutputsData = append(j.OutputsData, Bytes(d))
	}
	for _, w := range tx.Witnesses {
		j.Witnesses = append(j.Witnesses, Bytes(w))
	}
	return j
}

func fromTransactionJSON(j transactionJSON) (*ledger.Transaction, error) {
	if j.Version > 0xffffffff {
		return nil, fmt.Errorf("transaction version %d out of range", j.Version)
	}
	tx := &ledger.Transaction{Version: uint32(j.Version)}
	for i, d := range j.CellDeps {
		out, err := fromOutPointJSON(d.OutPoint)
		if err != nil {
			return nil, fmt.Errorf("cell_deps[%d]: %w", i, err)
		}
		depType, err := ledger.ParseDepType(d.DepType)
		if err != nil {
			return nil, fmt.Errorf("cell_deps[%d]: %w", i, err)
		}
		tx.CellDeps = append(tx.CellDeps, ledger.CellDep{OutPoint: out, DepType: depType})
	}
	for i, s := range j.HeaderDeps {
		h, err := ledger.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("header_deps[%d]: %w", i, err)
		}
		tx.HeaderDeps = append(tx.HeaderDeps, h)
	}
	for i, in := range j.Inputs {
		out, err := fromOutPointJSON(in.PreviousOutput)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		tx.Inputs = append(tx.Inputs, ledger.CellInput{Since: uint64(in.Since), PreviousOutput: out})
	}
	for i, o := range j.Outputs {
		out, err := fromCellOutputJSON(o)
		if err != nil {
			return nil, fmt.Errorf("outputs[%d]: %w", i, err)
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	for _, d := range j.OutputsData {
		tx.OutputsData = append(tx.OutputsData, []byte(d))
	}
	for _, w := range j.Witnesses {
		tx.Witnesses = append(tx.Witnesses, []byte(w))
	}
	if len(tx.OutputsData) != len(tx.Outputs) {
		return nil, fmt.Errorf("transaction has %d outputs but %d outputs_data", len(tx.Outputs), len(tx.OutputsData))
	}
	return tx, nil
}
