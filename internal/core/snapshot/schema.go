package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// CurrentVersion is the schema version written by Encode.
const CurrentVersion = 3

var (
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrUnknownShape       = errors.New("snapshot shape not recognized")
	ErrMalformed          = errors.New("malformed snapshot")
)

// Document is a decoded snapshot. Legacy documents carry no metadata, so RunID,
// Env and CreatedAt may be empty.
type Document struct {
	Version   int
	RunID     string
	Env       string
	CreatedAt time.Time
	Recipe    domain.DeploymentRecipe
}

// =============================================================================
// Current Schema (version 3)
// =============================================================================

type wireDocument struct {
	Version         int                  `json:"version"`
	RunID           string               `json:"run_id,omitempty"`
	Env             string               `json:"env,omitempty"`
	CreatedAt       *time.Time           `json:"created_at,omitempty"`
	CellRecords     []wireCellRecord     `json:"cell_records"`
	DepGroupRecords []wireDepGroupRecord `json:"dep_group_records"`
}

type wireCellRecord struct {
	Name             string  `json:"name"`
	TxID             string  `json:"tx_id"`
	OutputIndex      uint32  `json:"output_index"`
	DataHash         string  `json:"data_hash"`
	OccupiedCapacity uint64  `json:"occupied_capacity"`
	IdentityHash     *string `json:"identity_hash,omitempty"`
}

type wireDepGroupRecord struct {
	Name             string `json:"name"`
	TxID             string `json:"tx_id"`
	OutputIndex      uint32 `json:"output_index"`
	OccupiedCapacity uint64 `json:"occupied_capacity"`
}

// Encode renders doc in the current schema. The Version field of doc is
// ignored.
func Encode(doc Document) ([]byte, error) {
	w := wireDocument{
		Version:         CurrentVersion,
		RunID:           doc.RunID,
		Env:             doc.Env,
		CellRecords:     make([]wireCellRecord, 0, len(doc.Recipe.CellRecords)),
		DepGroupRecords: make([]wireDepGroupRecord, 0, len(doc.Recipe.DepGroupRecords)),
	}
	if !doc.CreatedAt.IsZero() {
		created := doc.CreatedAt.UTC()
		w.CreatedAt = &created
	}
	for _, c := range doc.Recipe.CellRecords {
		rec := wireCellRecord{
			Name:             c.Name,
			TxID:             c.TxHash.String(),
			OutputIndex:      c.Index,
			DataHash:         c.DataHash.String(),
			OccupiedCapacity: c.OccupiedCapacity,
		}
		if c.IdentityHash != nil {
			id := c.IdentityHash.String()
			rec.IdentityHash = &id
		}
		w.CellRecords = append(w.CellRecords, rec)
	}
	for _, g := range doc.Recipe.DepGroupRecords {
		w.DepGroupRecords = append(w.DepGroupRecords, wireDepGroupRecord{
			Name:             g.Name,
			TxID:             g.TxHash.String(),
			OutputIndex:      g.Index,
			OccupiedCapacity: g.OccupiedCapacity,
		})
	}
	return json.MarshalIndent(w, "", "  ")
}

func decodeCurrent(data []byte) (Document, error) {
	var w wireDocument
	if err := strictUnmarshal(data, &w); err != nil {
		return Document{}, err
	}

	doc := Document{Version: CurrentVersion, RunID: w.RunID, Env: w.Env}
	if w.CreatedAt != nil {
		doc.CreatedAt = w.CreatedAt.UTC()
	}
	for i, c := range w.CellRecords {
		rec := domain.CellRecord{Name: c.Name, Index: c.OutputIndex, OccupiedCapacity: c.OccupiedCapacity}
		var err error
		if rec.TxHash, err = parseField("cell_records", i, "tx_id", c.TxID); err != nil {
			return Document{}, err
		}
		if rec.DataHash, err = parseField("cell_records", i, "data_hash", c.DataHash); err != nil {
			return Document{}, err
		}
		if c.IdentityHash != nil {
			id, err := parseField("cell_records", i, "identity_hash", *c.IdentityHash)
			if err != nil {
				return Document{}, err
			}
			rec.IdentityHash = &id
		}
		doc.Recipe.CellRecords = append(doc.Recipe.CellRecords, rec)
	}
	for i, g := range w.DepGroupRecords {
		txHash, err := parseField("dep_group_records", i, "tx_id", g.TxID)
		if err != nil {
			return Document{}, err
		}
		doc.Recipe.DepGroupRecords = append(doc.Recipe.DepGroupRecords, domain.DepGroupRecord{
			Name:             g.Name,
			TxHash:           txHash,
			Index:            g.OutputIndex,
			OccupiedCapacity: g.OccupiedCapacity,
		})
	}
	if err := validateNames(doc.Recipe); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// =============================================================================
// Decoding
// =============================================================================

// Decode parses a snapshot of any supported version.
func Decode(data []byte) (Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	version, err := detectVersion(probe)
	if err != nil {
		return Document{}, err
	}

	switch version {
	case 1:
		return decodeGrouped(data)
	case 2:
		return decodeFlat(data)
	case CurrentVersion:
		return decodeCurrent(data)
	default:
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

func detectVersion(probe map[string]json.RawMessage) (int, error) {
	if raw, ok := probe["version"]; ok {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, fmt.Errorf("%w: version: %v", ErrMalformed, err)
		}
		return v, nil
	}

	_, cellTxs := probe["cell_txs"]
	_, groupTxs := probe["dep_group_txs"]
	_, cellRecipes := probe["cell_recipes"]
	_, groupRecipes := probe["dep_group_recipes"]
	grouped := cellTxs || groupTxs
	flat := cellRecipes || groupRecipes

	switch {
	case grouped && !flat:
		return 1, nil
	case flat && !grouped:
		return 2, nil
	case grouped && flat:
		return 0, fmt.Errorf("%w: document mixes grouped and flat records", ErrUnknownShape)
	default:
		return 0, fmt.Errorf("%w: no version field and no known record keys", ErrUnknownShape)
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func parseField(list string, i int, field, value string) (ledger.Hash, error) {
	h, err := ledger.ParseHash(value)
	if err != nil {
		return ledger.Hash{}, fmt.Errorf("%w: %s[%d].%s: %v", ErrMalformed, list, i, field, err)
	}
	return h, nil
}

func validateNames(recipe domain.DeploymentRecipe) error {
	seen := make(map[string]bool)
	for _, c := range recipe.CellRecords {
		if c.Name == "" || seen[c.Name] {
			return fmt.Errorf("%w: empty or duplicate cell record name %q", ErrMalformed, c.Name)
		}
		seen[c.Name] = true
	}
	seen = make(map[string]bool)
	for _, g := range recipe.DepGroupRecords {
		if g.Name == "" || seen[g.Name] {
			return fmt.Errorf("%w: empty or duplicate dep group record name %q", ErrMalformed, g.Name)
		}
		seen[g.Name] = true
	}
	return nil
}
