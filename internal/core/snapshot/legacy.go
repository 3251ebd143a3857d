package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
)

// =============================================================================
// Legacy Hash
// =============================================================================

// legacyHash accepts both encodings older tools wrote: a hex string or an
// array of 32 numbers.
type legacyHash ledger.Hash

func (h *legacyHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ledger.ParseHash(s)
		if err != nil {
			return err
		}
		*h = legacyHash(parsed)
		return nil
	}

	var raw []byte
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("hash is neither a hex string nor a byte array")
	}
	for _, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("hash byte %d out of range", v)
		}
		raw = append(raw, byte(v))
	}
	parsed, err := ledger.HashFromBytes(raw)
	if err != nil {
		return err
	}
	*h = legacyHash(parsed)
	return nil
}

// =============================================================================
// Version 1: grouped by transaction
// =============================================================================

type groupedDocument struct {
	Version     *int            `json:"version,omitempty"`
	CellTxs     []groupedCellTx `json:"cell_txs"`
	DepGroupTxs []groupedDepTx  `json:"dep_group_txs"`
}

type groupedCellTx struct {
	TxHash legacyHash        `json:"tx_hash"`
	Cells  []groupedCellItem `json:"cells"`
}

type groupedCellItem struct {
	Name     string     `json:"name"`
	Index    uint32     `json:"index"`
	DataHash legacyHash `json:"data_hash"`
}

type groupedDepTx struct {
	TxHash    legacyHash       `json:"tx_hash"`
	DepGroups []groupedDepItem `json:"dep_groups"`
}

type groupedDepItem struct {
	Name  string `json:"name"`
	Index uint32 `json:"index"`
}

// decodeGrouped flattens a version 1 document. Capacities were not recorded
// in that version and decode as zero.
func decodeGrouped(data []byte) (Document, error) {
	var w groupedDocument
	if err := strictUnmarshal(data, &w); err != nil {
		return Document{}, err
	}

	doc := Document{Version: 1}
	for _, tx := range w.CellTxs {
		for _, c := range tx.Cells {
			doc.Recipe.CellRecords = append(doc.Recipe.CellRecords, domain.CellRecord{
				Name:     c.Name,
				TxHash:   ledger.Hash(tx.TxHash),
				Index:    c.Index,
				DataHash: ledger.Hash(c.DataHash),
			})
		}
	}
	for _, tx := range w.DepGroupTxs {
		for _, g := range tx.DepGroups {
			doc.Recipe.DepGroupRecords = append(doc.Recipe.DepGroupRecords, domain.DepGroupRecord{
				Name:   g.Name,
				TxHash: ledger.Hash(tx.TxHash),
				Index:  g.Index,
			})
		}
	}
	if err := validateNames(doc.Recipe); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// =============================================================================
// Version 2: flat records
// =============================================================================

type flatDocument struct {
	Version         *int           `json:"version,omitempty"`
	CellRecipes     []flatCell     `json:"cell_recipes"`
	DepGroupRecipes []flatDepGroup `json:"dep_group_recipes"`
}

type flatCell struct {
	Name             string      `json:"name"`
	TxHash           legacyHash  `json:"tx_hash"`
	Index            uint32      `json:"index"`
	OccupiedCapacity uint64      `json:"occupied_capacity"`
	DataHash         legacyHash  `json:"data_hash"`
	TypeID           *legacyHash `json:"type_id,omitempty"`
}

type flatDepGroup struct {
	Name             string     `json:"name"`
	TxHash           legacyHash `json:"tx_hash"`
	Index            uint32     `json:"index"`
	OccupiedCapacity uint64     `json:"occupied_capacity"`
}

func decodeFlat(data []byte) (Document, error) {
	var w flatDocument
	if err := strictUnmarshal(data, &w); err != nil {
		return Document{}, err
	}

	doc := Document{Version: 2}
	for _, c := range w.CellRecipes {
		rec := domain.CellRecord{
			Name:             c.Name,
			TxHash:           ledger.Hash(c.TxHash),
			Index:            c.Index,
			DataHash:         ledger.Hash(c.DataHash),
			OccupiedCapacity: c.OccupiedCapacity,
		}
		if c.TypeID != nil {
			id := ledger.Hash(*c.TypeID)
			rec.IdentityHash = &id
		}
		doc.Recipe.CellRecords = append(doc.Recipe.CellRecords, rec)
	}
	for _, g := range w.DepGroupRecipes {
		doc.Recipe.DepGroupRecords = append(doc.Recipe.DepGroupRecords, domain.DepGroupRecord{
			Name:             g.Name,
			TxHash:           ledger.Hash(g.TxHash),
			Index:            g.Index,
			OccupiedCapacity: g.OccupiedCapacity,
		})
	}
	if err := validateNames(doc.Recipe); err != nil {
		return Document{}, err
	}
	return doc, nil
}
