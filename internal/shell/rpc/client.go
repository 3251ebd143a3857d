// Package rpc is a JSON-RPC client for a ledger node and its built-in
// indexer.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/artpar/celldeploy/internal/core/ledger"
)

// ErrEmptyResult is returned when the node answers with a null result where
// a value was required.
var ErrEmptyResult = errors.New("empty result")

// Client provides methods for interacting with a ledger node.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// Config holds node client configuration.
type Config struct {
	URL string // node RPC endpoint, e.g., "http://localhost:8114"

	// Timeout bounds each call. Zero leaves calls bounded only by the
	// caller's context.
	Timeout time.Duration
}

// NewClient creates a new node client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "rpc"),
	}
}

// =============================================================================
// Envelope
// =============================================================================

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Error is an error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call invokes method and decodes its result into result. A null result
// leaves result untouched.
func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("rpc call", "method", method, "id", id)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, string(body))
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if envelope.ID != id {
		return fmt.Errorf("%s: response id %d does not match request id %d", method, envelope.ID, id)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" || result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// =============================================================================
// Chain Operations
// =============================================================================

// TxStatus is the node's view of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxProposed  TxStatus = "proposed"
	TxCommitted TxStatus = "committed"
	TxUnknown   TxStatus = "unknown"
	TxRejected  TxStatus = "rejected"
)

// TransactionWithStatus is a transaction as returned by get_transaction.
type TransactionWithStatus struct {
	Hash        ledger.Hash
	Transaction *ledger.Transaction
	Status      TxStatus
	BlockHash   *ledger.Hash
}

type transactionWithStatusJSON struct {
	Transaction *transactionJSON `json:"transaction"`
	TxStatus    struct {
		Status    TxStatus `json:"status"`
		BlockHash *string  `json:"block_hash"`
	} `json:"tx_status"`
}

// GetTransaction returns the transaction with hash, or nil when the node does
// not know it.
func (c *Client) GetTransaction(ctx context.Context, hash ledger.Hash) (*TransactionWithStatus, error) {
	var raw *transactionWithStatusJSON
	if err := c.call(ctx, "get_transaction", &raw, hash.String()); err != nil {
		return nil, err
	}
	if raw == nil || raw.Transaction == nil || raw.TxStatus.Status == TxUnknown || raw.TxStatus.Status == TxRejected {
		return nil, nil
	}

	tx, err := fromTransactionJSON(*raw.Transaction)
	if err != nil {
		return nil, fmt.Errorf("get_transaction %s: %w", hash, err)
	}
	result := &TransactionWithStatus{Hash: hash, Transaction: tx, Status: raw.TxStatus.Status}
	if raw.TxStatus.BlockHash != nil {
		blockHash, err := ledger.ParseHash(*raw.TxStatus.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("get_transaction %s: block_hash: %w", hash, err)
		}
		result.BlockHash = &blockHash
	}
	return result, nil
}

// SendTransaction submits tx and returns the hash the node assigned to it.
func (c *Client) SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Hash, error) {
	var hash string
	if err := c.call(ctx, "send_transaction", &hash, toTransactionJSON(tx), "passthrough"); err != nil {
		return ledger.Hash{}, err
	}
	if hash == "" {
		return ledger.Hash{}, fmt.Errorf("send_transaction: %w", ErrEmptyResult)
	}
	return ledger.ParseHash(hash)
}

// Block is a block with its transactions.
type Block struct {
	Number       uint64
	Hash         ledger.Hash
	Transactions []*ledger.Transaction
	TxHashes     []ledger.Hash
}

type blockJSON struct {
	Header struct {
		Number Uint64 `json:"number"`
		Hash   string `json:"hash"`
	} `json:"header"`
	Transactions []transactionJSON `json:"transactions"`
}

// GetBlockByNumber returns the block at number.
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var raw *blockJSON
	if err := c.call(ctx, "get_block_by_number", &raw, Uint64(number)); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("get_block_by_number %d: %w", number, ErrEmptyResult)
	}

	hash, err := ledger.ParseHash(raw.Header.Hash)
	if err != nil {
		return nil, fmt.Errorf("get_block_by_number %d: header hash: %w", number, err)
	}
	block := &Block{Number: uint64(raw.Header.Number), Hash: hash}
	for i, j := range raw.Transactions {
		tx, err := fromTransactionJSON(j)
		if err != nil {
			return nil, fmt.Errorf("get_block_by_number %d: transactions[%d]: %w", number, i, err)
		}
		txHash := tx.Hash()
		if j.Hash != "" {
			if txHash, err = ledger.ParseHash(j.Hash); err != nil {
				return nil, fmt.Errorf("get_block_by_number %d: transactions[%d]: %w", number, i, err)
			}
		}
		block.Transactions = append(block.Transactions, tx)
		block.TxHashes = append(block.TxHashes, txHash)
	}
	return block, nil
}

// CellStatus is the liveness of an out point.
type CellStatus string

const (
	CellLive    CellStatus = "live"
	CellDead    CellStatus = "dead"
	CellUnknown CellStatus = "unknown"
)

// LiveCell is the result of get_live_cell. Output and Data are set only
// when the cell is live; Data only when requested.
type LiveCell struct {
	Status   CellStatus
	Output   *ledger.CellOutput
	Data     []byte
	DataHash *ledger.Hash
}

type liveCellJSON struct {
	Cell *struct {
		Output cellOutputJSON `json:"output"`
		Data   *struct {
			Content Bytes  `json:"content"`
			Hash    string `json:"hash"`
		} `json:"data"`
	} `json:"cell"`
	Status CellStatus `json:"status"`
}

// GetLiveCell reports the status of out.
func (c *Client) GetLiveCell(ctx context.Context, out ledger.OutPoint, withData bool) (*LiveCell, error) {
	var raw liveCellJSON
	if err := c.call(ctx, "get_live_cell", &raw, toOutPointJSON(out), withData); err != nil {
		return nil, err
	}
	if raw.Status == "" {
		return nil, fmt.Errorf("get_live_cell %s: %w", out, ErrEmptyResult)
	}

	cell := &LiveCell{Status: raw.Status}
	if raw.Cell == nil {
		return cell, nil
	}
	output, err := fromCellOutputJSON(raw.Cell.Output)
	if err != nil {
		return nil, fmt.Errorf("get_live_cell %s: %w", out, err)
	}
	cell.Output = &output
	if raw.Cell.Data != nil {
		cell.Data = []byte(raw.Cell.Data.Content)
		h, err := ledger.ParseHash(raw.Cell.Data.Hash)
		if err != nil {
			return nil, fmt.Errorf("get_live_cell %s: data hash: %w", out, err)
		}
		cell.DataHash = &h
	}
	return cell, nil
}

// =============================================================================
// Indexer Operations
// =============================================================================

// SearchKey selects cells by lock script.
type SearchKey struct {
	Lock ledger.Script

	// OnlyPlain restricts results to cells without type script and without
	// data, the only cells safe to spend as fees.
	OnlyPlain bool
}

type searchKeyJSON struct {
	Script     scriptJSON    `json:"script"`
	ScriptType string        `json:"script_type"`
	Filter     *searchFilter `json:"filter,omitempty"`
}

type searchFilter struct {
	Script             *scriptJSON `json:"script,omitempty"`
	OutputDataLenRange []Uint64    `json:"output_data_len_range,omitempty"`
}

// IndexedCell is one cell returned by the indexer.
type IndexedCell struct {
	OutPoint    ledger.OutPoint
	Output      ledger.CellOutput
	Data        []byte
	BlockNumber uint64
}

// CellsPage is one page of get_cells results.
type CellsPage struct {
	Cells      []IndexedCell
	LastCursor string
}

type cellsPageJSON struct {
	Objects []struct {
		Output      cellOutputJSON `json:"output"`
		OutputData  Bytes          `json:"output_data"`
		OutPoint    outPointJSON   `json:"out_point"`
		BlockNumber Uint64         `json:"block_number"`
	} `json:"objects"`
	LastCursor string `json:"last_cursor"`
}

// GetCells returns up to limit live cells matching key, starting after
// cursor. An empty cursor starts from the beginning.
func (c *Client) GetCells(ctx context.Context, key SearchKey, limit uint64, cursor string) (*CellsPage, error) {
	search := searchKeyJSON{Script: toScriptJSON(key.Lock), ScriptType: "lock"}
	if key.OnlyPlain {
		search.Filter = &searchFilter{OutputDataLenRange: []Uint64{0, 1}}
	}

	params := []any{search, "asc", Uint64(limit)}
	if cursor != "" {
		params = append(params, cursor)
	}

	var raw cellsPageJSON
	if err := c.call(ctx, "get_cells", &raw, params...); err != nil {
		return nil, err
	}

	page := &CellsPage{LastCursor: raw.LastCursor}
	for i, o := range raw.Objects {
		out, err := fromOutPointJSON(o.OutPoint)
		if err != nil {
			return nil, fmt.Errorf("get_cells objects[%d]: %w", i, err)
		}
		output, err := fromCellOutputJSON(o.Output)
		if err != nil {
			return nil, fmt.Errorf("get_cells objects[%d]: %w", i, err)
		}
		page.Cells = append(page.Cells, IndexedCell{
			OutPoint:    out,
			Output:      output,
			Data:        []byte(o.OutputData),
			BlockNumber: uint64(o.BlockNumber),
		})
	}
	return page, nil
}
