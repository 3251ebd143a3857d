package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	kindCell     = "cell"
	kindDepGroup = "dep_group"
)

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID                    string  `db:"id"`
	Env                   string  `db:"env"`
	Snapshot              string  `db:"snapshot"`
	CellsTx               *string `db:"cells_tx"`
	DepGroupsTx           *string `db:"dep_groups_tx"`
	MigratedCapacity      int64   `db:"migrated_capacity"`
	TotalOccupiedCapacity int64   `db:"total_occupied_capacity"`
	FeeTotal              int64   `db:"fee_total"`
	CreatedAt             string  `db:"created_at"`
}

// cellRow represents a deployed cell or dep group row.
type cellRow struct {
	DeploymentID     string  `db:"deployment_id"`
	Kind             string  `db:"kind"`
	Position         int     `db:"position"`
	Name             string  `db:"name"`
	TxHash           string  `db:"tx_hash"`
	OutputIndex      int64   `db:"output_index"`
	DataHash         *string `db:"data_hash"`
	OccupiedCapacity int64   `db:"occupied_capacity"`
	IdentityHash     *string `db:"identity_hash"`
}

// cellVersionRow joins a cell row with its deployment.
type cellVersionRow struct {
	cellRow
	Snapshot  string `db:"snapshot"`
	CreatedAt string `db:"created_at"`
}

// RecordDeployment stores entry and its records in one transaction.
func (s *SQLiteStore) RecordDeployment(ctx context.Context, entry *domain.HistoryEntry) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.RecordDeployment(ctx, entry)
	})
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, runID string) (*domain.HistoryEntry, error) {
	return getDeployment(ctx, s.db, runID)
}

func (s *SQLiteStore) LatestDeployment(ctx context.Context, env string) (*domain.HistoryEntry, error) {
	return latestDeployment(ctx, s.db, env)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, env string, opts ListOptions) ([]domain.HistoryEntry, error) {
	return listDeployments(ctx, s.db, env, opts)
}

func (s *SQLiteStore) DeleteDeployments(ctx context.Context, env string) (int, error) {
	return deleteDeployments(ctx, s.db, env)
}

func (s *SQLiteStore) ListCellVersions(ctx context.Context, env, name string) ([]domain.CellVersion, error) {
	return listCellVersions(ctx, s.db, env, name)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) RecordDeployment(ctx context.Context, entry *domain.HistoryEntry) error {
	return recordDeployment(ctx, s.tx, entry)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, runID string) (*domain.HistoryEntry, error) {
	return getDeployment(ctx, s.tx, runID)
}

func (s *txSQLiteStore) LatestDeployment(ctx context.Context, env string) (*domain.HistoryEntry, error) {
	return latestDeployment(ctx, s.tx, env)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, env string, opts ListOptions) ([]domain.HistoryEntry, error) {
	return listDeployments(ctx, s.tx, env, opts)
}

func (s *txSQLiteStore) DeleteDeployments(ctx context.Context, env string) (int, error) {
	return deleteDeployments(ctx, s.tx, env)
}

func (s *txSQLiteStore) ListCellVersions(ctx context.Context, env, name string) ([]domain.CellVersion, error) {
	return listCellVersions(ctx, s.tx, env, name)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func recordDeployment(ctx context.Context, exec executor, entry *domain.HistoryEntry) error {
	const op = "RecordDeployment"

	migrated, err := toInt64(entry.MigratedCapacity)
	if err != nil {
		return NewStoreError(op, "deployment", entry.RunID, "migrated capacity out of range", ErrInvalidData)
	}
	total, err := toInt64(entry.TotalOccupiedCapacity)
	if err != nil {
		return NewStoreError(op, "deployment", entry.RunID, "total occupied capacity out of range", ErrInvalidData)
	}
	fee, err := toInt64(entry.FeeTotal)
	if err != nil {
		return NewStoreError(op, "deployment", entry.RunID, "fee total out of range", ErrInvalidData)
	}

	query := `
		INSERT INTO deployments (
			id, env, snapshot, cells_tx, dep_groups_tx,
			migrated_capacity, total_occupied_capacity, fee_total, created_at
		) VALUES (
			:id, :env, :snapshot, :cells_tx, :dep_groups_tx,
			:migrated_capacity, :total_occupied_capacity, :fee_total, :created_at
		)`

	row := map[string]any{
		"id":                      entry.RunID,
		"env":                     entry.Env,
		"snapshot":                entry.Snapshot,
		"cells_tx":                hashString(entry.CellsTx),
		"dep_groups_tx":           hashString(entry.DepGroupsTx),
		"migrated_capacity":       migrated,
		"total_occupied_capacity": total,
		"fee_total":               fee,
		"created_at":              entry.CreatedAt.UTC().Format(time.RFC3339),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError(op, "deployment", entry.RunID, "deployment with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.env, deployments.snapshot") {
			return NewStoreError(op, "deployment", entry.RunID, fmt.Sprintf("snapshot %s already indexed", entry.Snapshot), ErrDuplicateSnapshot)
		}
		return NewStoreError(op, "deployment", entry.RunID, err.Error(), err)
	}

	cellQuery := `
		INSERT INTO deployed_cells (
			deployment_id, kind, position, name, tx_hash, output_index,
			data_hash, occupied_capacity, identity_hash
		) VALUES (
			:deployment_id, :kind, :position, :name, :tx_hash, :output_index,
			:data_hash, :occupied_capacity, :identity_hash
		)`

	for i, c := range entry.Recipe.CellRecords {
		occupied, err := toInt64(c.OccupiedCapacity)
		if err != nil {
			return NewStoreError(op, "cell", c.Name, "occupied capacity out of range", ErrInvalidData)
		}
		dataHash := c.DataHash.String()
		r := cellRow{
			DeploymentID:     entry.RunID,
			Kind:             kindCell,
			Position:         i,
			Name:             c.Name,
			TxHash:           c.TxHash.String(),
			OutputIndex:      int64(c.Index),
			DataHash:         &dataHash,
			OccupiedCapacity: occupied,
			IdentityHash:     hashString(c.IdentityHash),
		}
		if _, err := exec.NamedExecContext(ctx, cellQuery, r); err != nil {
			return NewStoreError(op, "cell", c.Name, err.Error(), err)
		}
	}
	for i, g := range entry.Recipe.DepGroupRecords {
		occupied, err := toInt64(g.OccupiedCapacity)
		if err != nil {
			return NewStoreError(op, "dep_group", g.Name, "occupied capacity out of range", ErrInvalidData)
		}
		r := cellRow{
			DeploymentID:     entry.RunID,
			Kind:             kindDepGroup,
			Position:         i,
			Name:             g.Name,
			TxHash:           g.TxHash.String(),
			OutputIndex:      int64(g.Index),
			OccupiedCapacity: occupied,
		}
		if _, err := exec.NamedExecContext(ctx, cellQuery, r); err != nil {
			return NewStoreError(op, "dep_group", g.Name, err.Error(), err)
		}
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, runID string) (*domain.HistoryEntry, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", runID, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", runID, err.Error(), err)
	}

	return loadEntry(ctx, exec, &row)
}

func latestDeployment(ctx context.Context, exec executor, env string) (*domain.HistoryEntry, error) {
	query := `SELECT * FROM deployments WHERE env = ? ORDER BY snapshot DESC LIMIT 1`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, env)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestDeployment", "deployment", env, "no deployment recorded", ErrNotFound)
		}
		return nil, NewStoreError("LatestDeployment", "deployment", env, err.Error(), err)
	}

	return loadEntry(ctx, exec, &row)
}

// listDeployments returns entries newest first.
func listDeployments(ctx context.Context, exec executor, env string, opts ListOptions) ([]domain.HistoryEntry, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments WHERE env = ? ORDER BY snapshot DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, env, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	entries := make([]domain.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := loadEntry(ctx, exec, &row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}

func deleteDeployments(ctx context.Context, exec executor, env string) (int, error) {
	query := `DELETE FROM deployments WHERE env = ?`

	result, err := exec.ExecContext(ctx, query, env)
	if err != nil {
		return 0, NewStoreError("DeleteDeployments", "deployment", env, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	return int(rowsAffected), nil
}

// listCellVersions returns the distinct on-chain versions of a cell, oldest
// first. A cell carried unchanged through several runs is listed once.
func listCellVersions(ctx context.Context, exec executor, env, name string) ([]domain.CellVersion, error) {
	query := `
		SELECT c.*, d.snapshot, d.created_at
		FROM deployed_cells c
		JOIN deployments d ON d.id = c.deployment_id
		WHERE d.env = ? AND c.kind = ? AND c.name = ?
		ORDER BY d.snapshot ASC`

	var rows []cellVersionRow
	if err := exec.SelectContext(ctx, &rows, query, env, kindCell, name); err != nil {
		return nil, NewStoreError("ListCellVersions", "cell", name, err.Error(), err)
	}

	seen := make(map[ledger.OutPoint]bool)
	versions := make([]domain.CellVersion, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToCellRecord(&row.cellRow)
		if err != nil {
			return nil, err
		}
		if seen[rec.OutPoint()] {
			continue
		}
		seen[rec.OutPoint()] = true

		createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
		if err != nil {
			return nil, NewStoreError("ListCellVersions", "cell", name, "invalid created_at", ErrInvalidData)
		}
		versions = append(versions, domain.CellVersion{
			RunID:            row.DeploymentID,
			Snapshot:         row.Snapshot,
			TxHash:           rec.TxHash,
			Index:            rec.Index,
			DataHash:         rec.DataHash,
			OccupiedCapacity: rec.OccupiedCapacity,
			IdentityHash:     rec.IdentityHash,
			CreatedAt:        createdAt,
		})
	}

	return versions, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func loadEntry(ctx context.Context, exec executor, row *deploymentRow) (*domain.HistoryEntry, error) {
	entry, err := rowToEntry(row)
	if err != nil {
		return nil, err
	}

	query := `SELECT * FROM deployed_cells WHERE deployment_id = ? ORDER BY kind, position`

	var rows []cellRow
	if err := exec.SelectContext(ctx, &rows, query, row.ID); err != nil {
		return nil, NewStoreError("GetDeployment", "cell", row.ID, err.Error(), err)
	}

	for _, r := range rows {
		switch r.Kind {
		case kindCell:
			rec, err := rowToCellRecord(&r)
			if err != nil {
				return nil, err
			}
			entry.Recipe.CellRecords = append(entry.Recipe.CellRecords, rec)
		case kindDepGroup:
			txHash, err := parseHash(r.TxHash, "dep_group", r.Name)
			if err != nil {
				return nil, err
			}
			entry.Recipe.DepGroupRecords = append(entry.Recipe.DepGroupRecords, domain.DepGroupRecord{
				Name:             r.Name,
				TxHash:           txHash,
				Index:            uint32(r.OutputIndex),
				OccupiedCapacity: uint64(r.OccupiedCapacity),
			})
		}
	}

	return entry, nil
}

func rowToEntry(row *deploymentRow) (*domain.HistoryEntry, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToEntry", "deployment", row.ID, "invalid created_at", ErrInvalidData)
	}

	entry := &domain.HistoryEntry{
		RunID:                 row.ID,
		Env:                   row.Env,
		Snapshot:              row.Snapshot,
		MigratedCapacity:      uint64(row.MigratedCapacity),
		TotalOccupiedCapacity: uint64(row.TotalOccupiedCapacity),
		FeeTotal:              uint64(row.FeeTotal),
		CreatedAt:             createdAt,
	}
	if entry.CellsTx, err = parseOptionalHash(row.CellsTx, "deployment", row.ID); err != nil {
		return nil, err
	}
	if entry.DepGroupsTx, err = parseOptionalHash(row.DepGroupsTx, "deployment", row.ID); err != nil {
		return nil, err
	}

	return entry, nil
}

func rowToCellRecord(row *cellRow) (domain.CellRecord, error) {
	txHash, err := parseHash(row.TxHash, "cell", row.Name)
	if err != nil {
		return domain.CellRecord{}, err
	}
	rec := domain.CellRecord{
		Name:             row.Name,
		TxHash:           txHash,
		Index:            uint32(row.OutputIndex),
		OccupiedCapacity: uint64(row.OccupiedCapacity),
	}
	if row.DataHash != nil {
		if rec.DataHash, err = parseHash(*row.DataHash, "cell", row.Name); err != nil {
			return domain.CellRecord{}, err
		}
	}
	if rec.IdentityHash, err = parseOptionalHash(row.IdentityHash, "cell", row.Name); err != nil {
		return domain.CellRecord{}, err
	}
	return rec, nil
}

func parseHash(s, entity, id string) (ledger.Hash, error) {
	h, err := ledger.ParseHash(s)
	if err != nil {
		return ledger.Hash{}, NewStoreError("parseHash", entity, id, err.Error(), ErrInvalidData)
	}
	return h, nil
}

func parseOptionalHash(s *string, entity, id string) (*ledger.Hash, error) {
	if s == nil {
		return nil, nil
	}
	h, err := parseHash(*s, entity, id)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func hashString(h *ledger.Hash) *string {
	if h == nil {
		return nil
	}
	s := h.String()
	return &s
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrInvalidData
	}
	return int64(v), nil
}
