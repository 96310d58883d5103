package arbitrage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"skinarb/internal/models"
)

// History provides SQLite-based persistence for engine runs, so operators
// can query past opportunities after the bounded JSON history rolls over.
type History struct {
	db *sql.DB
}

// RunRecord summarizes one persisted engine run.
type RunRecord struct {
	ID            int64
	Mode          string
	Opportunities int
	DurationSecs  float64
	CreatedAt     time.Time
}

// NewHistory opens (or creates) the run-history database and runs migrations.
func NewHistory(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mode TEXT NOT NULL,
			opportunities INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			run_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			buy_source TEXT NOT NULL,
			buy_price REAL NOT NULL,
			reference_gross REAL NOT NULL,
			reference_net REAL NOT NULL,
			profit_absolute REAL NOT NULL,
			profit_ratio REAL NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_run ON opportunities(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_name ON opportunities(name)`,
	}

	for _, migration := range migrations {
		if _, err := h.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Info().Msg("Run-history migrations completed")
	return nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// RecordRun persists one complete engine run and its opportunities.
func (h *History) RecordRun(ctx context.Context, run *models.OpportunityList, elapsed time.Duration) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (mode, opportunities, duration_seconds, created_at) VALUES (?, ?, ?, ?)`,
		run.Mode, run.TotalResults, elapsed.Seconds(), run.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO opportunities (run_id, name, buy_source, buy_price, reference_gross, reference_net, profit_absolute, profit_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range run.Opportunities {
		if _, err := stmt.ExecContext(ctx, runID, o.Name, o.BuySource, o.BuyPrice,
			o.ReferenceGross, o.ReferenceNet, o.ProfitAbsolute, o.ProfitRatio); err != nil {
			return fmt.Errorf("inserting opportunity %s: %w", o.Name, err)
		}
	}

	return tx.Commit()
}

// RecentRuns retrieves the most recent run records, newest first.
func (h *History) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, mode, opportunities, duration_seconds, created_at
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Mode, &r.Opportunities, &r.DurationSecs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// ItemAppearances counts how often each of the latest runs surfaced the
// given item, a quick signal of a persistent mispricing.
func (h *History) ItemAppearances(ctx context.Context, name string, lastRuns int) (int, error) {
	var count int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM opportunities
		WHERE name = ? AND run_id IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`,
		name, lastRuns).Scan(&count)
	return count, err
}
