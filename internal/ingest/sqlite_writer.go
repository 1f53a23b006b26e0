package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// ResultsWriter bulk-loads records into a results(id, record) table.
// Inserts are batched into transactions of batchSize rows.
type ResultsWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	stmt      *sql.Stmt
	batchSize int
	count     int
	written   int
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewResultsWriter creates dbPath if needed and prepares the schema.
func NewResultsWriter(dbPath string, logger *slog.Logger) (*ResultsWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Bulk insert tuning.
	for _, pragma := range []string{"PRAGMA synchronous = OFF", "PRAGMA journal_mode = MEMORY"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS results (id TEXT PRIMARY KEY, record JSON NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &ResultsWriter{db: db, batchSize: 10000, logger: logger}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *ResultsWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	w.stmt, err = w.tx.Prepare(`INSERT OR REPLACE INTO results (id, record) VALUES (?, ?)`)
	if err != nil {
		_ = w.tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	return nil
}

func (w *ResultsWriter) commitTx() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Add writes one record. A record already stored under id is replaced.
func (w *ResultsWriter) Add(id string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.stmt.Exec(id, string(raw)); err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}
	w.written++
	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return err
		}
		if err := w.beginTx(); err != nil {
			return err
		}
		w.logger.Debug("results batch committed", "rows", w.written)
		w.count = 0
	}
	return nil
}

// Written returns the number of records added so far.
func (w *ResultsWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close commits pending rows and closes the database.
func (w *ResultsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}

// Abort discards uncommitted rows and closes the database.
func (w *ResultsWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	_ = w.tx.Rollback()
	return w.db.Close()
}

// WriteResults stores records in dbPath in order. IDs come from ids when it
// is set, otherwise from the record position.
func WriteResults(ctx context.Context, dbPath string, records []any, ids func(i int, record any) string, logger *slog.Logger) (int, error) {
	if ids == nil {
		ids = PositionID
	}
	w, err := NewResultsWriter(dbPath, logger)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				_ = w.Abort()
				return 0, err
			}
		}
		if err := w.Add(ids(i, rec), rec); err != nil {
			_ = w.Abort()
			return 0, err
		}
	}
	n := w.Written()
	if err := w.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// PositionID names a record by its zero-padded position.
func PositionID(i int, _ any) string { return fmt.Sprintf("%08d", i) }
