package ingest

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/vgrid/internal/provider"
)

// StreamSQLite iterates over the results table in insertion order, calling
// fn for each decoded record. Only one record is alive at a time.
func StreamSQLite(ctx context.Context, dbPath string, fn func(rec provider.Record) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.QueryContext(ctx, "SELECT id, record FROM results ORDER BY rowid")
	if err != nil {
		return fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		v, err := provider.DecodeRecord(raw)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		if err := fn(provider.Record{ID: id, Value: v}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LoadSQLite reads every record of dbPath.
// Prefer StreamSQLite or provider.SQLiteSource for large datasets.
func LoadSQLite(ctx context.Context, dbPath string) ([]provider.Record, error) {
	var out []provider.Record
	err := StreamSQLite(ctx, dbPath, func(rec provider.Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
