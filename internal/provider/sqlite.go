package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

// Record is one row of a results table.
type Record struct {
	ID    string
	Value any // decoded JSON record; numbers are json.Number
}

// Data exposes the decoded record to field accessors.
func (r Record) Data() any { return r.Value }

// SQLiteSource pages through the results(id, record) table of a SQLite
// database, in insertion order. Identical concurrent reads share one query.
type SQLiteSource struct {
	db    *sql.DB
	path  string
	count atomic.Int64
	group singleflight.Group
}

// OpenSQLite opens dbPath read-only and counts its records.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	s := &SQLiteSource{db: db, path: dbPath}
	if _, err := s.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Refresh recounts the table.
func (s *SQLiteSource) Refresh(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&n); err != nil {
		return 0, fmt.Errorf("count results in %s: %w", s.path, err)
	}
	s.count.Store(n)
	return int(n), nil
}

func (s *SQLiteSource) Len() int { return int(s.count.Load()) }

// Fetch reads count records starting at start. Callers that give up return
// early; the shared query finishes for the others.
func (s *SQLiteSource) Fetch(ctx context.Context, start, count int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%d:%d", start, count)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.query(context.WithoutCancel(ctx), start, count)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		recs := res.Val.([]Record)
		// Results are shared between callers.
		out := make([]Record, len(recs))
		copy(out, recs)
		return out, nil
	}
}

func (s *SQLiteSource) query(ctx context.Context, start, count int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, record FROM results ORDER BY rowid LIMIT ? OFFSET ?", count, start)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	out := make([]Record, 0, count)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		v, err := DecodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		out = append(out, Record{ID: id, Value: v})
	}
	return out, rows.Err()
}

// DecodeRecord parses a JSON record keeping numbers as json.Number, so
// decimal columns reach the aggregators without float rounding.
func DecodeRecord(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse record json: %w", err)
	}
	return v, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error { return s.db.Close() }
