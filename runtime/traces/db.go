// Package traces persists the binding's dispatch spans in a local sqlite
// file, one row per span, so a deployment can be inspected after the fact.
package traces

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kanengo/someipc/runtime/retry"
)

// DB 一个储存 spans 在本地文件的 trace 数据库
type DB struct {
	fName string
	db    *sql.DB
}

func OpenDB(ctx context.Context, fName string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(fName), 0700); err != nil {
		return nil, err
	}

	const params = "?_locking_mode=NORMAL&_busy_timeout=10000"
	db, err := sql.Open("sqlite", fName+params)
	if err != nil {
		return nil, fmt.Errorf("open db %q failed: %w", fName, err)
	}
	db.SetMaxOpenConns(1)

	t := &DB{
		fName: fName,
		db:    db,
	}

	const initDB = `
-- Queryable span data.
CREATE TABLE IF NOT EXISTS spans (
	trace_id TEXT NOT NULL,
	span_id TEXT NOT NULL,
	parent_span_id TEXT,
	app TEXT NOT NULL,
	name TEXT,
	kind TEXT,
	start_time_unix_us INTEGER,
	end_time_unix_us INTEGER,
	status TEXT,
	attributes TEXT,
	PRIMARY KEY(trace_id, span_id)
);

-- Garbage-collect spans older than 30 days.
CREATE TRIGGER IF NOT EXISTS expire_spans AFTER INSERT ON spans
BEGIN
	DELETE FROM spans
	WHERE start_time_unix_us < (1000000 * unixepoch('now', '-30 days'));
END;
`

	if _, err := t.execDB(ctx, initDB); err != nil {
		return nil, fmt.Errorf("open trace DB %s: %w", fName, err)
	}

	return t, nil
}

func (t *DB) execDB(ctx context.Context, query string, args ...any) (sql.Result, error) {
	for r := retry.Begin(); r.Continue(ctx); {
		res, err := t.db.ExecContext(ctx, query, args...)
		if isLocked(err) {
			continue
		}
		return res, err
	}
	return nil, ctx.Err()
}

// isLocked returns whether the error is a "database is locked" error.
func isLocked(err error) bool {
	sqlError := &sqlite.Error{}
	ok := errors.As(err, &sqlError)

	return ok && (sqlError.Code() == sqlite3.SQLITE_BUSY || sqlError.Code() == sqlite3.SQLITE_LOCKED)
}

func (t *DB) Close() error {
	return t.db.Close()
}

// SpanRow is the flattened form a span is stored in.
type SpanRow struct {
	TraceID      [16]byte
	SpanID       [8]byte
	ParentSpanID [8]byte
	App          string
	Name         string
	Kind         string
	StartMicros  int64
	EndMicros    int64
	Status       string
	Attributes   string // JSON object
}

// Store inserts all rows transactionally, as it is significantly faster
// than inserting one row at a time.
func (t *DB) Store(ctx context.Context, rows []SpanRow) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelLinearizable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const stmt = `INSERT OR REPLACE INTO spans VALUES (?,?,?,?,?,?,?,?,?,?)`

	var errs []error
	for i := range rows {
		row := &rows[i]
		_, err := tx.ExecContext(ctx, stmt,
			hex.EncodeToString(row.TraceID[:]),
			hex.EncodeToString(row.SpanID[:]),
			hex.EncodeToString(row.ParentSpanID[:]),
			row.App,
			row.Name,
			row.Kind,
			row.StartMicros,
			row.EndMicros,
			row.Status,
			row.Attributes,
		)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if errs != nil {
		return errors.Join(errs...)
	}

	return tx.Commit()
}

// CountSpans returns the number of stored spans, for tests and tooling.
func (t *DB) CountSpans(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spans`).Scan(&n)
	return n, err
}
