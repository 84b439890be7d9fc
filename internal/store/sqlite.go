package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a Gateway over database/sql and mattn/go-sqlite3.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens a database file, or an in-memory database for ":memory:".
// It keeps a single connection so an in-memory database is shared by every call
// and writers never hit SQLITE_BUSY.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already open handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Dialect() Dialect { return DialectSQLite }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, s.db, query, args...)
}

func (s *SQLite) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqlQuery(ctx, s.db, query, args...)
}

func (s *SQLite) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{row: s.db.QueryRowContext(ctx, query, normalizeArgs(args)...)}
}

func (s *SQLite) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlInsert(ctx, s.db, query, args...)
}

func (s *SQLite) WithinTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, t.tx, query, args...)
}

func (t sqliteTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqlQuery(ctx, t.tx, query, args...)
}

func (t sqliteTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{row: t.tx.QueryRowContext(ctx, query, normalizeArgs(args)...)}
}

func (t sqliteTx) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlInsert(ctx, t.tx, query, args...)
}

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlExec(ctx context.Context, c sqlConn, query string, args ...any) (int64, error) {
	res, err := c.ExecContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sqlQuery(ctx context.Context, c sqlConn, query string, args ...any) (Rows, error) {
	rows, err := c.QueryContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows: rows}, nil
}

func sqlInsert(ctx context.Context, c sqlConn, query string, args ...any) (int64, error) {
	res, err := c.ExecContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// normalizeArgs stores every time value in UTC so text comparison on
// TIMESTAMP columns orders correctly.
func normalizeArgs(args []any) []any {
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			args[i] = v.UTC()
		case *time.Time:
			if v != nil {
				args[i] = v.UTC()
			}
		}
	}
	return args
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }
