package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	queryTimeout = 5 * time.Second
	maxRetries   = 3
)

// pgxQuerier is the subset of pgxpool.Pool and pgx.Tx the gateway uses.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Gateway over a pgx connection pool. Transactions run at
// SERIALIZABLE isolation and are retried on serialization failures.
type Postgres struct {
	Pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Dialect() Dialect { return DialectPostgres }

func (p *Postgres) Close() error {
	p.Pool.Close()
	return nil
}

func (p *Postgres) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return pgExec(ctx, p.Pool, query, args...)
}

func (p *Postgres) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return pgQuery(ctx, p.Pool, query, args...)
}

func (p *Postgres) QueryRow(ctx context.Context, query string, args ...any) Row {
	return pgQueryRow(ctx, p.Pool, query, args...)
}

func (p *Postgres) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return pgInsert(ctx, p.Pool, query, args...)
}

// WithinTx retries fn from the start when the commit loses a serialization race.
func (p *Postgres) WithinTx(ctx context.Context, fn func(q Querier) error) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := p.withinTxOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		if attempt == maxRetries-1 {
			return fmt.Errorf("transaction failed after %d retries due to serialization failure: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return nil
}

func (p *Postgres) withinTxOnce(ctx context.Context, fn func(q Querier) error) error {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return pgExec(ctx, t.tx, query, args...)
}

func (t pgTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return pgQuery(ctx, t.tx, query, args...)
}

func (t pgTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return pgQueryRow(ctx, t.tx, query, args...)
}

func (t pgTx) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return pgInsert(ctx, t.tx, query, args...)
}

func pgExec(ctx context.Context, q pgxQuerier, query string, args ...any) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := q.Exec(queryCtx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgQuery(ctx context.Context, q pgxQuerier, query string, args ...any) (Rows, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	rows, err := q.Query(queryCtx, rebind(query), args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &pgRows{rows: rows, cancel: cancel}, nil
}

func pgQueryRow(ctx context.Context, q pgxQuerier, query string, args ...any) Row {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	return &pgRow{row: q.QueryRow(queryCtx, rebind(query), args...), cancel: cancel}
}

func pgInsert(ctx context.Context, q pgxQuerier, query string, args ...any) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id int64
	if err := q.QueryRow(queryCtx, rebind(query)+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

type pgRow struct {
	row    pgx.Row
	cancel context.CancelFunc
}

func (r *pgRow) Scan(dest ...any) error {
	defer r.cancel()
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

type pgRows struct {
	rows   pgx.Rows
	cancel context.CancelFunc
}

func (r *pgRows) Next() bool             { return r.rows.Next() }
func (r *pgRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgRows) Err() error             { return r.rows.Err() }

func (r *pgRows) Close() {
	r.rows.Close()
	r.cancel()
}
