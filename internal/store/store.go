package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoRows is returned by Row.Scan when the query matched nothing, whatever the backend.
var ErrNoRows = errors.New("store: no rows in result set")

// Row is a single-row result.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a multi-row cursor. Close must be called.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier runs statements written with ? placeholders.
type Querier interface {
	// Exec returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	// InsertReturningID runs an INSERT into a table with a generated integer id.
	InsertReturningID(ctx context.Context, query string, args ...any) (int64, error)
}

// Gateway is the persistence backend used by the ledger and the converter.
type Gateway interface {
	Querier
	// WithinTx runs fn inside one database transaction. A nil return commits.
	// fn must only use the Querier it is handed.
	WithinTx(ctx context.Context, fn func(q Querier) error) error
	Dialect() Dialect
	Close() error
}

// Dialect names the SQL flavour of a Gateway.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ForUpdate returns the row-lock suffix for a SELECT.
func (d Dialect) ForUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Open connects to the backend named by url: sqlite://<path>, sqlite://:memory:,
// or a postgres:// / postgresql:// connection string.
func Open(ctx context.Context, url string) (Gateway, error) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", url)
	}
}

// rebind rewrites ? placeholders to $1..$n, leaving quoted literals alone.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
