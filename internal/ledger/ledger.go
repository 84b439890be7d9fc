package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
	"github.com/ama3639/telegram-bot-os-sub000/internal/store"
	"github.com/ama3639/telegram-bot-os-sub000/pkg/audit"
)

// Auditor records terminal transaction transitions.
type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Ledger builds, persists and processes transactions against the Registry.
type Ledger struct {
	gw       store.Gateway
	registry *Registry
	clock    clock.Clock
	logger   *slog.Logger
	auditor  Auditor
	locks    *keyedLocks
}

// Options wires a Ledger. Auditor and Logger are optional.
type Options struct {
	Gateway store.Gateway
	Clock   clock.Clock
	Logger  *slog.Logger
	Auditor Auditor
}

func New(opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Clock
	if c == nil {
		c, _ = clock.New("")
	}
	return &Ledger{
		gw:       opts.Gateway,
		registry: NewRegistry(opts.Gateway, c, logger),
		clock:    c,
		logger:   logger,
		auditor:  opts.Auditor,
		locks:    newKeyedLocks(),
	}
}

func (l *Ledger) Registry() *Registry { return l.registry }

// CreateAccount is a shorthand for Registry().Create.
func (l *Ledger) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	return l.registry.Create(ctx, req)
}

// GetAccount returns the account or nil.
func (l *Ledger) GetAccount(ctx context.Context, id string) (*Account, error) {
	return l.registry.Get(ctx, id)
}

func (l *Ledger) ListUserAccounts(ctx context.Context, ownerID int64, activeOnly bool) ([]*Account, error) {
	return l.registry.ListByOwner(ctx, ownerID, activeOnly)
}

// CreateTransaction validates and persists a pending transaction without processing it.
func (l *Ledger) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	txn, err := NewTransaction(l.clock, req)
	if err != nil {
		l.logger.Warn("transaction rejected", "transaction_type", req.Type, "amount", req.Amount, "error", err)
		return nil, err
	}
	if err := l.insertTransaction(ctx, txn); err != nil {
		l.logger.Error("failed to persist transaction", "transaction_id", txn.ID, "error", err)
		return nil, err
	}
	l.logger.Info("transaction created", "transaction_id", txn.ID, "transaction_type", txn.Type, "amount", txn.Amount, "currency", txn.Currency)
	return txn, nil
}

const transactionColumns = `id, transaction_type, amount, currency, description, source_account_id,
	destination_account_id, user_id, created_at, status, reference_id, metadata, processed_at`

func (l *Ledger) insertTransaction(ctx context.Context, txn *Transaction) error {
	meta, err := txn.Metadata.encode()
	if err != nil {
		return err
	}
	_, err = l.gw.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, string(txn.Type), txn.Amount, txn.Currency, txn.Description,
		nullable(txn.SourceAccountID), nullable(txn.DestinationAccountID), ownerArg(txn.OwnerID),
		txn.CreatedAt, string(txn.Status), nullable(txn.ReferenceID), meta, nil)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransaction returns the transaction or nil.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return l.getTransaction(ctx, l.gw, id)
}

func (l *Ledger) getTransaction(ctx context.Context, q store.Querier, id string) (*Transaction, error) {
	txn, err := scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id), l.clock)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	return txn, nil
}

// ListUserTransactions returns the owner's transactions, most recent first.
func (l *Ledger) ListUserTransactions(ctx context.Context, ownerID int64, f TransactionFilter) ([]*Transaction, error) {
	return l.listTransactions(ctx, `user_id = ?`, []any{ownerID}, f)
}

// ListAccountTransactions returns transactions touching the account, most recent first.
func (l *Ledger) ListAccountTransactions(ctx context.Context, accountID string, f TransactionFilter) ([]*Transaction, error) {
	return l.listTransactions(ctx, `(source_account_id = ? OR destination_account_id = ?)`, []any{accountID, accountID}, f)
}

func (l *Ledger) listTransactions(ctx context.Context, where string, args []any, f TransactionFilter) ([]*Transaction, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where)
	if f.From != nil {
		b.WriteString(` AND created_at >= ?`)
		args = append(args, *f.From)
	}
	if f.To != nil {
		b.WriteString(` AND created_at <= ?`)
		args = append(args, *f.To)
	}
	if f.Status != "" {
		b.WriteString(` AND status = ?`)
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	b.WriteString(` ORDER BY created_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := l.gw.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows, l.clock)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row store.Row, c clock.Clock) (*Transaction, error) {
	var (
		txn       Transaction
		typ       string
		status    string
		source    sql.NullString
		dest      sql.NullString
		owner     sql.NullInt64
		reference sql.NullString
		rawMeta   sql.NullString
		processed sql.NullTime
	)
	err := row.Scan(&txn.ID, &typ, &txn.Amount, &txn.Currency, &txn.Description, &source, &dest,
		&owner, &txn.CreatedAt, &status, &reference, &rawMeta, &processed)
	if err != nil {
		return nil, err
	}
	loc := c.Now().Location()
	txn.Type = TransactionType(typ)
	txn.Status = Status(status)
	txn.SourceAccountID = source.String
	txn.DestinationAccountID = dest.String
	txn.ReferenceID = reference.String
	txn.CreatedAt = txn.CreatedAt.In(loc)
	if owner.Valid {
		id := owner.Int64
		txn.OwnerID = &id
	}
	if processed.Valid {
		at := processed.Time.In(loc)
		txn.ProcessedAt = &at
	}
	if txn.Metadata, err = decodeMetadata(rawMeta.String); err != nil {
		return nil, err
	}
	return &txn, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
