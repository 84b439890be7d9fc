package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
	"github.com/ama3639/telegram-bot-os-sub000/internal/store"
)

// CreateAccountRequest represents the request to create an account
type CreateAccountRequest struct {
	Name        string      `json:"name"`
	Type        AccountType `json:"account_type"`
	Currency    string      `json:"currency"`
	Description string      `json:"description"`
	OwnerID     *int64      `json:"user_id,omitempty"`
	Metadata    Metadata    `json:"metadata,omitempty"`
}

// Registry owns account rows and is the only writer of balances. Reads go
// through a write-through cache; balance updates bypass it.
type Registry struct {
	gw     store.Gateway
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Account
}

func NewRegistry(gw store.Gateway, c clock.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gw:     gw,
		clock:  c,
		logger: logger,
		cache:  make(map[string]*Account),
	}
}

const accountColumns = `id, name, account_type, currency, description, is_active, created_at, balance, user_id, metadata`

// Create persists a new zero-balance active account.
func (r *Registry) Create(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationError("account name is required")
	}
	if err := ValidateAccountType(req.Type); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := ValidateCurrencyCode(code); err != nil {
		return nil, err
	}

	acct := &Account{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        req.Type,
		Currency:    code,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   r.clock.Now(),
		OwnerID:     req.OwnerID,
		Metadata:    req.Metadata.Clone(),
	}
	meta, err := acct.Metadata.encode()
	if err != nil {
		return nil, err
	}

	_, err = r.gw.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, acct.ID, acct.Name, string(acct.Type), acct.Currency, acct.Description, acct.IsActive,
		acct.CreatedAt, acct.Balance, ownerArg(acct.OwnerID), meta)
	if err != nil {
		r.logger.Error("failed to create account", "name", name, "error", err)
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	r.put(acct)
	r.logger.Info("account created", "account_id", acct.ID, "account_type", acct.Type, "currency", acct.Currency)
	return acct.clone(), nil
}

// Get returns the account or nil when it does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*Account, error) {
	if acct, ok := r.cached(id); ok {
		return acct, nil
	}
	acct, err := r.load(ctx, r.gw, id, false)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, nil
	}
	r.put(acct)
	return acct.clone(), nil
}

// ListByOwner returns the owner's accounts ordered by name.
func (r *Registry) ListByOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	args := []any{ownerID}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name`

	rows, err := r.gw.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acct, err := scanAccount(rows, r.clock)
		if err != nil {
			return nil, err
		}
		r.put(acct)
		accounts = append(accounts, acct.clone())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// SetActive flips the active flag.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	n, err := r.gw.Exec(ctx, `UPDATE accounts SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	r.invalidate(id)
	r.logger.Info("account active flag changed", "account_id", id, "is_active", active)
	return nil
}

// UpdateBalance applies amount to the account inside the caller's transaction q.
// A debit that would take a non-LIABILITY account below zero fails with
// ErrInsufficientFunds and writes nothing.
func (r *Registry) UpdateBalance(ctx context.Context, q store.Querier, id string, amount float64, isCredit bool) error {
	if err := ValidateTransactionAmount(amount); err != nil {
		return err
	}
	acct, err := r.load(ctx, q, id, true)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if !acct.IsActive {
		return fmt.Errorf("%w: %s", ErrAccountInactive, id)
	}

	newBalance := acct.Balance + amount
	if !isCredit {
		newBalance = acct.Balance - amount
		if newBalance < 0 && !acct.Type.AllowsNegative() {
			return fmt.Errorf("%w: account %s has %.8f, needs %.8f", ErrInsufficientFunds, id, acct.Balance, amount)
		}
	}

	if _, err := q.Exec(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, newBalance, id); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	r.invalidate(id)
	return nil
}

// Refresh reloads accounts into the cache, dropping any that fail to load.
func (r *Registry) Refresh(ctx context.Context, ids ...string) {
	for _, id := range ids {
		acct, err := r.load(ctx, r.gw, id, false)
		if err != nil || acct == nil {
			r.invalidate(id)
			continue
		}
		r.put(acct)
	}
}

func (r *Registry) load(ctx context.Context, q store.Querier, id string, forUpdate bool) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	if forUpdate {
		query += r.gw.Dialect().ForUpdate()
	}
	acct, err := scanAccount(q.QueryRow(ctx, query, id), r.clock)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return acct, nil
}

func (r *Registry) cached(id string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.cache[id]
	if !ok {
		return nil, false
	}
	return acct.clone(), true
}

func (r *Registry) put(acct *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[acct.ID] = acct.clone()
}

func (r *Registry) invalidate(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.cache, id)
	}
}

func scanAccount(row store.Row, c clock.Clock) (*Account, error) {
	var (
		acct    Account
		typ     string
		owner   sql.NullInt64
		rawMeta sql.NullString
	)
	err := row.Scan(&acct.ID, &acct.Name, &typ, &acct.Currency, &acct.Description, &acct.IsActive,
		&acct.CreatedAt, &acct.Balance, &owner, &rawMeta)
	if err != nil {
		return nil, err
	}
	acct.Type = AccountType(typ)
	if !acct.Type.Valid() {
		return nil, fmt.Errorf("account %s has unknown type %q", acct.ID, typ)
	}
	if owner.Valid {
		id := owner.Int64
		acct.OwnerID = &id
	}
	if acct.Metadata, err = decodeMetadata(rawMeta.String); err != nil {
		return nil, err
	}
	acct.CreatedAt = acct.CreatedAt.In(c.Now().Location())
	return &acct, nil
}

func ownerArg(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
