package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresLedgerStore implements interfaces.LedgerStore on PostgreSQL.
// Inside a transaction, balance and hold reads take row locks (FOR UPDATE)
// and idempotency lookups take an advisory lock on the reference key, so two
// transactions replaying the same reference serialize.
type PostgresLedgerStore struct {
	db  *sql.DB
	q   querier
	now func() time.Time
	tx  *sql.Tx // set on transaction-scoped copies
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db:  db,
		q:   db,
		now: time.Now,
	}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (p *PostgresLedgerStore) WithTransaction(ctx context.Context, fn func(tx interfaces.LedgerStore) error) (err error) {
	if p.tx != nil {
		return fn(p) // nested: join the running transaction
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = dbTx.Rollback() // also runs when fn panics
		}
	}()

	if err := fn(&PostgresLedgerStore{db: p.db, q: dbTx, now: p.now, tx: dbTx}); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// forUpdate returns the row-locking suffix when running inside a transaction.
func (p *PostgresLedgerStore) forUpdate() string {
	if p.tx != nil {
		return " FOR UPDATE"
	}
	return ""
}

func (p *PostgresLedgerStore) GetBalance(ctx context.Context, accountID, asset string) (models.Balance, bool, error) {
	query := `SELECT account_id, asset, available, held, updated_at FROM balances
	WHERE account_id = $1 AND asset = $2` + p.forUpdate()

	b, err := scanBalance(p.q.QueryRowContext(ctx, query, accountID, asset))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Balance{}, false, nil
	}
	if err != nil {
		return models.Balance{}, false, err
	}
	return b, true, nil
}

func (p *PostgresLedgerStore) GetAccountBalances(ctx context.Context, accountID string) ([]models.Balance, error) {
	const query = `SELECT account_id, asset, available, held, updated_at FROM balances
	WHERE account_id = $1 ORDER BY asset`

	rows, err := p.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []models.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

func (p *PostgresLedgerStore) UpsertBalance(ctx context.Context, balance models.Balance) error {
	const query = `INSERT INTO balances (account_id, asset, available, held, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (account_id, asset) DO UPDATE
	SET available = EXCLUDED.available, held = EXCLUDED.held, updated_at = EXCLUDED.updated_at`

	updatedAt := balance.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = p.now().UTC()
	}
	_, err := p.q.ExecContext(ctx, query, balance.AccountID, balance.Asset, balance.Available, balance.Held, updatedAt)
	return err
}

func (p *PostgresLedgerStore) UpdateBalance(ctx context.Context, accountID, asset string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error) {
	const query = `INSERT INTO balances (account_id, asset, available, held, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (account_id, asset) DO UPDATE
	SET available = balances.available + EXCLUDED.available,
	    held = balances.held + EXCLUDED.held,
	    updated_at = EXCLUDED.updated_at
	RETURNING account_id, asset, available, held, updated_at`

	return scanBalance(p.q.QueryRowContext(ctx, query, accountID, asset, availableDelta, heldDelta, p.now().UTC()))
}

func (p *PostgresLedgerStore) CreateHold(ctx context.Context, hold models.Hold) error {
	const query = `INSERT INTO holds (order_id, account_id, asset, amount, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := p.q.ExecContext(ctx, query, hold.OrderID, hold.AccountID, hold.Asset, hold.Amount, hold.CreatedAt)
	if isUniqueViolation(err) {
		return interfaces.ErrHoldExists
	}
	return err
}

func (p *PostgresLedgerStore) ReleaseHold(ctx context.Context, orderID string) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM holds WHERE order_id = $1`, orderID)
	return err
}

func (p *PostgresLedgerStore) ConsumeHold(ctx context.Context, orderID string, amount decimal.Decimal) (*models.Hold, error) {
	const query = `UPDATE holds SET amount = amount - $2 WHERE order_id = $1
	RETURNING order_id, account_id, asset, amount, created_at`

	h, err := scanHold(p.q.QueryRowContext(ctx, query, orderID, amount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if h.Amount.IsPositive() {
		return &h, nil
	}
	if err := p.ReleaseHold(ctx, orderID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *PostgresLedgerStore) GetHold(ctx context.Context, orderID string) (*models.Hold, error) {
	query := `SELECT order_id, account_id, asset, amount, created_at FROM holds
	WHERE order_id = $1` + p.forUpdate()

	h, err := scanHold(p.q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (p *PostgresLedgerStore) GetAccountHolds(ctx context.Context, accountID string) ([]models.Hold, error) {
	const query = `SELECT order_id, account_id, asset, amount, created_at FROM holds
	WHERE account_id = $1 ORDER BY created_at, order_id`

	rows, err := p.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []models.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holds, nil
}

func (p *PostgresLedgerStore) InsertEntry(ctx context.Context, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries
	(id, account_id, asset, type, amount, balance_after, reference_id, reference_type, description, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := p.q.ExecContext(ctx, query,
		e.ID, e.AccountID, e.Asset, string(e.Type), e.Amount, e.BalanceAfter,
		e.ReferenceID, e.ReferenceType, e.Description, string(e.Status), e.CreatedAt)
	return err
}

const entryColumns = `id, account_id, asset, type, amount, balance_after, reference_id, reference_type, description, status, created_at`

func (p *PostgresLedgerStore) GetEntries(ctx context.Context, accountID string, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	where := []string{"account_id = $1"}
	args := []any{accountID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Asset != "" {
		add("asset = $%d", filter.Asset)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.StartTime != nil {
		add("created_at >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("created_at < $%d", *filter.EndTime)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *PostgresLedgerStore) GetEntryByIdempotencyKey(ctx context.Context, referenceID, referenceType string) (*models.LedgerEntry, error) {
	if p.tx != nil {
		// held until commit: a concurrent replay waits and then sees our entries
		if _, err := p.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, referenceType+":"+referenceID); err != nil {
			return nil, err
		}
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE reference_type = $1 AND reference_id = $2 ORDER BY seq LIMIT 1`

	e, err := scanEntry(p.q.QueryRowContext(ctx, query, referenceType, referenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (models.Balance, error) {
	var b models.Balance
	if err := row.Scan(&b.AccountID, &b.Asset, &b.Available, &b.Held, &b.UpdatedAt); err != nil {
		return models.Balance{}, err
	}
	b.Total = b.Available.Add(b.Held)
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func scanHold(row scanner) (models.Hold, error) {
	var h models.Hold
	if err := row.Scan(&h.OrderID, &h.AccountID, &h.Asset, &h.Amount, &h.CreatedAt); err != nil {
		return models.Hold{}, err
	}
	h.CreatedAt = h.CreatedAt.UTC()
	return h, nil
}

func scanEntry(row scanner) (models.LedgerEntry, error) {
	var (
		e           models.LedgerEntry
		typ, status string
	)
	err := row.Scan(&e.ID, &e.AccountID, &e.Asset, &typ, &e.Amount, &e.BalanceAfter,
		&e.ReferenceID, &e.ReferenceType, &e.Description, &status, &e.CreatedAt)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	e.Type = models.EntryType(typ)
	e.Status = models.EntryStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
