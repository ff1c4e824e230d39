package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sort"
	"sync" // standard Go package for concurrency primitives like Mutex
	"time"

	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/exchange-ledger/internal/models"                // domain models
	"github.com/shopspring/decimal"
)

// state is everything the store holds. Transactions write to it in place and
// record how to undo each write.
type state struct {
	balances map[models.BalanceKey]models.Balance
	holds    map[string]models.Hold // keyed by order id
	entries  []models.LedgerEntry   // append-only, oldest first
	refs     map[string]int         // idempotency key -> index into entries
}

func newState() *state {
	return &state{
		balances: make(map[models.BalanceKey]models.Balance),
		holds:    make(map[string]models.Hold),
		entries:  make([]models.LedgerEntry, 0),
		refs:     make(map[string]int),
	}
}

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// A single mutex is held for the whole of a transaction, so transactions are
// serializable.
type MemoryLedgerStore struct {
	mu  sync.Mutex // protects st and serializes transactions
	st  *state
	now func() time.Time
}

// NewMemoryLedgerStore creates and returns an empty MemoryLedgerStore.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		st:  newState(),
		now: time.Now,
	}
}

// WithTransaction runs fn against the state and keeps its writes only if fn
// returns nil. On an error or a panic the writes are undone, newest first.
func (m *MemoryLedgerStore) WithTransaction(ctx context.Context, fn func(tx interfaces.LedgerStore) error) error {
	m.mu.Lock()         // lock for the whole unit of work
	defer m.mu.Unlock() // unlock automatically when function exits (even on panic)

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txStore{st: m.st, now: m.now}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// read runs fn on the committed state under the lock.
func (m *MemoryLedgerStore) read(fn func(tx *txStore)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&txStore{st: m.st, now: m.now})
}

// write runs a single mutation in its own transaction.
func (m *MemoryLedgerStore) write(ctx context.Context, fn func(tx *txStore) error) error {
	return m.WithTransaction(ctx, func(tx interfaces.LedgerStore) error {
		return fn(tx.(*txStore))
	})
}

func (m *MemoryLedgerStore) GetBalance(ctx context.Context, accountID, asset string) (b models.Balance, found bool, err error) {
	m.read(func(tx *txStore) { b, found, err = tx.GetBalance(ctx, accountID, asset) })
	return
}

func (m *MemoryLedgerStore) GetAccountBalances(ctx context.Context, accountID string) (out []models.Balance, err error) {
	m.read(func(tx *txStore) { out, err = tx.GetAccountBalances(ctx, accountID) })
	return
}

func (m *MemoryLedgerStore) UpsertBalance(ctx context.Context, balance models.Balance) error {
	return m.write(ctx, func(tx *txStore) error { return tx.UpsertBalance(ctx, balance) })
}

func (m *MemoryLedgerStore) UpdateBalance(ctx context.Context, accountID, asset string, availableDelta, heldDelta decimal.Decimal) (b models.Balance, err error) {
	err = m.write(ctx, func(tx *txStore) error {
		b, err = tx.UpdateBalance(ctx, accountID, asset, availableDelta, heldDelta)
		return err
	})
	return
}

func (m *MemoryLedgerStore) CreateHold(ctx context.Context, hold models.Hold) error {
	return m.write(ctx, func(tx *txStore) error { return tx.CreateHold(ctx, hold) })
}

func (m *MemoryLedgerStore) ReleaseHold(ctx context.Context, orderID string) error {
	return m.write(ctx, func(tx *txStore) error { return tx.ReleaseHold(ctx, orderID) })
}

func (m *MemoryLedgerStore) ConsumeHold(ctx context.Context, orderID string, amount decimal.Decimal) (h *models.Hold, err error) {
	err = m.write(ctx, func(tx *txStore) error {
		h, err = tx.ConsumeHold(ctx, orderID, amount)
		return err
	})
	return
}

func (m *MemoryLedgerStore) GetHold(ctx context.Context, orderID string) (h *models.Hold, err error) {
	m.read(func(tx *txStore) { h, err = tx.GetHold(ctx, orderID) })
	return
}

func (m *MemoryLedgerStore) GetAccountHolds(ctx context.Context, accountID string) (out []models.Hold, err error) {
	m.read(func(tx *txStore) { out, err = tx.GetAccountHolds(ctx, accountID) })
	return
}

func (m *MemoryLedgerStore) InsertEntry(ctx context.Context, entry models.LedgerEntry) error {
	return m.write(ctx, func(tx *txStore) error { return tx.InsertEntry(ctx, entry) })
}

func (m *MemoryLedgerStore) GetEntries(ctx context.Context, accountID string, filter models.EntryFilter) (out []models.LedgerEntry, err error) {
	m.read(func(tx *txStore) { out, err = tx.GetEntries(ctx, accountID, filter) })
	return
}

func (m *MemoryLedgerStore) GetEntryByIdempotencyKey(ctx context.Context, referenceID, referenceType string) (e *models.LedgerEntry, err error) {
	m.read(func(tx *txStore) { e, err = tx.GetEntryByIdempotencyKey(ctx, referenceID, referenceType) })
	return
}

// txStore is the transaction-scoped view handed to WithTransaction closures.
// The owning MemoryLedgerStore's mutex is held while it is in use.
type txStore struct {
	st   *state
	now  func() time.Time
	undo []func()
}

func (t *txStore) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txStore) setBalance(b models.Balance) {
	key := b.Key()
	prev, had := t.st.balances[key]
	t.undo = append(t.undo, func() {
		if had {
			t.st.balances[key] = prev
		} else {
			delete(t.st.balances, key)
		}
	})
	t.st.balances[key] = b
}

// setHold stores h, or deletes the order's hold when h is nil.
func (t *txStore) setHold(orderID string, h *models.Hold) {
	prev, had := t.st.holds[orderID]
	t.undo = append(t.undo, func() {
		if had {
			t.st.holds[orderID] = prev
		} else {
			delete(t.st.holds, orderID)
		}
	})
	if h == nil {
		delete(t.st.holds, orderID)
		return
	}
	t.st.holds[orderID] = *h
}

func (t *txStore) WithTransaction(_ context.Context, fn func(tx interfaces.LedgerStore) error) error {
	return fn(t) // already inside a transaction
}

func (t *txStore) GetBalance(_ context.Context, accountID, asset string) (models.Balance, bool, error) {
	b, ok := t.st.balances[models.BalanceKey{AccountID: accountID, Asset: asset}]
	return b, ok, nil
}

func (t *txStore) GetAccountBalances(_ context.Context, accountID string) ([]models.Balance, error) {
	var out []models.Balance
	for k, b := range t.st.balances {
		if k.AccountID == accountID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (t *txStore) UpsertBalance(_ context.Context, balance models.Balance) error {
	balance.Total = balance.Available.Add(balance.Held)
	t.setBalance(balance)
	return nil
}

func (t *txStore) UpdateBalance(_ context.Context, accountID, asset string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error) {
	key := models.BalanceKey{AccountID: accountID, Asset: asset}
	b, ok := t.st.balances[key]
	if !ok {
		b = models.ZeroBalance(accountID, asset)
	}
	b = b.Apply(availableDelta, heldDelta, t.now().UTC())
	t.setBalance(b)
	return b, nil
}

func (t *txStore) CreateHold(_ context.Context, hold models.Hold) error {
	if _, exists := t.st.holds[hold.OrderID]; exists {
		return interfaces.ErrHoldExists
	}
	t.setHold(hold.OrderID, &hold)
	return nil
}

func (t *txStore) ReleaseHold(_ context.Context, orderID string) error {
	if _, ok := t.st.holds[orderID]; ok {
		t.setHold(orderID, nil)
	}
	return nil
}

func (t *txStore) ConsumeHold(_ context.Context, orderID string, amount decimal.Decimal) (*models.Hold, error) {
	h, ok := t.st.holds[orderID]
	if !ok {
		return nil, nil
	}
	h.Amount = h.Amount.Sub(amount)
	if !h.Amount.IsPositive() {
		t.setHold(orderID, nil)
		return nil, nil
	}
	t.setHold(orderID, &h)
	return &h, nil
}

func (t *txStore) GetHold(_ context.Context, orderID string) (*models.Hold, error) {
	h, ok := t.st.holds[orderID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (t *txStore) GetAccountHolds(_ context.Context, accountID string) ([]models.Hold, error) {
	var out []models.Hold
	for _, h := range t.st.holds {
		if h.AccountID == accountID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func (t *txStore) InsertEntry(_ context.Context, entry models.LedgerEntry) error {
	n := len(t.st.entries)
	t.st.entries = append(t.st.entries, entry)
	t.undo = append(t.undo, func() {
		t.st.entries[n] = models.LedgerEntry{}
		t.st.entries = t.st.entries[:n]
	})
	if entry.ReferenceID != "" && entry.ReferenceType != "" {
		key := refKey(entry.ReferenceID, entry.ReferenceType)
		if _, seen := t.st.refs[key]; !seen {
			t.st.refs[key] = n // first entry wins
			t.undo = append(t.undo, func() { delete(t.st.refs, key) })
		}
	}
	return nil
}

func (t *txStore) GetEntries(_ context.Context, accountID string, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	result := make([]models.LedgerEntry, 0)
	// walk backwards: newest first, insertion order is the stable tiebreak
	for i := len(t.st.entries) - 1; i >= 0; i-- {
		e := t.st.entries[i]
		if e.AccountID == accountID && filter.Match(e) {
			result = append(result, e)
		}
	}
	return filter.Page(result), nil
}

func (t *txStore) GetEntryByIdempotencyKey(_ context.Context, referenceID, referenceType string) (*models.LedgerEntry, error) {
	idx, ok := t.st.refs[refKey(referenceID, referenceType)]
	if !ok {
		return nil, nil
	}
	e := t.st.entries[idx]
	return &e, nil
}

func refKey(referenceID, referenceType string) string {
	return referenceType + "\x00" + referenceID
}

// Compile-time check: ensure both views implement the LedgerStore interface
var (
	_ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
	_ interfaces.LedgerStore = (*txStore)(nil)
)
