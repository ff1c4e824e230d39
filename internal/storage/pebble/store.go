package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	pebbledb "github.com/cockroachdb/pebble"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// reader is the read side shared by *pebble.DB and an indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebbledb.IterOptions) (*pebbledb.Iterator, error)
}

// PebbleLedgerStore keeps the ledger in an embedded Pebble database.
// Writers are serialized by a mutex; each transaction is an indexed batch
// that sees its own writes and is committed with pebble.Sync.
type PebbleLedgerStore struct {
	db  *pebbledb.DB
	mu  sync.Mutex // one writer at a time
	now func() time.Time
}

// Open opens (or creates) the database in dir.
func Open(dir string) (*PebbleLedgerStore, error) {
	db, err := pebbledb.Open(dir, &pebbledb.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleLedgerStore{db: db, now: time.Now}, nil
}

func (s *PebbleLedgerStore) Close() error { return s.db.Close() }

func (s *PebbleLedgerStore) WithTransaction(ctx context.Context, fn func(tx interfaces.LedgerStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	batch := s.db.NewIndexedBatch()
	defer batch.Close() // discards uncommitted writes

	if err := fn(&view{r: batch, b: batch, now: s.now}); err != nil {
		return err
	}
	return batch.Commit(pebbledb.Sync)
}

func (s *PebbleLedgerStore) read() *view { return &view{r: s.db, now: s.now} }

func (s *PebbleLedgerStore) write(ctx context.Context, fn func(v *view) error) error {
	return s.WithTransaction(ctx, func(tx interfaces.LedgerStore) error {
		return fn(tx.(*view))
	})
}

func (s *PebbleLedgerStore) GetBalance(ctx context.Context, accountID, asset string) (models.Balance, bool, error) {
	return s.read().GetBalance(ctx, accountID, asset)
}

func (s *PebbleLedgerStore) GetAccountBalances(ctx context.Context, accountID string) ([]models.Balance, error) {
	return s.read().GetAccountBalances(ctx, accountID)
}

func (s *PebbleLedgerStore) UpsertBalance(ctx context.Context, balance models.Balance) error {
	return s.write(ctx, func(v *view) error { return v.UpsertBalance(ctx, balance) })
}

func (s *PebbleLedgerStore) UpdateBalance(ctx context.Context, accountID, asset string, availableDelta, heldDelta decimal.Decimal) (b models.Balance, err error) {
	err = s.write(ctx, func(v *view) error {
		b, err = v.UpdateBalance(ctx, accountID, asset, availableDelta, heldDelta)
		return err
	})
	return
}

func (s *PebbleLedgerStore) CreateHold(ctx context.Context, hold models.Hold) error {
	return s.write(ctx, func(v *view) error { return v.CreateHold(ctx, hold) })
}

func (s *PebbleLedgerStore) ReleaseHold(ctx context.Context, orderID string) error {
	return s.write(ctx, func(v *view) error { return v.ReleaseHold(ctx, orderID) })
}

func (s *PebbleLedgerStore) ConsumeHold(ctx context.Context, orderID string, amount decimal.Decimal) (h *models.Hold, err error) {
	err = s.write(ctx, func(v *view) error {
		h, err = v.ConsumeHold(ctx, orderID, amount)
		return err
	})
	return
}

func (s *PebbleLedgerStore) GetHold(ctx context.Context, orderID string) (*models.Hold, error) {
	return s.read().GetHold(ctx, orderID)
}

func (s *PebbleLedgerStore) GetAccountHolds(ctx context.Context, accountID string) ([]models.Hold, error) {
	return s.read().GetAccountHolds(ctx, accountID)
}

func (s *PebbleLedgerStore) InsertEntry(ctx context.Context, entry models.LedgerEntry) error {
	return s.write(ctx, func(v *view) error { return v.InsertEntry(ctx, entry) })
}

func (s *PebbleLedgerStore) GetEntries(ctx context.Context, accountID string, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	return s.read().GetEntries(ctx, accountID, filter)
}

func (s *PebbleLedgerStore) GetEntryByIdempotencyKey(ctx context.Context, referenceID, referenceType string) (*models.LedgerEntry, error) {
	return s.read().GetEntryByIdempotencyKey(ctx, referenceID, referenceType)
}

// view runs the store operations against r. Writes go to b, which is nil
// outside a transaction.
type view struct {
	r   reader
	b   *pebbledb.Batch
	now func() time.Time
}

func (v *view) WithTransaction(_ context.Context, fn func(tx interfaces.LedgerStore) error) error {
	if v.b == nil {
		return errors.New("pebble: read-only view cannot start a transaction")
	}
	return fn(v)
}

func (v *view) GetBalance(_ context.Context, accountID, asset string) (models.Balance, bool, error) {
	var b models.Balance
	found, err := v.get(balanceKey(accountID, asset), &b)
	return b, found, err
}

func (v *view) GetAccountBalances(_ context.Context, accountID string) ([]models.Balance, error) {
	var out []models.Balance
	err := v.scan(balancePrefix(accountID), false, func(_, value []byte) (bool, error) {
		var b models.Balance
		if err := json.Unmarshal(value, &b); err != nil {
			return false, err
		}
		out = append(out, b)
		return true, nil
	})
	return out, err
}

func (v *view) UpsertBalance(_ context.Context, balance models.Balance) error {
	balance.Total = balance.Available.Add(balance.Held)
	return v.put(balanceKey(balance.AccountID, balance.Asset), balance)
}

func (v *view) UpdateBalance(ctx context.Context, accountID, asset string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error) {
	b, found, err := v.GetBalance(ctx, accountID, asset)
	if err != nil {
		return models.Balance{}, err
	}
	if !found {
		b = models.ZeroBalance(accountID, asset)
	}
	b = b.Apply(availableDelta, heldDelta, v.now().UTC())
	if err := v.put(balanceKey(accountID, asset), b); err != nil {
		return models.Balance{}, err
	}
	return b, nil
}

func (v *view) CreateHold(ctx context.Context, hold models.Hold) error {
	existing, err := v.GetHold(ctx, hold.OrderID)
	if err != nil {
		return err
	}
	if existing != nil {
		return interfaces.ErrHoldExists
	}
	if err := v.put(holdKey(hold.OrderID), hold); err != nil {
		return err
	}
	return v.set(holdIndexKey(hold.AccountID, hold.OrderID), nil)
}

func (v *view) ReleaseHold(ctx context.Context, orderID string) error {
	h, err := v.GetHold(ctx, orderID)
	if err != nil || h == nil {
		return err
	}
	if err := v.del(holdKey(orderID)); err != nil {
		return err
	}
	return v.del(holdIndexKey(h.AccountID, orderID))
}

func (v *view) ConsumeHold(ctx context.Context, orderID string, amount decimal.Decimal) (*models.Hold, error) {
	h, err := v.GetHold(ctx, orderID)
	if err != nil || h == nil {
		return nil, err
	}
	h.Amount = h.Amount.Sub(amount)
	if !h.Amount.IsPositive() {
		return nil, v.ReleaseHold(ctx, orderID)
	}
	if err := v.put(holdKey(orderID), h); err != nil {
		return nil, err
	}
	return h, nil
}

func (v *view) GetHold(_ context.Context, orderID string) (*models.Hold, error) {
	var h models.Hold
	found, err := v.get(holdKey(orderID), &h)
	if err != nil || !found {
		return nil, err
	}
	return &h, nil
}

func (v *view) GetAccountHolds(ctx context.Context, accountID string) ([]models.Hold, error) {
	prefix := holdIndexPrefix(accountID)
	var out []models.Hold
	err := v.scan(prefix, false, func(key, _ []byte) (bool, error) {
		h, err := v.GetHold(ctx, string(key[len(prefix):]))
		if err != nil {
			return false, err
		}
		if h != nil {
			out = append(out, *h)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b models.Hold) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.OrderID, b.OrderID)
	})
	return out, nil
}

func (v *view) InsertEntry(_ context.Context, entry models.LedgerEntry) error {
	seq, err := v.nextSeq()
	if err != nil {
		return err
	}
	key := entryKey(entry.AccountID, seq)
	if err := v.put(key, entry); err != nil {
		return err
	}
	if entry.ReferenceID == "" || entry.ReferenceType == "" {
		return nil
	}
	ref := refKey(entry.ReferenceID, entry.ReferenceType)
	_, closer, err := v.r.Get(ref)
	switch {
	case err == nil:
		return closer.Close() // first entry wins
	case errors.Is(err, pebbledb.ErrNotFound):
		return v.set(ref, key)
	default:
		return err
	}
}

func (v *view) GetEntries(_ context.Context, accountID string, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	result := make([]models.LedgerEntry, 0)
	skipped := 0
	err := v.scan(entryPrefix(accountID), true, func(_, value []byte) (bool, error) {
		var e models.LedgerEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return false, err
		}
		if !filter.Match(e) {
			return true, nil
		}
		if skipped < filter.Offset {
			skipped++
			return true, nil
		}
		result = append(result, e)
		return filter.Limit <= 0 || len(result) < filter.Limit, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (v *view) GetEntryByIdempotencyKey(_ context.Context, referenceID, referenceType string) (*models.LedgerEntry, error) {
	target, closer, err := v.r.Get(refKey(referenceID, referenceType))
	if errors.Is(err, pebbledb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	key := append([]byte(nil), target...)
	if err := closer.Close(); err != nil {
		return nil, err
	}

	var e models.LedgerEntry
	found, err := v.get(key, &e)
	if err != nil || !found {
		return nil, err
	}
	return &e, nil
}

func (v *view) nextSeq() (uint64, error) {
	var seq uint64
	val, closer, err := v.r.Get(keySeq)
	switch {
	case err == nil:
		seq = binary.BigEndian.Uint64(val)
		if err := closer.Close(); err != nil {
			return 0, err
		}
	case !errors.Is(err, pebbledb.ErrNotFound):
		return 0, err
	}
	seq++
	if err := v.set(keySeq, binary.BigEndian.AppendUint64(nil, seq)); err != nil {
		return 0, err
	}
	return seq, nil
}

// get decodes the JSON value at key into out and reports whether it existed.
func (v *view) get(key []byte, out any) (bool, error) {
	data, closer, err := v.r.Get(key)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (v *view) put(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return v.set(key, data)
}

func (v *view) set(key, value []byte) error {
	if v.b == nil {
		return errors.New("pebble: write outside a transaction")
	}
	return v.b.Set(key, value, nil)
}

func (v *view) del(key []byte) error {
	if v.b == nil {
		return errors.New("pebble: write outside a transaction")
	}
	return v.b.Delete(key, nil)
}

// scan visits every key under prefix, newest-key-first when reverse is set,
// until fn returns false.
func (v *view) scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) (err error) {
	iter, err := v.r.NewIter(&pebbledb.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()

	valid, step := iter.First, iter.Next
	if reverse {
		valid, step = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

var (
	_ interfaces.LedgerStore = (*PebbleLedgerStore)(nil)
	_ interfaces.LedgerStore = (*view)(nil)
)
