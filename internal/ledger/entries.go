package ledger

import (
	"context"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 1000
)

// NormalizeEntryFilter applies the default and maximum page size and
// treats a negative offset as zero.
func NormalizeEntryFilter(filter models.EntryFilter) models.EntryFilter {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultEntryLimit
	case filter.Limit > maxEntryLimit:
		filter.Limit = maxEntryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

// GetEntries pages through an account's immutable history, newest first.
func (l *Ledger) GetEntries(ctx context.Context, accountID string, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	entries, err := l.store.GetEntries(ctx, accountID, NormalizeEntryFilter(filter))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return entries, nil
}

// appendEntry stamps and writes an entry inside the unit's transaction.
func (u *unit) appendEntry(e models.LedgerEntry) (models.LedgerEntry, error) {
	e.ID = u.l.newID()
	e.Status = models.EntryCompleted
	e.CreatedAt = u.l.now().UTC()
	if err := u.tx.InsertEntry(u.ctx, e); err != nil {
		return models.LedgerEntry{}, err
	}
	u.entries = append(u.entries, e)
	return e, nil
}
