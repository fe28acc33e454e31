package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/dvloznov/sheet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// EntryRef addresses a committed row. ID is preferred; Index is only used
// for rows written before entry ids existed and is not verified.
type EntryRef struct {
	ID    string
	Index int
}

// EntryPatch lists the fields to change. Nil fields are kept.
type EntryPatch struct {
	Date        *time.Time
	Account     *string
	Category    *string
	Subcategory *string
	Description *string
	Amount      *decimal.Decimal
	Type        *domain.TransactionType
	Status      *domain.EntryStatus
}

// resolve finds the current sheet row of ref. Callers hold rowsKey.
func (e *Engine) resolve(ctx context.Context, ref EntryRef) (domain.LedgerEntry, error) {
	rows, err := e.store.ListAll(ctx, e.tabs.Transactions)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("listing %s: %w", e.tabs.Transactions, err)
	}
	entries := schema.DecodeEntries(rows)

	if ref.ID != "" {
		for _, en := range entries {
			if en.ID == ref.ID {
				return en, nil
			}
		}
		return domain.LedgerEntry{}, fmt.Errorf("entry %s: %w", ref.ID, domain.ErrEntryNotFound)
	}

	if ref.Index < store.FirstDataRow {
		return domain.LedgerEntry{}, fmt.Errorf("row %d: %w", ref.Index, domain.ErrEntryNotFound)
	}
	for _, en := range entries {
		if en.RowIndex == ref.Index {
			return en, nil
		}
	}
	return domain.LedgerEntry{}, fmt.Errorf("row %d: %w", ref.Index, domain.ErrEntryNotFound)
}

// UpdateEntry applies patch to the row addressed by ref. Accounts and
// categories in the patch are checked against refData.
func (e *Engine) UpdateEntry(ctx context.Context, ref EntryRef, patch EntryPatch, refData domain.Reference) (domain.LedgerEntry, error) {
	unlock := e.locker.Lock(rowsKey)
	defer unlock()

	en, err := e.resolve(ctx, ref)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("UpdateEntry: %w", err)
	}
	before := en.Flow

	if patch.Date != nil {
		en.Date = *patch.Date
	}
	if patch.Account != nil {
		acct, ok := refData.FindAccount(*patch.Account)
		if !ok {
			return domain.LedgerEntry{}, domain.NewValidationError(domain.ErrUnknownAccount, "account",
				fmt.Sprintf("account %q does not exist", *patch.Account))
		}
		en.Account = acct.Name
	}
	if patch.Category != nil || patch.Subcategory != nil {
		cat, sub := en.Category, en.Subcategory
		if patch.Category != nil {
			cat = *patch.Category
		}
		if patch.Subcategory != nil {
			sub = *patch.Subcategory
		}
		if c, ok := refData.FindCategory(cat, sub); ok {
			en.Category, en.Subcategory = c.Category, c.Subcategory
		} else if strings.EqualFold(cat, domain.MiscCategory) || strings.EqualFold(cat, domain.CapitalGainsCategory) {
			en.Category, en.Subcategory = cat, sub
		} else {
			return domain.LedgerEntry{}, domain.NewValidationError(domain.ErrIncompleteIntent, "category",
				fmt.Sprintf("category %q / %q is not in the category list", cat, sub))
		}
	}
	if patch.Description != nil {
		en.Description = *patch.Description
	}
	if patch.Amount != nil {
		if patch.Amount.IsZero() {
			return domain.LedgerEntry{}, domain.NewValidationError(domain.ErrMalformedAmount, "amount", "amount cannot be zero")
		}
		en.Amount = *patch.Amount
	}
	if patch.Type != nil {
		en.Type = *patch.Type
	}
	if patch.Status != nil {
		en.Status = *patch.Status
	}
	en.Flow = schema.InferFlow(en)
	// An asset row's direction is read back from its description.
	if patch.Type == nil && en.Type == domain.TypeAsset && en.Flow != before {
		return domain.LedgerEntry{}, domain.NewValidationError(domain.ErrIncompleteIntent, "description",
			fmt.Sprintf("description %q would turn this %s asset row into an %s", en.Description, before, en.Flow))
	}

	if err := e.store.UpdateByIndex(ctx, e.tabs.Transactions, en.RowIndex, schema.EncodeEntry(en)); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("UpdateEntry: writing row %d: %w", en.RowIndex, err)
	}
	return en, nil
}

// DeleteEntry removes the row addressed by ref and returns what was removed.
func (e *Engine) DeleteEntry(ctx context.Context, ref EntryRef) (domain.LedgerEntry, error) {
	unlock := e.locker.Lock(rowsKey)
	defer unlock()

	en, err := e.resolve(ctx, ref)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("DeleteEntry: %w", err)
	}
	if err := e.store.DeleteByIndex(ctx, e.tabs.Transactions, en.RowIndex); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("DeleteEntry: deleting row %d: %w", en.RowIndex, err)
	}
	return en, nil
}
