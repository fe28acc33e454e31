package schema

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEntry_ColumnOrder(t *testing.T) {
	e := domain.LedgerEntry{
		ID:          "e-1",
		GroupID:     "g-1",
		GroupSize:   2,
		Date:        time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Account:     "Cash",
		Category:    "Transfer",
		Subcategory: "Internal",
		Description: "Transfer to BCA",
		Amount:      decimal.NewFromInt(-50000),
		Type:        domain.TypeTransfer,
		Status:      domain.StatusNormal,
		Flow:        domain.Outflow,
	}

	row := EncodeEntry(e)
	assert.Equal(t, store.Row{"2025-06-15", "Cash", "Transfer", "Internal", "Transfer to BCA", "-50000", "Transfer", "Normal", "e-1", "g-1", "2"}, row)
	require.Len(t, row, len(TransactionHeader))

	back := DecodeEntry(row, 7)
	assert.Equal(t, 7, back.RowIndex)
	assert.Equal(t, domain.Outflow, back.Flow)
	assert.True(t, back.SignedAmount().Equal(decimal.NewFromInt(-50000)))
	assert.Equal(t, 2, back.GroupSize)
}

func TestDecodeEntries_LegacyRows(t *testing.T) {
	rows := []store.Row{
		TransactionHeader[:LegacyTransactionColumns],
		{"2024-12-01", "Cash", "Food", "Groceries", "Lunch", "Rp 25,000", "Expense", "Normal"},
		{},
		{"2024-12-02", "Stockbit", "Investment", "Stocks", "Buy BBCA", "900000", "Asset", "Flagged"},
	}

	entries := DecodeEntries(rows)
	require.Len(t, entries, 2)

	assert.Equal(t, 2, entries[0].RowIndex)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, domain.Outflow, entries[0].Flow)
	assert.Empty(t, entries[0].ID)

	assert.Equal(t, 4, entries[1].RowIndex)
	assert.Equal(t, domain.Outflow, entries[1].Flow)
	assert.Equal(t, domain.StatusFlagged, entries[1].Status)
}

func TestInferFlow(t *testing.T) {
	tests := []struct {
		typ  domain.TransactionType
		desc string
		amt  int64
		want domain.Flow
	}{
		{domain.TypeExpense, "x", 10, domain.Outflow},
		{domain.TypeIncome, "x", 10, domain.Inflow},
		{domain.TypeTransfer, "Transfer to BCA", -10, domain.Outflow},
		{domain.TypeTransfer, "Transfer from Cash", 10, domain.Inflow},
		{domain.TypeAsset, "Buy BBCA", 10, domain.Outflow},
		{domain.TypeAsset, "Sell BBCA (Return of Capital)", 10, domain.Inflow},
	}
	for _, tt := range tests {
		e := domain.LedgerEntry{Type: tt.typ, Description: tt.desc, Amount: decimal.NewFromInt(tt.amt)}
		if got := InferFlow(e); got != tt.want {
			t.Errorf("InferFlow(%s %q %d) = %s, want %s", tt.typ, tt.desc, tt.amt, got, tt.want)
		}
	}
}

func TestPositions_CurrencyFromUSDColumn(t *testing.T) {
	usd := domain.PortfolioPosition{
		Account: "IBKR", Symbol: "AAPL", Currency: "USD",
		Shares: decimal.NewFromInt(2), AvgPrice: decimal.NewFromInt(190),
		TotalValueUSD: decimal.NewFromInt(380), TotalValueIDR: decimal.NewFromInt(6080000),
	}
	idr := domain.PortfolioPosition{
		Account: "Stockbit", Symbol: "BBCA", Currency: "IDR",
		Shares: decimal.NewFromInt(100), AvgPrice: decimal.NewFromInt(9000),
		TotalValueIDR: decimal.NewFromInt(900000),
	}

	idrRow := EncodePosition(idr)
	assert.Equal(t, "", idrRow[InvTotalUSD])

	got := DecodePositions([]store.Row{InvestmentHeader, EncodePosition(usd), idrRow, {"", "", ""}})
	require.Len(t, got, 2)
	assert.Equal(t, "USD", got[0].Currency)
	assert.Equal(t, 2, got[0].RowIndex)
	assert.Equal(t, "IDR", got[1].Currency)
	assert.True(t, got[1].AvgPrice.Equal(decimal.NewFromInt(9000)))
}

func TestReferenceTabs(t *testing.T) {
	cats := DecodeCategories([]store.Row{CategoryHeader, {"Food", "Groceries", "Expense"}, {""}})
	require.Len(t, cats, 1)
	assert.Equal(t, "Groceries", cats[0].Subcategory)

	accts := DecodeAccounts([]store.Row{AccountHeader, {"BCA", "idr", "1,250,000", "Bank"}})
	require.Len(t, accts, 1)
	assert.Equal(t, "IDR", accts[0].Currency)
	assert.True(t, accts[0].Balance.Equal(decimal.NewFromInt(1250000)))

	budgets := DecodeBudgets([]store.Row{BudgetHeader, {"Food", "3000000", "2025-01-01"}})
	require.Len(t, budgets, 1)
	assert.Equal(t, 2025, budgets[0].EffectiveFrom.Year())
}

func TestParseNumber(t *testing.T) {
	assert.True(t, ParseNumber("Rp 1,500").Equal(decimal.NewFromInt(1500)))
	assert.True(t, ParseNumber("$3.25").Equal(decimal.RequireFromString("3.25")))
	assert.True(t, ParseNumber("").IsZero())
	assert.True(t, ParseNumber("n/a").IsZero())
}

func TestVerifyAndEnsureHeaders(t *testing.T) {
	ctx := context.Background()
	tabs := DefaultTabs()
	st := store.NewMemory()
	st.Seed(tabs.Transactions, TransactionHeader[:LegacyTransactionColumns])
	st.Seed(tabs.Categories, store.Row{"Name", "Sub", "Type"})
	st.Seed(tabs.Accounts, AccountHeader)

	problems, err := VerifyLayout(ctx, st, tabs)
	require.NoError(t, err)
	assert.Len(t, problems, 4, "%v", problems)

	remaining, err := EnsureHeaders(ctx, st, tabs)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, tabs.Categories, remaining[0].Tab)

	assert.Equal(t, TransactionHeader, st.Rows(tabs.Transactions)[0])
	assert.Equal(t, InvestmentHeader, st.Rows(tabs.Investments)[0])
	assert.Equal(t, BudgetHeader, st.Rows(tabs.Budgets)[0])
}
