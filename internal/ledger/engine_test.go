package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/dvloznov/sheet-ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var today = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

type fixture struct {
	st     *store.Memory
	engine *Engine
	tabs   schema.Tabs
	ref    domain.Reference
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	tabs := schema.DefaultTabs()
	st := store.NewMemory()
	for tab, header := range schema.Headers(tabs) {
		st.Seed(tab, header)
	}
	st.Seed(tabs.Accounts,
		store.Row{"Cash", "IDR", "0", "Cash"},
		store.Row{"BCA", "IDR", "0", "Bank"},
		store.Row{"Stockbit", "IDR", "0", "Investment"},
		store.Row{"IBKR", "USD", "0", "Investment"},
	)
	st.Seed(tabs.Categories,
		store.Row{"Food", "Groceries", "Expense"},
		store.Row{"Salary", "Monthly", "Income"},
		store.Row{"Transfer", "Internal", "Transfer"},
		store.Row{"Investment", "Stocks", "Asset"},
	)
	st.Seed(tabs.Budgets, store.Row{"Food", "100000", "2025-01-01"})

	opts = append([]Option{WithIDGenerator(sequentialIDs()), WithClock(func() time.Time { return today })}, opts...)
	e := NewEngine(st, Config{ReviewThreshold: 0.7}, opts...)

	ref, err := e.LoadReference(context.Background())
	require.NoError(t, err)
	return &fixture{st: st, engine: e, tabs: tabs, ref: ref}
}

func (f *fixture) submit(t *testing.T, fields map[string]interface{}) *domain.CommitResult {
	t.Helper()
	if _, ok := fields["confidence"]; !ok {
		fields["confidence"] = 0.95
	}
	res, err := f.engine.Submit(context.Background(), domain.Candidate{Fields: fields, RawText: "raw"}, f.ref)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (f *fixture) entries(t *testing.T) []domain.LedgerEntry {
	t.Helper()
	return schema.DecodeEntries(f.st.Rows(f.tabs.Transactions))
}

func (f *fixture) positions() []domain.PortfolioPosition {
	return schema.DecodePositions(f.st.Rows(f.tabs.Investments))
}

func buy(symbol string, shares, price float64) map[string]interface{} {
	return map[string]interface{}{
		"type": "Trade_Buy", "account": "Stockbit", "symbol": symbol,
		"shares": shares, "price": price, "category": "Investment", "subcategory": "Stocks",
	}
}

func sell(symbol string, shares, amount float64) map[string]interface{} {
	return map[string]interface{}{
		"type": "Trade_Sell", "account": "Stockbit", "symbol": symbol,
		"shares": shares, "price": amount / shares, "amount": amount, "category": "Investment", "subcategory": "Stocks",
	}
}

func TestSubmit_Expense(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, map[string]interface{}{
		"type": "Expense", "amount": "25k", "account": "Cash", "category": "Food", "subcategory": "Groceries", "note": "Lunch",
	})

	assert.Equal(t, domain.StatusCommitted, res.Status)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, store.Row{"2025-06-15", "Cash", "Food", "Groceries", "Lunch", "25000", "Expense", "Normal", "id-002", "id-001", "1"},
		f.st.Rows(f.tabs.Transactions)[1])
	assert.Equal(t, []domain.RowRef{{Sheet: "Transactions", Index: 2}}, res.Written)
}

func TestSubmit_TransferRowsBalance(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, map[string]interface{}{
		"type": "Transfer", "amount": 50000.0, "account": "Cash", "counter_account": "BCA",
		"category": "Transfer", "subcategory": "Internal",
	})
	require.Equal(t, domain.StatusCommitted, res.Status)

	rows := f.entries(t)
	require.Len(t, rows, 2)

	assert.Equal(t, "Cash", rows[0].Account)
	assert.True(t, rows[0].Amount.Equal(dec("-50000")))
	assert.Equal(t, domain.TypeTransfer, rows[0].Type)
	assert.Equal(t, "Transfer to BCA", rows[0].Description)

	assert.Equal(t, "BCA", rows[1].Account)
	assert.True(t, rows[1].Amount.Equal(dec("50000")))
	assert.Equal(t, "Transfer from Cash", rows[1].Description)

	assert.True(t, rows[0].SignedAmount().Add(rows[1].SignedAmount()).IsZero())
	assert.Equal(t, rows[0].GroupID, rows[1].GroupID)
	assert.Equal(t, 2, rows[0].GroupSize)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)
}

func TestSubmit_BuyBuySell(t *testing.T) {
	f := newFixture(t)

	res := f.submit(t, buy("BBCA", 10, 100))
	require.Equal(t, domain.StatusCommitted, res.Status)
	require.NotNil(t, res.PortfolioDelta)
	assert.True(t, res.PortfolioDelta.Created)

	f.submit(t, buy("bbca", 10, 200))

	pos := f.positions()
	require.Len(t, pos, 1, "second buy updates the existing row")
	assert.True(t, pos[0].AvgPrice.Equal(dec("150")))
	assert.True(t, pos[0].Shares.Equal(dec("20")))

	res = f.submit(t, sell("BBCA", 5, 1000))
	require.Equal(t, domain.StatusCommitted, res.Status)
	assert.True(t, res.PortfolioDelta.BaseCost.Equal(dec("750")))
	assert.True(t, res.PortfolioDelta.Gain.Equal(dec("250")))

	require.Len(t, res.Entries, 2)
	roc, gain := res.Entries[0], res.Entries[1]
	assert.Equal(t, domain.TypeAsset, roc.Type)
	assert.Equal(t, "Sell BBCA (Return of Capital)", roc.Description)
	assert.True(t, roc.Amount.Equal(dec("750")))
	assert.Equal(t, domain.Inflow, roc.Flow)
	assert.Equal(t, domain.TypeIncome, gain.Type)
	assert.Equal(t, domain.CapitalGainsCategory, gain.Category)
	assert.Equal(t, domain.CapitalGainsSubcategory, gain.Subcategory)
	assert.True(t, gain.Amount.Equal(dec("250")))
	assert.True(t, roc.Amount.Add(gain.Amount).Equal(dec("1000")))

	pos = f.positions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Shares.Equal(dec("15")))
	assert.True(t, pos[0].AvgPrice.Equal(dec("150")))
	assert.True(t, pos[0].RealizedPL.Equal(dec("250")))
}

func TestSubmit_SellAtLossSignsGain(t *testing.T) {
	f := newFixture(t)
	f.submit(t, buy("TLKM", 10, 100))
	res := f.submit(t, sell("TLKM", 10, 800))

	require.Equal(t, domain.StatusCommitted, res.Status)
	assert.True(t, res.Entries[1].Amount.Equal(dec("-200")))
	assert.True(t, res.Entries[1].SignedAmount().Equal(dec("-200")))

	pos := f.positions()
	require.Len(t, pos, 1, "a closed position keeps its row")
	assert.True(t, pos[0].Shares.IsZero())
}

func TestSubmit_OversellWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.submit(t, buy("BBCA", 3, 100))
	txBefore := f.st.Rows(f.tabs.Transactions)
	invBefore := f.st.Rows(f.tabs.Investments)
	appends := f.st.Calls(store.OpAppend)
	updates := f.st.Calls(store.OpUpdate)

	res := f.submit(t, sell("BBCA", 4, 500))
	assert.Equal(t, domain.StatusRejected, res.Status)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], domain.ErrInsufficientShares.Error())
	assert.Equal(t, "raw", res.RawText)

	assert.Equal(t, txBefore, f.st.Rows(f.tabs.Transactions))
	assert.Equal(t, invBefore, f.st.Rows(f.tabs.Investments))
	assert.Equal(t, appends, f.st.Calls(store.OpAppend))
	assert.Equal(t, updates, f.st.Calls(store.OpUpdate))

	res = f.submit(t, sell("GOTO", 1, 50))
	assert.Equal(t, domain.StatusRejected, res.Status, "selling an unknown position")
}

func TestSubmit_LowConfidenceFlagsEveryRow(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, map[string]interface{}{
		"type": "Transfer", "amount": 10000.0, "account": "BCA", "counter_account": "Cash",
		"category": "Transfer", "subcategory": "Internal", "confidence": 0.3,
	})

	require.Equal(t, domain.StatusCommitted, res.Status)
	assert.True(t, res.Intent.NeedsReview)
	for _, en := range f.entries(t) {
		assert.Equal(t, domain.StatusFlagged, en.Status)
	}
}

func TestSubmit_UnknownCategoryCommitsAsMiscellaneous(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, map[string]interface{}{
		"type": "Expense", "amount": 12000.0, "account": "Cash", "category": "Pets",
	})

	require.Equal(t, domain.StatusCommitted, res.Status)
	rows := f.entries(t)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.MiscCategory, rows[0].Category)
	assert.Equal(t, domain.StatusFlagged, rows[0].Status)
}

func TestSubmit_UnknownAccountIsRejected(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, map[string]interface{}{
		"type": "Expense", "amount": 12000.0, "account": "Jenius", "category": "Food",
	})

	assert.Equal(t, domain.StatusRejected, res.Status)
	assert.Equal(t, "raw", res.RawText)
	assert.Empty(t, f.entries(t))
	assert.Equal(t, 0, f.st.Calls(store.OpAppend))
}

func TestSubmit_BuyFundedFromAnotherAccount(t *testing.T) {
	f := newFixture(t)
	fields := buy("BBRI", 100, 5000)
	fields["source_account"] = "BCA"
	res := f.submit(t, fields)

	require.Equal(t, domain.StatusCommitted, res.Status)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "BCA", res.Entries[0].Account)
	assert.Equal(t, "Transfer to Stockbit", res.Entries[0].Description)
	assert.Equal(t, "Buy BBRI", res.Entries[2].Description)
	assert.True(t, res.Entries[2].Amount.Equal(dec("500000")))
	assert.True(t, res.Entries[0].SignedAmount().Add(res.Entries[1].SignedAmount()).IsZero())
	for _, en := range res.Entries {
		assert.Equal(t, 3, en.GroupSize)
		assert.Equal(t, res.GroupID, en.GroupID)
	}

	report, err := f.engine.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 1, report.Groups)
}

func TestSubmit_PartialCommit(t *testing.T) {
	f := newFixture(t)
	f.st.SetFault(func(op store.Op, sheet string, call int) error {
		if op == store.OpAppend && call == 2 {
			return fmt.Errorf("sheets append: %w", domain.ErrStoreUnavailable)
		}
		return nil
	})

	res := f.submit(t, map[string]interface{}{
		"type": "Transfer", "amount": 50000.0, "account": "Cash", "counter_account": "BCA", "category": "Transfer",
	})

	assert.Equal(t, domain.StatusPartialCommit, res.Status)
	require.Len(t, res.Written, 1)
	assert.Equal(t, 2, res.Written[0].Index)
	require.Len(t, f.entries(t), 1)
	assert.Equal(t, 2, f.st.Calls(store.OpAppend), "the failed row is not retried")

	f.st.SetFault(nil)
	report, err := f.engine.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueIncomplete, report.Issues[0].Kind)
	assert.Equal(t, res.GroupID, report.Issues[0].GroupID)
	assert.Equal(t, 2, report.Issues[0].Expected)
	assert.Equal(t, 1, report.Issues[0].Present)

	deleted, err := f.engine.ReverseGroup(context.Background(), res.GroupID)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)
	assert.Empty(t, f.entries(t))
}

func TestSubmit_PositionWriteFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.st.SetFault(func(op store.Op, sheet string, call int) error {
		if sheet == f.tabs.Investments && (op == store.OpAppend || op == store.OpUpdate) {
			return domain.ErrStoreUnavailable
		}
		return nil
	})

	res := f.submit(t, buy("BBCA", 1, 100))
	assert.Equal(t, domain.StatusPartialCommit, res.Status)
	assert.Len(t, res.Written, 1)
	assert.Len(t, f.entries(t), 1)
	assert.Empty(t, f.positions())
}

func TestSubmit_FirstWriteFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	f.st.SetFault(func(op store.Op, sheet string, call int) error {
		if op == store.OpAppend {
			return domain.ErrStoreUnavailable
		}
		return nil
	})

	res, err := f.engine.Submit(context.Background(), domain.Candidate{Fields: map[string]interface{}{
		"type": "Income", "amount": 1.0, "account": "BCA", "category": "Salary",
	}}, f.ref)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestSubmit_TimeoutIsUnknown(t *testing.T) {
	f := newFixture(t)
	f.st.SetFault(func(op store.Op, sheet string, call int) error {
		if op == store.OpAppend && call == 2 {
			return fmt.Errorf("Append Transactions: %w", domain.ErrOutcomeUnknown)
		}
		return nil
	})

	res := f.submit(t, map[string]interface{}{
		"type": "Transfer", "amount": 100.0, "account": "Cash", "counter_account": "BCA", "category": "Transfer",
	})
	assert.Equal(t, domain.StatusUnknown, res.Status)
	assert.Len(t, res.Written, 1)
}

// stallAfterAppend stores the row and then holds the call open until its
// context ends, like a request whose response never arrives.
type stallAfterAppend struct {
	*store.Memory
	landed chan struct{}
}

func (s *stallAfterAppend) Append(ctx context.Context, sheet string, row store.Row) (domain.RowRef, error) {
	if _, err := s.Memory.Append(ctx, sheet, row); err != nil {
		return domain.RowRef{}, err
	}
	select {
	case s.landed <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return domain.RowRef{}, ctx.Err()
}

func TestSubmit_CallerGoneAfterWriteIsUnknown(t *testing.T) {
	tests := []struct {
		name string
		ctx  func(landed <-chan struct{}) (context.Context, context.CancelFunc)
	}{
		{
			name: "caller cancels",
			ctx: func(landed <-chan struct{}) (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				go func() {
					<-landed
					cancel()
				}()
				return ctx, cancel
			},
		},
		{
			name: "caller deadline passes",
			ctx: func(landed <-chan struct{}) (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			st := &stallAfterAppend{Memory: f.st, landed: make(chan struct{}, 1)}
			e := NewEngine(store.NewRetrying(st, store.RetryConfig{Timeout: 300 * time.Millisecond}), Config{ReviewThreshold: 0.7},
				WithIDGenerator(sequentialIDs()), WithClock(func() time.Time { return today }))

			ctx, cancel := tt.ctx(st.landed)
			defer cancel()

			res, err := e.Submit(ctx, domain.Candidate{Fields: map[string]interface{}{
				"type": "Expense", "amount": 25000.0, "account": "Cash", "category": "Food", "confidence": 0.95,
			}}, f.ref)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, domain.StatusUnknown, res.Status)
			assert.Len(t, f.entries(t), 1, "the row reached the sheet")
			assert.Equal(t, 1, f.st.Calls(store.OpAppend), "an unconfirmed write is not retried")
		})
	}
}

func TestSubmit_ConcurrentBuysDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			price := 100.0
			if i%2 == 1 {
				price = 200
			}
			_, err := f.engine.Submit(context.Background(), domain.Candidate{Fields: buy("BBCA", 1, price)}, f.ref)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pos := f.positions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Shares.Equal(dec("20")), "shares = %s", pos[0].Shares)
	assert.Len(t, f.entries(t), 20)
}

type staticRates struct{ rate decimal.Decimal }

func (s staticRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	return s.rate, nil
}

func TestSubmit_USDPositionValuedInIDR(t *testing.T) {
	f := newFixture(t, WithRates(staticRates{rate: dec("16000")}))
	res := f.submit(t, map[string]interface{}{
		"type": "Trade_Buy", "account": "IBKR", "symbol": "AAPL", "shares": 2.0, "price": 150.0, "category": "Investment",
	})
	require.Equal(t, domain.StatusCommitted, res.Status)

	pos := f.positions()
	require.Len(t, pos, 1)
	assert.Equal(t, "USD", pos[0].Currency)
	assert.True(t, pos[0].TotalValueUSD.Equal(dec("300")))
	assert.True(t, pos[0].TotalValueIDR.Equal(dec("4800000")))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.LedgerEntry
	err     error
}

func (s *recordingSink) Record(ctx context.Context, entries []domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, entries)
	return s.err
}

func TestSubmit_Sinks(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("warehouse down")}
	f := newFixture(t, WithSink(ok), WithSink(failing))

	res := f.submit(t, map[string]interface{}{"type": "Income", "amount": 5.0, "account": "BCA", "category": "Salary"})
	assert.Equal(t, domain.StatusCommitted, res.Status)
	require.Len(t, ok.batches, 1)
	assert.Len(t, ok.batches[0], 1)
	assert.Len(t, failing.batches, 1)
}
