package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/sheet-ledger/internal/app"
	"github.com/dvloznov/sheet-ledger/internal/config"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
	"github.com/dvloznov/sheet-ledger/internal/parser"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/dvloznov/sheet-ledger/internal/store"
)

var today = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

type cliFixture struct {
	st       *store.Memory
	tabs     schema.Tabs
	parser   *stubParser
	receipts *fakeArchive
}

type fakeArchive struct {
	objects map[string][]byte
}

func (a *fakeArchive) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	uri := "gs://receipts-test/receipts/" + filename
	a.objects[uri] = data
	return uri, nil
}

func (a *fakeArchive) Fetch(ctx context.Context, uri string) ([]byte, error) {
	data, ok := a.objects[uri]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type stubParser struct {
	candidate domain.Candidate
	err       error
	calls     int
	last      parser.Input
}

func (p *stubParser) Parse(ctx context.Context, in parser.Input, ref domain.Reference) (domain.Candidate, error) {
	p.calls++
	p.last = in
	return p.candidate, p.err
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	t.Setenv("LEDGER_CONFIG", "")
	tabs := schema.DefaultTabs()
	st := store.NewMemory()
	for tab, header := range schema.Headers(tabs) {
		st.Seed(tab, header)
	}
	st.Seed(tabs.Accounts,
		store.Row{"Cash", "IDR", "0", "Cash"},
		store.Row{"Stockbit", "IDR", "0", "Investment"},
	)
	st.Seed(tabs.Categories,
		store.Row{"Food", "Groceries", "Expense"},
		store.Row{"Investment", "Stocks", "Asset"},
	)
	st.Seed(tabs.Budgets, store.Row{"Food", "100000", "2025-01-01"})
	return &cliFixture{st: st, tabs: tabs}
}

func (f *cliFixture) engine(st store.Store) *ledger.Engine {
	return ledger.NewEngine(st, ledger.Config{ReviewThreshold: 0.7}, ledger.WithClock(func() time.Time { return today }))
}

func (f *cliFixture) load(ctx context.Context, cfg *config.Config) (*Env, error) {
	env := &Env{
		Config:    cfg,
		Engine:    f.engine(f.st),
		NewEngine: f.engine,
		Snapshot: func(ctx context.Context) (*store.Memory, error) {
			return app.SnapshotStore(ctx, f.st, f.tabs)
		},
		Layout: func(ctx context.Context, fix bool) ([]schema.Problem, error) {
			if fix {
				return schema.EnsureHeaders(ctx, f.st, f.tabs)
			}
			return schema.VerifyLayout(ctx, f.st, f.tabs)
		},
	}
	if f.parser != nil {
		env.Parser = f.parser
	}
	if f.receipts != nil {
		env.Receipts = f.receipts
	}
	return env, nil
}

func (f *cliFixture) run(args ...string) (string, error) {
	cmd := NewRootCommand(f.load)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func (f *cliFixture) entries(t *testing.T) []domain.LedgerEntry {
	t.Helper()
	entries, err := f.engine(f.st).ListEntries(context.Background(), 0, 0)
	require.NoError(t, err)
	return entries
}

const lunchJSON = `{"candidate": {"type": "Expense", "amount": "25k", "account": "Cash", "category": "Food",
	"subcategory": "Groceries", "description": "Lunch", "date": "2025-06-10", "confidence": 0.95},
	"raw_text": "lunch 25k cash"}`

func TestSubmit_Commits(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("submit", lunchJSON)
	require.NoError(t, err)
	assert.Contains(t, out, "Committed")
	assert.Contains(t, out, "Lunch")

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(25000)))
}

func TestSubmit_DryRunLeavesSheetUntouched(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("submit", "--dry-run", lunchJSON)
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Committed")
	assert.Empty(t, f.entries(t))
	assert.Zero(t, f.st.Calls(store.OpAppend))
}

func TestSubmit_RejectedExitsWithError(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("submit", `{"type": "Expense", "amount": "25k", "account": "Dana", "category": "Food", "confidence": 0.9}`)
	require.Error(t, err)
	assert.Contains(t, out, "Rejected")
	assert.Empty(t, f.entries(t))
}

func TestSubmit_ReadsStdin(t *testing.T) {
	f := newCLIFixture(t)

	cmd := NewRootCommand(f.load)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(lunchJSON))
	cmd.SetArgs([]string{"submit", "-f", "-", "--json"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"status": "Committed"`)
}

func TestSubmit_InvalidJSON(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("submit", "lunch 25k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a JSON object")
}

func TestParse(t *testing.T) {
	t.Run("without a parser", func(t *testing.T) {
		f := newCLIFixture(t)
		_, err := f.run("parse", "lunch", "25k")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	})

	t.Run("commits the model candidate", func(t *testing.T) {
		f := newCLIFixture(t)
		c, err := parseCandidate([]byte(lunchJSON))
		require.NoError(t, err)
		f.parser = &stubParser{candidate: c}

		out, err := f.run("parse", "lunch", "25k", "cash")
		require.NoError(t, err)
		assert.Contains(t, out, "Committed")
		assert.Equal(t, 1, f.parser.calls)
		assert.Len(t, f.entries(t), 1)
	})

	t.Run("parser failure", func(t *testing.T) {
		f := newCLIFixture(t)
		f.parser = &stubParser{err: errors.New("model unavailable")}
		_, err := f.run("parse", "lunch")
		require.Error(t, err)
		assert.Empty(t, f.entries(t))
	})
}

func TestDeleteAndEdit(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run("submit", lunchJSON)
	require.NoError(t, err)
	id := f.entries(t)[0].ID
	require.NotEmpty(t, id)

	out, err := f.run("edit", id, "--amount", "30000", "--description", "Lunch with Sam")
	require.NoError(t, err)
	assert.Contains(t, out, "updated row")

	en := f.entries(t)[0]
	assert.True(t, en.Amount.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, "Lunch with Sam", en.Description)
	assert.Equal(t, "Food", en.Category)

	_, err = f.run("edit", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to change")

	_, err = f.run("edit", id, "--status", "Maybe")
	require.Error(t, err)

	_, err = f.run("delete", "--index", "2")
	require.NoError(t, err)
	assert.Empty(t, f.entries(t))

	_, err = f.run("delete", id)
	require.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestEntryRefFrom(t *testing.T) {
	ref, err := entryRefFrom([]string{"abc"}, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryRef{ID: "abc"}, ref)

	ref, err = entryRefFrom(nil, 7)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryRef{Index: 7}, ref)

	_, err = entryRefFrom(nil, 0)
	assert.Error(t, err)
	_, err = entryRefFrom([]string{"abc"}, 7)
	assert.Error(t, err)
}

func TestEditFlags_OnlyChangedFields(t *testing.T) {
	var f editFlags
	fs := pflag.NewFlagSet("edit", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"--type", "income", "--date", "2025-06-01"}))

	p, err := f.patch(fs)
	require.NoError(t, err)
	require.NotNil(t, p.Type)
	assert.Equal(t, domain.TypeIncome, *p.Type)
	require.NotNil(t, p.Date)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *p.Date)
	assert.Nil(t, p.Account)
	assert.Nil(t, p.Amount)
	assert.Nil(t, p.Status)
}

func TestReconcile(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run("submit", lunchJSON)
	require.NoError(t, err)

	out, err := f.run("reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "ledger is consistent")

	// A copy of the committed row makes its group a duplicate.
	rows := f.st.Rows(f.tabs.Transactions)
	f.st.Seed(f.tabs.Transactions, rows[len(rows)-1])
	group := f.entries(t)[0].GroupID

	out, err = f.run("reconcile")
	require.Error(t, err)
	assert.Contains(t, out, group)

	out, err = f.run("reconcile", "--reverse", group)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "deleted"))
	assert.Empty(t, f.entries(t))
}

func TestVerify(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.run("verify")
	require.NoError(t, err)
	assert.Contains(t, out, "layout ok")

	bare := store.NewMemory()
	bare.Seed(f.tabs.Transactions)
	f.st = bare

	out, err = f.run("verify")
	require.Error(t, err)
	assert.Contains(t, out, f.tabs.Transactions)
}

func TestPortfolioMarkdown(t *testing.T) {
	ps := []domain.PortfolioPosition{
		{Account: "Stockbit", Symbol: "BBCA", Shares: decimal.NewFromInt(100), AvgPrice: decimal.NewFromInt(9000), Currency: "IDR"},
		{Account: "Gotrade", Symbol: "AAPL", Shares: decimal.NewFromInt(2), AvgPrice: decimal.NewFromInt(150), Currency: "USD",
			RealizedPL: decimal.NewFromInt(20)},
		{Account: "Stockbit", Symbol: "ASII", Shares: decimal.Zero, Currency: "IDR"},
	}

	open := openPositions(ps)
	require.Len(t, open, 2)

	md := portfolioMarkdown(open)
	lines := strings.Split(md, "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.True(t, strings.HasPrefix(lines[4], "| Gotrade | AAPL"), md)
	assert.True(t, strings.HasPrefix(lines[5], "| Stockbit | BBCA"), md)
	assert.Contains(t, md, domain.FormatMoney(decimal.NewFromInt(900000), "IDR"))
	assert.Contains(t, md, domain.FormatMoney(decimal.NewFromInt(20), "USD"))
	assert.NotContains(t, md, "ASII")

	assert.Contains(t, portfolioMarkdown(nil), "No open positions")
}

func TestBudgetMarkdown(t *testing.T) {
	month := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	md := budgetMarkdown(month, []ledger.BudgetLine{
		{Category: "Food", Budget: decimal.NewFromInt(100000), Spent: decimal.NewFromInt(125000), Remaining: decimal.NewFromInt(-25000), Over: true},
	})
	assert.Contains(t, md, "# Budget June 2025")
	assert.Contains(t, md, "| Food |")
	assert.Contains(t, md, "**over**")

	assert.Contains(t, budgetMarkdown(month, nil), "No budgets in effect")
}

func TestBudgetCommand_JSON(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run("submit", lunchJSON)
	require.NoError(t, err)

	out, err := f.run("budget", "--month", "2025-06", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"category": "Food"`)
	assert.Contains(t, out, `"spent": "25000"`)

	_, err = f.run("budget", "--month", "June")
	require.Error(t, err)
}

func TestPortfolioCommand_ASCII(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.run("portfolio", "--style", "ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "Portfolio")
}

func TestReceipt(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	path := filepath.Join(t.TempDir(), "struk.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	f := newCLIFixture(t)
	_, err := f.run("receipt", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GCS_BUCKET")

	f.receipts = &fakeArchive{objects: map[string][]byte{}}
	out, err := f.run("receipt", path)
	require.NoError(t, err)
	uri := strings.TrimSpace(out)
	assert.Equal(t, "gs://receipts-test/receipts/struk.png", uri)
	assert.Equal(t, png, f.receipts.objects[uri])

	c, err := parseCandidate([]byte(lunchJSON))
	require.NoError(t, err)
	f.parser = &stubParser{candidate: c}
	_, err = f.run("parse", "--image", uri)
	require.NoError(t, err)
	assert.Equal(t, png, f.parser.last.Image)
	assert.Equal(t, "image/png", f.parser.last.ImageMIMEType)

	_, err = f.run("parse", "--image", "gs://receipts-test/missing.png")
	require.Error(t, err)
}
