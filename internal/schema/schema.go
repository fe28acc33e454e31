// Package schema maps ledger types to and from spreadsheet rows.
//
// Column order is shared with the dashboard that reads the same spreadsheet
// and must not change. The Transactions tab carries three trailing columns
// (entry id, group id, group size) after the original eight.
package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// DateLayout is the date format of every date cell.
const DateLayout = "2006-01-02"

// Tabs names the spreadsheet tabs.
type Tabs struct {
	Transactions string `yaml:"transactions"`
	Investments  string `yaml:"investments"`
	Categories   string `yaml:"categories"`
	Accounts     string `yaml:"accounts"`
	Budgets      string `yaml:"budgets"`
}

// DefaultTabs returns the tab names the dashboard expects.
func DefaultTabs() Tabs {
	return Tabs{
		Transactions: "Transactions",
		Investments:  "Investments",
		Categories:   "Categories",
		Accounts:     "Settings_Accounts",
		Budgets:      "Budgets",
	}
}

// Transactions columns.
const (
	TxDate = iota
	TxAccount
	TxCategory
	TxSubcategory
	TxDescription
	TxAmount
	TxType
	TxStatus
	TxEntryID
	TxGroupID
	TxGroupSize
)

// Investments columns.
const (
	InvPurchaseDate = iota
	InvAccount
	InvSymbol
	InvShares
	InvAvgPrice
	InvTotalUSD
	InvTotalIDR
	InvRealizedPL
)

var (
	TransactionHeader = store.Row{"Date", "Account", "Category", "Subcategory", "Description", "Amount", "Type", "Status", "Entry ID", "Group ID", "Group Size"}
	// LegacyTransactionColumns is the number of columns before the surrogate key extension.
	LegacyTransactionColumns = 8

	InvestmentHeader = store.Row{"Purchase Date", "Account", "Symbol", "Shares", "Avg Buy Price", "Total Value (USD)", "Total Value (IDR)", "Realized P/L"}
	CategoryHeader   = store.Row{"Category", "Subcategory", "Type"}
	AccountHeader    = store.Row{"Account Name", "Currency", "Balance", "Type"}
	BudgetHeader     = store.Row{"Category", "Monthly Budget", "Effective From"}
)

// Headers returns the expected header of every tab.
func Headers(t Tabs) map[string]store.Row {
	return map[string]store.Row{
		t.Transactions: TransactionHeader,
		t.Investments:  InvestmentHeader,
		t.Categories:   CategoryHeader,
		t.Accounts:     AccountHeader,
		t.Budgets:      BudgetHeader,
	}
}

// ParseNumber reads a numeric cell leniently: currency prefixes, commas and
// spaces are stripped; blank or unreadable cells are zero.
func ParseNumber(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Rp")
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDate(s string) time.Time {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return d
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// dataRows drops a leading header row and returns the rows with their sheet indexes.
func dataRows(rows []store.Row, header store.Row) ([]store.Row, int) {
	if len(rows) > 0 && strings.EqualFold(strings.TrimSpace(store.Cell(rows[0], 0)), header[0]) {
		return rows[1:], store.FirstDataRow
	}
	return rows, 1
}

func blank(row store.Row) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// EncodeEntry renders e as a Transactions row.
func EncodeEntry(e domain.LedgerEntry) store.Row {
	size := ""
	if e.GroupSize > 0 {
		size = strconv.Itoa(e.GroupSize)
	}
	return store.Row{
		formatDate(e.Date),
		e.Account,
		e.Category,
		e.Subcategory,
		e.Description,
		e.Amount.String(),
		string(e.Type),
		string(e.Status),
		e.ID,
		e.GroupID,
		size,
	}
}

// DecodeEntry reads a Transactions row located at sheet index.
func DecodeEntry(row store.Row, index int) domain.LedgerEntry {
	e := domain.LedgerEntry{
		Date:        parseDate(store.Cell(row, TxDate)),
		Account:     strings.TrimSpace(store.Cell(row, TxAccount)),
		Category:    strings.TrimSpace(store.Cell(row, TxCategory)),
		Subcategory: strings.TrimSpace(store.Cell(row, TxSubcategory)),
		Description: store.Cell(row, TxDescription),
		Amount:      ParseNumber(store.Cell(row, TxAmount)),
		Type:        domain.TransactionType(strings.TrimSpace(store.Cell(row, TxType))),
		Status:      domain.EntryStatus(strings.TrimSpace(store.Cell(row, TxStatus))),
		ID:          strings.TrimSpace(store.Cell(row, TxEntryID)),
		GroupID:     strings.TrimSpace(store.Cell(row, TxGroupID)),
		RowIndex:    index,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(store.Cell(row, TxGroupSize))); err == nil {
		e.GroupSize = n
	}
	if e.Status == "" {
		e.Status = domain.StatusNormal
	}
	e.Flow = InferFlow(e)
	return e
}

// InferFlow recovers the direction of a stored row from its type, sign and description.
func InferFlow(e domain.LedgerEntry) domain.Flow {
	switch e.Type {
	case domain.TypeExpense:
		return domain.Outflow
	case domain.TypeTransfer:
		if e.Amount.IsNegative() {
			return domain.Outflow
		}
	case domain.TypeAsset:
		if strings.HasPrefix(e.Description, "Buy ") {
			return domain.Outflow
		}
	}
	return domain.Inflow
}

// DecodeEntries reads every non-blank data row of the Transactions tab.
func DecodeEntries(rows []store.Row) []domain.LedgerEntry {
	data, first := dataRows(rows, TransactionHeader)
	out := make([]domain.LedgerEntry, 0, len(data))
	for i, r := range data {
		if blank(r) {
			continue
		}
		out = append(out, DecodeEntry(r, first+i))
	}
	return out
}

// EncodePosition renders p as an Investments row. The USD column is blank
// for positions not held in USD.
func EncodePosition(p domain.PortfolioPosition) store.Row {
	usd := ""
	if p.Currency == "USD" {
		usd = p.TotalValueUSD.String()
	}
	return store.Row{
		formatDate(p.PurchaseDate),
		p.Account,
		p.Symbol,
		p.Shares.String(),
		p.AvgPrice.String(),
		usd,
		p.TotalValueIDR.String(),
		p.RealizedPL.String(),
	}
}

// DecodePositions reads the Investments tab. Rows without a symbol are skipped.
func DecodePositions(rows []store.Row) []domain.PortfolioPosition {
	data, first := dataRows(rows, InvestmentHeader)
	out := make([]domain.PortfolioPosition, 0, len(data))
	for i, r := range data {
		symbol := strings.TrimSpace(store.Cell(r, InvSymbol))
		if symbol == "" {
			continue
		}
		p := domain.PortfolioPosition{
			PurchaseDate:  parseDate(store.Cell(r, InvPurchaseDate)),
			Account:       strings.TrimSpace(store.Cell(r, InvAccount)),
			Symbol:        strings.ToUpper(symbol),
			Shares:        ParseNumber(store.Cell(r, InvShares)),
			AvgPrice:      ParseNumber(store.Cell(r, InvAvgPrice)),
			TotalValueUSD: ParseNumber(store.Cell(r, InvTotalUSD)),
			TotalValueIDR: ParseNumber(store.Cell(r, InvTotalIDR)),
			RealizedPL:    ParseNumber(store.Cell(r, InvRealizedPL)),
			Currency:      "IDR",
			RowIndex:      first + i,
		}
		if strings.TrimSpace(store.Cell(r, InvTotalUSD)) != "" {
			p.Currency = "USD"
		}
		out = append(out, p)
	}
	return out
}

// DecodeCategories reads the Categories tab.
func DecodeCategories(rows []store.Row) []domain.Category {
	data, _ := dataRows(rows, CategoryHeader)
	out := make([]domain.Category, 0, len(data))
	for _, r := range data {
		c := domain.Category{
			Category:    strings.TrimSpace(store.Cell(r, 0)),
			Subcategory: strings.TrimSpace(store.Cell(r, 1)),
			Type:        strings.TrimSpace(store.Cell(r, 2)),
		}
		if c.Category == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// EncodeCategory renders c as a Categories row.
func EncodeCategory(c domain.Category) store.Row {
	return store.Row{c.Category, c.Subcategory, c.Type}
}

// DecodeAccounts reads the Settings_Accounts tab.
func DecodeAccounts(rows []store.Row) []domain.Account {
	data, _ := dataRows(rows, AccountHeader)
	out := make([]domain.Account, 0, len(data))
	for _, r := range data {
		a := domain.Account{
			Name:     strings.TrimSpace(store.Cell(r, 0)),
			Currency: strings.ToUpper(strings.TrimSpace(store.Cell(r, 1))),
			Balance:  ParseNumber(store.Cell(r, 2)),
			Type:     strings.TrimSpace(store.Cell(r, 3)),
		}
		if a.Name == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// EncodeAccount renders a as a Settings_Accounts row.
func EncodeAccount(a domain.Account) store.Row {
	return store.Row{a.Name, a.Currency, a.Balance.String(), a.Type}
}

// DecodeBudgets reads the Budgets tab.
func DecodeBudgets(rows []store.Row) []domain.Budget {
	data, _ := dataRows(rows, BudgetHeader)
	out := make([]domain.Budget, 0, len(data))
	for _, r := range data {
		b := domain.Budget{
			Category:      strings.TrimSpace(store.Cell(r, 0)),
			MonthlyBudget: ParseNumber(store.Cell(r, 1)),
			EffectiveFrom: parseDate(store.Cell(r, 2)),
		}
		if b.Category == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

// EncodeBudget renders b as a Budgets row.
func EncodeBudget(b domain.Budget) store.Row {
	return store.Row{b.Category, b.MonthlyBudget.String(), formatDate(b.EffectiveFrom)}
}
