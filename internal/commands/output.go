package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes a human summary of a commit outcome.
func printResult(w io.Writer, res *domain.CommitResult) {
	fmt.Fprintf(w, "%s", res.Status)
	if res.GroupID != "" {
		fmt.Fprintf(w, " (group %s)", res.GroupID)
	}
	fmt.Fprintln(w)

	for _, en := range res.Entries {
		row := "-"
		if en.RowIndex > 0 {
			row = fmt.Sprintf("%d", en.RowIndex)
		}
		fmt.Fprintf(w, "  row %-4s %s  %-12s %-10s %s  %s  %s\n",
			row, en.Date.Format("2006-01-02"), en.Account, en.Type,
			en.Amount.String(), categoryLabel(en), en.Description)
	}
	if d := res.PortfolioDelta; d != nil {
		fmt.Fprintf(w, "  position %s: %s -> %s shares, avg %s",
			d.After.Key(), d.Before.Shares, d.After.Shares, d.After.AvgPrice)
		if !d.Gain.IsZero() {
			fmt.Fprintf(w, ", realized %s", domain.FormatMoney(d.Gain, d.After.Currency))
		}
		fmt.Fprintln(w)
	}
	for _, reason := range res.Reasons {
		fmt.Fprintf(w, "  ! %s\n", reason)
	}
	if res.Status == domain.StatusRejected && res.RawText != "" {
		fmt.Fprintf(w, "  original message: %s\n", res.RawText)
	}
}

func categoryLabel(en domain.LedgerEntry) string {
	if en.Subcategory == "" {
		return en.Category
	}
	return strings.Join([]string{en.Category, en.Subcategory}, "/")
}

// exitStatus turns a non-committed outcome into an error so scripts see a
// non-zero exit code.
func exitStatus(res *domain.CommitResult) error {
	if res.Status == domain.StatusCommitted {
		return nil
	}
	return fmt.Errorf("transaction %s", strings.ToLower(string(res.Status)))
}
