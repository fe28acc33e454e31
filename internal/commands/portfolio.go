package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
)

func (r *runner) newPortfolioCommand() *cobra.Command {
	var style string
	var showClosed bool

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show investment positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				positions, err := env.Engine.Positions(ctx)
				if err != nil {
					return err
				}
				if !showClosed {
					positions = openPositions(positions)
				}
				if r.jsonOut {
					return printJSON(cmd.OutOrStdout(), positions)
				}
				out, err := render(portfolioMarkdown(positions), style)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&style, "style", "auto", "glamour style: auto, dark, light, notty or ascii")
	cmd.Flags().BoolVar(&showClosed, "closed", false, "include positions with no shares left")

	return cmd
}

func (r *runner) newBudgetCommand() *cobra.Command {
	var month, style string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Compare a month's spending with the budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := time.Parse("2006-01", month)
			if err != nil {
				return fmt.Errorf("--month must be YYYY-MM")
			}
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				ref, err := env.Engine.LoadReference(ctx)
				if err != nil {
					return err
				}
				lines, err := env.Engine.BudgetStatus(ctx, ref, m.Year(), int(m.Month()))
				if err != nil {
					return err
				}
				if r.jsonOut {
					return printJSON(cmd.OutOrStdout(), lines)
				}
				out, err := render(budgetMarkdown(m, lines), style)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&month, "month", time.Now().Format("2006-01"), "month to report, YYYY-MM")
	cmd.Flags().StringVar(&style, "style", "auto", "glamour style: auto, dark, light, notty or ascii")

	return cmd
}

func openPositions(ps []domain.PortfolioPosition) []domain.PortfolioPosition {
	out := make([]domain.PortfolioPosition, 0, len(ps))
	for _, p := range ps {
		if p.Shares.IsPositive() {
			out = append(out, p)
		}
	}
	return out
}

// portfolioMarkdown renders positions as a markdown table, sorted by account
// then symbol.
func portfolioMarkdown(ps []domain.PortfolioPosition) string {
	sorted := append([]domain.PortfolioPosition(nil), ps...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Account != sorted[j].Account {
			return sorted[i].Account < sorted[j].Account
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var b strings.Builder
	b.WriteString("# Portfolio\n\n")
	if len(sorted) == 0 {
		b.WriteString("No open positions.\n")
		return b.String()
	}
	b.WriteString("| Account | Symbol | Shares | Avg price | Cost basis | Realized P/L | Value (IDR) |\n")
	b.WriteString("|---|---|--:|--:|--:|--:|--:|\n")
	for _, p := range sorted {
		idr := "-"
		if !p.TotalValueIDR.IsZero() {
			idr = domain.FormatMoney(p.TotalValueIDR, "IDR")
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			p.Account, p.Symbol, p.Shares.String(),
			domain.FormatMoney(p.AvgPrice, p.Currency),
			domain.FormatMoney(p.CostBasis(), p.Currency),
			domain.FormatMoney(p.RealizedPL, p.Currency),
			idr)
	}
	return b.String()
}

func budgetMarkdown(month time.Time, lines []ledger.BudgetLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Budget %s\n\n", month.Format("January 2006"))
	if len(lines) == 0 {
		b.WriteString("No budgets in effect.\n")
		return b.String()
	}
	b.WriteString("| Category | Budget | Spent | Remaining | |\n")
	b.WriteString("|---|--:|--:|--:|---|\n")
	for _, l := range lines {
		mark := ""
		if l.Over {
			mark = "**over**"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", l.Category,
			domain.FormatMoney(l.Budget, "IDR"), domain.FormatMoney(l.Spent, "IDR"),
			domain.FormatMoney(l.Remaining, "IDR"), mark)
	}
	return b.String()
}

// render draws markdown for the terminal.
func render(md, style string) (string, error) {
	opt := glamour.WithAutoStyle()
	if style != "" && style != "auto" {
		opt = glamour.WithStandardStyle(style)
	}
	tr, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(120))
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	return tr.Render(md)
}
