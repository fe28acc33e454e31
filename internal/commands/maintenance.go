package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
)

func (r *runner) newReconcileCommand() *cobra.Command {
	var reverse string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find half-committed, duplicated or unbalanced transaction groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				out := cmd.OutOrStdout()
				if reverse != "" {
					deleted, err := env.Engine.ReverseGroup(ctx, reverse)
					for _, ref := range deleted {
						fmt.Fprintf(out, "deleted %s row %d\n", ref.Sheet, ref.Index)
					}
					return err
				}

				report, err := env.Engine.Reconcile(ctx)
				if err != nil {
					return err
				}
				if r.jsonOut {
					return printJSON(out, report)
				}
				fmt.Fprintf(out, "%d groups checked, %d rows without a group\n", report.Groups, report.Ungrouped)
				for _, is := range report.Issues {
					fmt.Fprintf(out, "%s  %s: %d of %d rows, transfer sum %s\n",
						is.GroupID, is.Kind, is.Present, is.Expected, is.Sum)
					for _, en := range is.Entries {
						fmt.Fprintf(out, "    row %d  %s  %s  %s\n", en.RowIndex, en.Account, en.Amount, en.Description)
					}
				}
				if len(report.Issues) > 0 {
					return fmt.Errorf("%d broken groups, repair with --reverse <group>", len(report.Issues))
				}
				fmt.Fprintln(out, "ledger is consistent")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reverse, "reverse", "", "delete every row of the given group")

	return cmd
}

func (r *runner) newVerifyCommand() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every tab has the expected header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				problems, err := env.Layout(ctx, fix)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, p := range problems {
					hint := ""
					if p.Fixable && !fix {
						hint = " (fixable with --fix)"
					}
					fmt.Fprintf(out, "%s%s\n", p, hint)
				}
				if len(problems) > 0 {
					return fmt.Errorf("%d layout problems", len(problems))
				}
				fmt.Fprintln(out, "layout ok")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "create missing tabs and headers")

	return cmd
}

func (r *runner) newDeleteCommand() *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "delete [entry-id]",
		Short: "Delete a ledger row by entry id, or by --index for rows without one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := entryRefFrom(args, index)
			if err != nil {
				return err
			}
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				en, err := env.Engine.DeleteEntry(ctx, ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted row %d: %s %s %s\n", en.RowIndex, en.Account, en.Amount, en.Description)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "sheet row number, for rows without an entry id")

	return cmd
}

func (r *runner) newEditCommand() *cobra.Command {
	var index int
	var f editFlags

	cmd := &cobra.Command{
		Use:   "edit [entry-id]",
		Short: "Change fields of a ledger row",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := entryRefFrom(args, index)
			if err != nil {
				return err
			}
			patch, err := f.patch(cmd.Flags())
			if err != nil {
				return err
			}
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				refData, err := env.Engine.LoadReference(ctx)
				if err != nil {
					return err
				}
				en, err := env.Engine.UpdateEntry(ctx, ref, patch, refData)
				if err != nil {
					return err
				}
				if r.jsonOut {
					return printJSON(cmd.OutOrStdout(), en)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated row %d: %s %s %s %s %s\n",
					en.RowIndex, en.Date.Format("2006-01-02"), en.Account, en.Type, en.Amount, en.Status)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "sheet row number, for rows without an entry id")
	f.register(cmd.Flags())

	return cmd
}

type editFlags struct {
	date, account, category, subcategory, description, amount, typ, status string
}

func (f *editFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.date, "date", "", "new date, YYYY-MM-DD")
	fs.StringVar(&f.account, "account", "", "new account")
	fs.StringVar(&f.category, "category", "", "new category")
	fs.StringVar(&f.subcategory, "subcategory", "", "new subcategory")
	fs.StringVar(&f.description, "description", "", "new description")
	fs.StringVar(&f.amount, "amount", "", "new amount")
	fs.StringVar(&f.typ, "type", "", "new type: Expense, Income, Transfer or Asset")
	fs.StringVar(&f.status, "status", "", "new status: Normal or Flagged")
}

// patch includes only the flags that were set on the command line.
func (f *editFlags) patch(fs *pflag.FlagSet) (ledger.EntryPatch, error) {
	var p ledger.EntryPatch
	str := func(name, val string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v := val
		return &v
	}
	p.Account = str("account", f.account)
	p.Category = str("category", f.category)
	p.Subcategory = str("subcategory", f.subcategory)
	p.Description = str("description", f.description)

	if fs.Changed("date") {
		d, err := time.Parse("2006-01-02", f.date)
		if err != nil {
			return p, fmt.Errorf("--date must be YYYY-MM-DD")
		}
		p.Date = &d
	}
	if fs.Changed("amount") {
		a, err := decimal.NewFromString(f.amount)
		if err != nil {
			return p, fmt.Errorf("--amount: %w", err)
		}
		p.Amount = &a
	}
	if fs.Changed("type") {
		t, ok := domain.ParseEntryType(f.typ)
		if !ok {
			return p, fmt.Errorf("--type must be Expense, Income, Transfer or Asset")
		}
		p.Type = &t
	}
	if fs.Changed("status") {
		s, ok := domain.ParseEntryStatus(f.status)
		if !ok {
			return p, fmt.Errorf("--status must be Normal or Flagged")
		}
		p.Status = &s
	}
	if p == (ledger.EntryPatch{}) {
		return p, fmt.Errorf("nothing to change")
	}
	return p, nil
}

func entryRefFrom(args []string, index int) (ledger.EntryRef, error) {
	switch {
	case len(args) == 1 && index != 0:
		return ledger.EntryRef{}, fmt.Errorf("pass an entry id or --index, not both")
	case len(args) == 1:
		return ledger.EntryRef{ID: args[0]}, nil
	case index != 0:
		return ledger.EntryRef{Index: index}, nil
	}
	return ledger.EntryRef{}, fmt.Errorf("an entry id or --index is required")
}
