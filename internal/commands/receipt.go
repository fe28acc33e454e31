package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func (r *runner) newReceiptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt <file>",
		Short: "Archive a receipt image and print its gs:// URI",
		Long:  "The URI can be passed to parse --image or to the messages API as receipt_uri.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading receipt: %w", err)
			}
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				if env.Receipts == nil {
					return fmt.Errorf("receipt archive is not configured, set GCS_BUCKET")
				}
				uri, err := env.Receipts.Upload(ctx, filepath.Base(args[0]), http.DetectContentType(data), data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), uri)
				return nil
			})
		},
	}
	return cmd
}
