package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
	"github.com/dvloznov/sheet-ledger/internal/parser"
)

func (r *runner) newSubmitCommand() *cobra.Command {
	var file string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "submit [candidate-json]",
		Short: "Validate and commit a candidate transaction",
		Long: `Submit a candidate as JSON, either inline or with --file (use - for stdin).
The candidate may be bare or wrapped as {"candidate": {...}, "raw_text": "..."}.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readCandidateInput(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			c, err := parseCandidate(data)
			if err != nil {
				return err
			}
			return r.with(cmd, func(ctx context.Context, env *Env) error {
				return r.commit(ctx, cmd, env, c, dryRun)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the candidate from a file, - for stdin")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-memory copy of the sheet")

	return cmd
}

func (r *runner) newParseCommand() *cobra.Command {
	var imagePath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "parse [message...]",
		Short: "Parse a chat message or receipt with the model and commit it",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := parser.Input{Text: strings.Join(args, " ")}
			if strings.TrimSpace(in.Text) == "" && imagePath == "" {
				return fmt.Errorf("a message or --image is required")
			}

			return r.with(cmd, func(ctx context.Context, env *Env) error {
				if env.Parser == nil {
					return fmt.Errorf("AI parsing is not configured, set GEMINI_API_KEY")
				}
				if imagePath != "" {
					img, err := readImage(ctx, env, imagePath)
					if err != nil {
						return err
					}
					in.Image = img
					in.ImageMIMEType = http.DetectContentType(img)
				}
				ref, err := env.Engine.LoadReference(ctx)
				if err != nil {
					return err
				}
				c, err := env.Parser.Parse(ctx, in, ref)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Fprintln(cmd.ErrOrStderr(), "model candidate:")
					_ = printJSON(cmd.ErrOrStderr(), c.Fields)
				}
				return r.commit(ctx, cmd, env, c, dryRun)
			})
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "receipt image to send with the message, a local path or gs:// URI")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-memory copy of the sheet")

	return cmd
}

// commit submits c to the live engine, or to a snapshot when dryRun is set.
func (r *runner) commit(ctx context.Context, cmd *cobra.Command, env *Env, c domain.Candidate, dryRun bool) error {
	engine := env.Engine
	if dryRun {
		mem, err := env.Snapshot(ctx)
		if err != nil {
			return err
		}
		engine = env.NewEngine(mem)
	}
	res, err := submit(ctx, engine, c)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if r.jsonOut {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		if dryRun {
			fmt.Fprintln(out, "dry run, nothing was written")
		}
		printResult(out, res)
	}
	return exitStatus(res)
}

func submit(ctx context.Context, engine *ledger.Engine, c domain.Candidate) (*domain.CommitResult, error) {
	ref, err := engine.LoadReference(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Submit(ctx, c, ref)
}

// readImage loads a local file, or an archived receipt when path is a gs:// URI.
func readImage(ctx context.Context, env *Env, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "gs://") {
		img, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading image: %w", err)
		}
		return img, nil
	}
	if env.Receipts == nil {
		return nil, fmt.Errorf("receipt archive is not configured, set GCS_BUCKET")
	}
	return env.Receipts.Fetch(ctx, path)
}

func readCandidateInput(stdin io.Reader, args []string, file string) ([]byte, error) {
	switch {
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1:
		return []byte(args[0]), nil
	}
	return nil, fmt.Errorf("pass the candidate as an argument or with --file")
}

func parseCandidate(data []byte) (domain.Candidate, error) {
	var fields map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return domain.Candidate{}, fmt.Errorf("candidate is not a JSON object: %w", err)
	}
	inner, wrapped := fields["candidate"].(map[string]interface{})
	if !wrapped {
		return domain.Candidate{Fields: fields}, nil
	}
	raw, _ := fields["raw_text"].(string)
	return domain.Candidate{Fields: inner, RawText: raw}, nil
}
