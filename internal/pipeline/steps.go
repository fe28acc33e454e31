package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/dvloznov/sheet-ledger/internal/parser"
)

// PipelineStep represents a single step in the message pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Text          string
	ReceiptURI    string
	Image         []byte
	ImageMIMEType string

	Reference domain.Reference
	Candidate domain.Candidate
	Result    *domain.CommitResult

	// Committed is set once the commit step has been reached. Nothing after
	// that point may be retried.
	Committed bool
}

// FetchReceiptStep downloads the archived receipt, if any.
type FetchReceiptStep struct {
	Receipts ReceiptFetcher
}

func (s *FetchReceiptStep) Name() string { return "fetch_receipt" }

func (s *FetchReceiptStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.ReceiptURI == "" || len(state.Image) > 0 {
		return nil
	}
	if s.Receipts == nil {
		return fmt.Errorf("receipt %s attached but no archive is configured", state.ReceiptURI)
	}
	data, err := s.Receipts.Fetch(ctx, state.ReceiptURI)
	if err != nil {
		return err
	}
	state.Image = data
	return nil
}

// LoadReferenceStep reads categories, accounts, budgets and positions.
type LoadReferenceStep struct {
	Ledger Ledger
}

func (s *LoadReferenceStep) Name() string { return "load_reference" }

func (s *LoadReferenceStep) Execute(ctx context.Context, state *PipelineState) error {
	ref, err := s.Ledger.LoadReference(ctx)
	if err != nil {
		return err
	}
	state.Reference = ref
	return nil
}

// ParseMessageStep asks the model for a candidate.
type ParseMessageStep struct {
	Parser MessageParser
}

func (s *ParseMessageStep) Name() string { return "parse_message" }

func (s *ParseMessageStep) Execute(ctx context.Context, state *PipelineState) error {
	c, err := s.Parser.Parse(ctx, parser.Input{
		Text:          state.Text,
		Image:         state.Image,
		ImageMIMEType: state.ImageMIMEType,
	}, state.Reference)
	if err != nil {
		return err
	}
	state.Candidate = c
	return nil
}

// CommitStep submits the candidate to the ledger.
type CommitStep struct {
	Ledger Ledger
}

func (s *CommitStep) Name() string { return "commit" }

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Committed = true
	res, err := s.Ledger.Submit(ctx, state.Candidate, state.Reference)
	if err != nil {
		return err
	}
	state.Result = res
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().Str("step", step.Name()).Msg("Pipeline step done")
	}
	return nil
}

// NewMessagePipeline creates the standard four step pipeline: fetch the
// receipt, load reference data, parse, commit.
func NewMessagePipeline(receipts ReceiptFetcher, p MessageParser, l Ledger) *Pipeline {
	return NewPipeline(
		&FetchReceiptStep{Receipts: receipts},
		&LoadReferenceStep{Ledger: l},
		&ParseMessageStep{Parser: p},
		&CommitStep{Ledger: l},
	)
}
