package pipeline

import (
	"context"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/parser"
)

// ReceiptFetcher downloads archived receipt images.
type ReceiptFetcher interface {
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}

// MessageParser turns a message into an untrusted candidate.
// This interface enables mocking and testing of AI parsing functionality.
type MessageParser interface {
	Parse(ctx context.Context, in parser.Input, ref domain.Reference) (domain.Candidate, error)
}

// Ledger is the part of the ledger engine the pipeline needs.
type Ledger interface {
	LoadReference(ctx context.Context) (domain.Reference, error)
	Submit(ctx context.Context, c domain.Candidate, ref domain.Reference) (*domain.CommitResult, error)
}
