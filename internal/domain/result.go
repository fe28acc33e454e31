package domain

import "github.com/shopspring/decimal"

// CommitStatus is the outcome of one engine submission.
type CommitStatus string

const (
	StatusCommitted     CommitStatus = "Committed"
	StatusPartialCommit CommitStatus = "PartialCommit"
	StatusRejected      CommitStatus = "Rejected"
	// StatusUnknown means a write timed out and its delivery is unconfirmed.
	StatusUnknown CommitStatus = "Unknown"
)

// PortfolioDelta describes the position mutation of a trade.
type PortfolioDelta struct {
	Before   PortfolioPosition `json:"before"`
	After    PortfolioPosition `json:"after"`
	Created  bool              `json:"created"`
	BaseCost decimal.Decimal   `json:"base_cost"`
	Gain     decimal.Decimal   `json:"gain"`
}

// CommitResult is returned to messaging and dashboard callers.
type CommitResult struct {
	Status         CommitStatus       `json:"status"`
	GroupID        string             `json:"group_id,omitempty"`
	Intent         *TransactionIntent `json:"intent,omitempty"`
	Entries        []LedgerEntry      `json:"entries"`
	PortfolioDelta *PortfolioDelta    `json:"portfolio_delta,omitempty"`

	// Written lists the rows that reached the store, in write order.
	Written []RowRef `json:"written,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	// RawText is kept on rejection so the user can enter the transaction manually.
	RawText string `json:"raw_text,omitempty"`
}

// Rejected builds a rejection carrying the given reasons.
func Rejected(rawText string, reasons ...string) *CommitResult {
	return &CommitResult{Status: StatusRejected, Reasons: reasons, RawText: rawText}
}
