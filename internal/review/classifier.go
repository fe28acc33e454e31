// Package review decides whether a transaction intent needs human review.
package review

import (
	"fmt"
	"strings"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

// DefaultThreshold is the confidence below which an intent is flagged.
const DefaultThreshold = 0.7

// Decision is the outcome of classifying one intent.
type Decision struct {
	NeedsReview bool
	Status      domain.EntryStatus
	Reasons     []string
}

// Classifier flags low-confidence, uncategorized or ambiguous intents.
type Classifier struct {
	Threshold float64
}

// NewClassifier returns a classifier with the given threshold, or the default
// when threshold is not within (0,1].
func NewClassifier(threshold float64) Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return Classifier{Threshold: threshold}
}

// Classify returns the review decision for intent.
func (c Classifier) Classify(intent domain.TransactionIntent) Decision {
	var reasons []string
	if intent.Confidence < c.Threshold {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below threshold %.2f", intent.Confidence, c.Threshold))
	}
	if strings.EqualFold(intent.Category, domain.MiscCategory) {
		reasons = append(reasons, "category is "+domain.MiscCategory)
	}
	reasons = append(reasons, intent.Ambiguities...)

	d := Decision{NeedsReview: len(reasons) > 0, Status: domain.StatusNormal, Reasons: reasons}
	if d.NeedsReview {
		d.Status = domain.StatusFlagged
	}
	return d
}

// Annotate sets intent.NeedsReview from the decision and returns the row status.
func (c Classifier) Annotate(intent *domain.TransactionIntent) Decision {
	d := c.Classify(*intent)
	intent.NeedsReview = d.NeedsReview
	return d
}
