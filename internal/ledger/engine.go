// Package ledger commits transaction intents to the spreadsheet ledger.
//
// Every submission is computed in full before the first store write. Rows
// are then appended in order and the portfolio row is written last. A failure
// after the first write is reported as a partial commit and is never retried
// with recomputed values.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/intent"
	"github.com/dvloznov/sheet-ledger/internal/keylock"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/dvloznov/sheet-ledger/internal/portfolio"
	"github.com/dvloznov/sheet-ledger/internal/review"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/dvloznov/sheet-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Locker serializes the read-compute-write section of a commit. Hosts running
// several engine instances against one spreadsheet supply a shared implementation.
type Locker interface {
	Lock(keys ...string) (unlock func())
}

// EntrySink receives the entries of every fully committed submission.
type EntrySink interface {
	Record(ctx context.Context, entries []domain.LedgerEntry) error
}

// RateSource converts between currencies.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Config holds engine settings.
type Config struct {
	Tabs            schema.Tabs
	ReviewThreshold float64
	Normalizer      intent.Config
}

// Engine validates candidates and commits them to a Store.
type Engine struct {
	store      store.Store
	tabs       schema.Tabs
	normalizer *intent.Normalizer
	classifier review.Classifier
	locker     Locker
	rates      RateSource
	sinks      []EntrySink
	newID      func() string
	now        func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLocker replaces the in-process key lock.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithRates sets the exchange rate source used to value USD positions in IDR.
func WithRates(r RateSource) Option {
	return func(e *Engine) { e.rates = r }
}

// WithSink adds an EntrySink.
func WithSink(s EntrySink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithIDGenerator replaces the UUID generator for entry and group ids.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine writing to st.
func NewEngine(st store.Store, cfg Config, opts ...Option) *Engine {
	if cfg.Tabs == (schema.Tabs{}) {
		cfg.Tabs = schema.DefaultTabs()
	}
	e := &Engine{
		store:      st,
		tabs:       cfg.Tabs,
		normalizer: intent.NewNormalizer(cfg.Normalizer),
		classifier: review.NewClassifier(cfg.ReviewThreshold),
		locker:     keylock.New(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tabs returns the tab names the engine writes to.
func (e *Engine) Tabs() schema.Tabs {
	return e.tabs
}

// Submit normalizes c against ref and commits it.
//
// Validation failures and insufficient shares produce a Rejected result and
// write nothing. A failure after the first write produces PartialCommit; a
// write that timed out produces Unknown. Both carry the rows already written.
// An error is returned only when the store failed before anything was written.
func (e *Engine) Submit(ctx context.Context, c domain.Candidate, ref domain.Reference) (*domain.CommitResult, error) {
	in, err := e.normalizer.Normalize(c, ref)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			log := logger.FromContext(ctx)
			log.Info().Err(err).Msg("Candidate rejected")
			return domain.Rejected(c.RawText, verr.Error()), nil
		}
		return nil, fmt.Errorf("Submit: normalize: %w", err)
	}

	res, err := e.CommitIntent(ctx, *in)
	if res != nil && res.Status == domain.StatusRejected {
		res.RawText = c.RawText
	}
	return res, err
}

// CommitIntent commits an already normalized intent.
func (e *Engine) CommitIntent(ctx context.Context, in domain.TransactionIntent) (*domain.CommitResult, error) {
	if err := in.Validate(); err != nil {
		return domain.Rejected("", err.Error()), nil
	}
	decision := e.classifier.Annotate(&in)

	usdToIDR := decimal.Zero
	if in.Type.IsTrade() {
		usdToIDR = e.usdToIDR(ctx, in.Currency)
	}

	unlock := e.locker.Lock(lockKeys(in)...)
	defer unlock()

	var book *portfolio.Book
	if in.Type.IsTrade() {
		positions, err := e.Positions(ctx)
		if err != nil {
			return nil, fmt.Errorf("CommitIntent: %w", err)
		}
		book = portfolio.NewBook(positions)
	}

	plan, err := BuildPlan(in, decision.Status, book, usdToIDR, e.newID)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return domain.Rejected("", verr.Error()), nil
		}
		return nil, fmt.Errorf("CommitIntent: plan: %w", err)
	}

	log := logger.FromContext(ctx).With().
		Str("group_id", plan.GroupID).
		Str("type", string(in.Type)).
		Logger()

	res := &domain.CommitResult{
		Status:         domain.StatusCommitted,
		GroupID:        plan.GroupID,
		Intent:         &in,
		Entries:        plan.Entries,
		PortfolioDelta: plan.Delta,
		Reasons:        decision.Reasons,
	}

	// Once the first row is sent the caller can no longer call the write off.
	// Each store call stays bounded by the store timeout.
	wctx := context.WithoutCancel(ctx)
	for i := range res.Entries {
		ref, err := e.store.Append(wctx, e.tabs.Transactions, schema.EncodeEntry(res.Entries[i]))
		if err != nil {
			return e.writeFailed(ctx, res, pendingRows(res.Entries[i:], plan.Delta != nil), err)
		}
		res.Entries[i].RowIndex = ref.Index
		res.Written = append(res.Written, ref)
		log.Debug().
			Str("entry_id", res.Entries[i].ID).
			Int("row", ref.Index).
			Msg("Ledger row written")
	}

	if plan.Delta != nil {
		ref, err := e.writePosition(wctx, plan.Delta.After)
		if err != nil {
			return e.writeFailed(ctx, res, []string{"portfolio " + plan.Delta.After.Key().String()}, err)
		}
		plan.Delta.After.RowIndex = ref.Index
		res.Written = append(res.Written, ref)
	}

	log.Info().
		Int("rows", len(res.Entries)).
		Bool("needs_review", in.NeedsReview).
		Msg("Transaction committed")

	for _, s := range e.sinks {
		if err := s.Record(ctx, res.Entries); err != nil {
			log.Warn().Err(err).Msg("Entry sink failed")
		}
	}
	return res, nil
}

func (e *Engine) writePosition(ctx context.Context, pos domain.PortfolioPosition) (domain.RowRef, error) {
	row := schema.EncodePosition(pos)
	if pos.RowIndex >= store.FirstDataRow {
		if err := e.store.UpdateByIndex(ctx, e.tabs.Investments, pos.RowIndex, row); err != nil {
			return domain.RowRef{}, err
		}
		return domain.RowRef{Sheet: e.tabs.Investments, Index: pos.RowIndex}, nil
	}
	return e.store.Append(ctx, e.tabs.Investments, row)
}

// writeFailed turns a store error into the submission outcome.
func (e *Engine) writeFailed(ctx context.Context, res *domain.CommitResult, pending []string, err error) (*domain.CommitResult, error) {
	log := logger.FromContext(ctx)

	if errors.Is(err, domain.ErrOutcomeUnknown) {
		res.Status = domain.StatusUnknown
		res.Reasons = append(res.Reasons, fmt.Sprintf("write not confirmed, check the sheet before resubmitting: %v", err))
		log.Error().Err(err).Str("group_id", res.GroupID).Int("written", len(res.Written)).Msg("Commit outcome unknown")
		return res, nil
	}

	if len(res.Written) == 0 {
		return nil, fmt.Errorf("CommitIntent: %w", err)
	}

	pc := &domain.PartialCommitError{GroupID: res.GroupID, Written: res.Written, Pending: pending, Err: err}
	res.Status = domain.StatusPartialCommit
	res.Reasons = append(res.Reasons, pc.Error())
	log.Error().Err(pc).Str("group_id", res.GroupID).Msg("Partial commit")
	return res, nil
}

func pendingRows(rest []domain.LedgerEntry, withPosition bool) []string {
	out := make([]string, 0, len(rest)+1)
	for _, r := range rest {
		out = append(out, fmt.Sprintf("%s %s %s", r.Account, r.Amount, r.Description))
	}
	if withPosition {
		out = append(out, "portfolio update")
	}
	return out
}

func (e *Engine) usdToIDR(ctx context.Context, currency string) decimal.Decimal {
	if currency != "USD" || e.rates == nil {
		return decimal.Zero
	}
	rate, err := e.rates.Rate(ctx, "USD", "IDR")
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("No USD/IDR rate, IDR value left blank")
		return decimal.Zero
	}
	return rate
}

// lockKeys returns the keys guarding in: every touched account and, for
// trades, the position.
func lockKeys(in domain.TransactionIntent) []string {
	keys := []string{accountKey(in.Account)}
	if in.CounterAccount != "" {
		keys = append(keys, accountKey(in.CounterAccount))
	}
	if in.SourceAccount != "" {
		keys = append(keys, accountKey(in.SourceAccount))
	}
	if in.Type.IsTrade() {
		keys = append(keys, "position:"+strings.ToLower(domain.NewPositionKey(in.Account, in.Symbol).String()))
	}
	return keys
}

func accountKey(name string) string {
	return "account:" + strings.ToLower(name)
}

// rowsKey guards positional edits of the Transactions tab.
const rowsKey = "rows:transactions"
