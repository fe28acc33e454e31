package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/rs/zerolog"
)

// Ledger is the engine surface the HTTP API serves.
type Ledger interface {
	LoadReference(ctx context.Context) (domain.Reference, error)
	Submit(ctx context.Context, c domain.Candidate, ref domain.Reference) (*domain.CommitResult, error)
	ListEntries(ctx context.Context, year, month int) ([]domain.LedgerEntry, error)
	UpdateEntry(ctx context.Context, ref ledger.EntryRef, patch ledger.EntryPatch, refData domain.Reference) (domain.LedgerEntry, error)
	DeleteEntry(ctx context.Context, ref ledger.EntryRef) (domain.LedgerEntry, error)
	Positions(ctx context.Context) ([]domain.PortfolioPosition, error)
	BudgetStatus(ctx context.Context, ref domain.Reference, year, month int) ([]ledger.BudgetLine, error)
	Reconcile(ctx context.Context) (*ledger.ReconcileReport, error)
	ReverseGroup(ctx context.Context, groupID string) ([]domain.RowRef, error)
}

var _ Ledger = (*ledger.Engine)(nil)

// CommitStatusCode maps a commit outcome to an HTTP status.
func CommitStatusCode(status domain.CommitStatus) int {
	switch status {
	case domain.StatusCommitted:
		return http.StatusCreated
	case domain.StatusUnknown:
		return http.StatusAccepted
	case domain.StatusPartialCommit:
		return http.StatusMultiStatus
	case domain.StatusRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorStatus maps engine errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, verr.Error()
	case errors.Is(err, domain.ErrEntryNotFound):
		return http.StatusNotFound, "Entry not found"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "Spreadsheet rate limit reached, try again later"
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Spreadsheet unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeEngineError logs err and writes the mapped response.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status, clientMsg := errorStatus(err)
	ev := logFrom(r).Warn()
	if status >= http.StatusInternalServerError {
		ev = logFrom(r).Error()
	}
	ev.Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, clientMsg)
}

// monthQuery reads ?year=&month=. Missing values default to now; year=0
// selects every row.
func monthQuery(r *http.Request, now time.Time) (year, month int, ok bool) {
	q := r.URL.Query()
	year, month = now.Year(), int(now.Month())
	if s := q.Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 0 {
			return 0, 0, false
		}
		year = y
		month = 0
	}
	if s := q.Get("month"); s != "" {
		m, err := strconv.Atoi(s)
		if err != nil || m < 0 || m > 12 {
			return 0, 0, false
		}
		month = m
	}
	return year, month, true
}

func logFrom(r *http.Request) *zerolog.Logger {
	l := logger.FromContext(r.Context())
	return &l
}
