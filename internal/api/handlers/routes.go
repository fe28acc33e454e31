package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
	"github.com/dvloznov/sheet-ledger/internal/gcs"
	"github.com/dvloznov/sheet-ledger/internal/jobs"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Ledger    Ledger
	Publisher jobs.Publisher
	JobStore  jobs.JobStore
	Receipts  gcs.ReceiptArchive
}

// NewRouter registers every API route on a new ServeMux.
func NewRouter(d Deps) *http.ServeMux {
	transactionsHandler := NewTransactionsHandler(d.Ledger)
	referenceHandler := NewReferenceHandler(d.Ledger)
	reconcileHandler := NewReconcileHandler(d.Ledger)
	messagesHandler := NewMessagesHandler(d.Publisher, d.Receipts)
	jobsHandler := NewJobsHandler(d.JobStore)

	mux := http.NewServeMux()

	// Transactions endpoints
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			transactionsHandler.ListTransactions(w, r)
		case http.MethodPost:
			transactionsHandler.CreateTransaction(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
		switch r.Method {
		case http.MethodPut:
			transactionsHandler.UpdateTransaction(w, r, id)
		case http.MethodDelete:
			transactionsHandler.DeleteTransaction(w, r, id)
		default:
			methodNotAllowed(w)
		}
	})

	// Messages endpoints
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			messagesHandler.EnqueueMessage(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Reference data endpoints
	getOnly := map[string]http.HandlerFunc{
		"/api/categories": referenceHandler.ListCategories,
		"/api/accounts":   referenceHandler.ListAccounts,
		"/api/portfolio":  referenceHandler.GetPortfolio,
		"/api/budgets":    referenceHandler.GetBudgets,
		"/api/reconcile":  reconcileHandler.Report,
	}
	for path, h := range getOnly {
		h := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				h(w, r)
			} else {
				methodNotAllowed(w)
			}
		})
	}

	mux.HandleFunc("/api/reconcile/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/reconcile/")
		groupID, ok := strings.CutSuffix(rest, "/reverse")
		if !ok || groupID == "" || strings.Contains(groupID, "/") {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		reconcileHandler.Reverse(w, r, groupID)
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
