package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
	"github.com/dvloznov/sheet-ledger/internal/gcs"
	"github.com/dvloznov/sheet-ledger/internal/jobs"
)

// maxImageBytes caps decoded receipt images.
const maxImageBytes = 10 << 20

// MessagesHandler enqueues chat messages and receipts for AI parsing.
type MessagesHandler struct {
	publisher jobs.Publisher
	receipts  gcs.ReceiptArchive
}

// NewMessagesHandler creates a new messages handler. A nil publisher disables
// the endpoint. A nil receipts archive makes images travel with the job.
func NewMessagesHandler(publisher jobs.Publisher, receipts gcs.ReceiptArchive) *MessagesHandler {
	return &MessagesHandler{publisher: publisher, receipts: receipts}
}

type messageRequest struct {
	Text          string `json:"text"`
	Image         string `json:"image"`
	ImageMIMEType string `json:"image_mime_type"`
	Filename      string `json:"filename"`
	// ReceiptURI points at a receipt archived earlier.
	ReceiptURI string `json:"receipt_uri"`
}

// EnqueueMessage handles POST /api/messages
func (h *MessagesHandler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "AI parsing is not configured")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*maxImageBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.Image == "" && req.ReceiptURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "text or image is required")
		return
	}
	if req.ReceiptURI != "" {
		if req.Image != "" {
			middleware.WriteError(w, http.StatusBadRequest, "send image or receipt_uri, not both")
			return
		}
		if h.receipts == nil || !strings.HasPrefix(req.ReceiptURI, "gs://") {
			middleware.WriteError(w, http.StatusBadRequest, "receipt_uri needs a configured gs:// archive")
			return
		}
	}

	job := &jobs.ProcessMessageJob{
		Text:          req.Text,
		ReceiptURI:    req.ReceiptURI,
		ImageMIMEType: req.ImageMIMEType,
	}

	if req.Image != "" {
		data, err := decodeImage(req.Image)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "image must be base64")
			return
		}
		if len(data) > maxImageBytes {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		if job.ImageMIMEType == "" {
			job.ImageMIMEType = http.DetectContentType(data)
		}

		if h.receipts != nil {
			uri, err := h.receipts.Upload(ctx, req.Filename, job.ImageMIMEType, data)
			if err != nil {
				logFrom(r).Error().Err(err).Msg("Failed to archive receipt")
				middleware.WriteError(w, http.StatusInternalServerError, "Failed to store receipt")
				return
			}
			job.ReceiptURI = uri
		} else {
			job.Image = data
		}
	}

	if err := h.publisher.PublishMessage(ctx, job); err != nil {
		logFrom(r).Error().Err(err).Msg("Failed to enqueue message job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue message")
		return
	}

	logFrom(r).Info().Str("job_id", job.JobID).Str("receipt_uri", job.ReceiptURI).Msg("Message job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.JobID,
		"status":      string(job.Status),
		"receipt_uri": job.ReceiptURI,
	})
}

// decodeImage accepts plain base64 or a data: URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
