package gcsuploader

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/sheet-ledger/internal/gcs"
	"github.com/google/uuid"
)

// ReceiptArchive is re-exported from the shared package.
type ReceiptArchive = gcs.ReceiptArchive

// GCSReceiptArchive archives receipts in a single bucket using a shared
// storage client.
type GCSReceiptArchive struct {
	client *storage.Client
	bucket string
	now    func() time.Time
	newID  func() string
}

// NewGCSReceiptArchive creates a storage client for bucket.
// It assumes Application Default Credentials are configured.
func NewGCSReceiptArchive(ctx context.Context, bucket string) (*GCSReceiptArchive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSReceiptArchive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSReceiptArchive: create storage client: %w", err)
	}
	return &GCSReceiptArchive{
		client: client,
		bucket: bucket,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Upload implements ReceiptArchive.
func (a *GCSReceiptArchive) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	object := ObjectName(a.now(), a.newID(), filename)
	if err := uploadBytes(ctx, a.client, a.bucket, object, contentType, data); err != nil {
		return "", err
	}
	return BuildURI(a.bucket, object), nil
}

// Fetch implements ReceiptArchive.
func (a *GCSReceiptArchive) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	return fetchWithClient(ctx, a.client, gcsURI)
}

// Close releases the storage client.
func (a *GCSReceiptArchive) Close() error {
	return a.client.Close()
}

var _ ReceiptArchive = (*GCSReceiptArchive)(nil)
