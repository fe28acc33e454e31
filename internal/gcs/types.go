package gcs

import (
	"context"
)

// ReceiptArchive stores receipt images attached to inbound messages.
// This interface enables mocking and testing of storage functionality.
type ReceiptArchive interface {
	// Upload stores data under a dated object name and returns its gs:// URI.
	Upload(ctx context.Context, filename, contentType string, data []byte) (string, error)

	// Fetch downloads object bytes from the given gs:// URI.
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}
