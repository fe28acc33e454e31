package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const receiptPrefix = "receipts"

// ObjectName returns receipts/YYYY/MM/DD/<id>-<name> for an upload made at t.
// The name is reduced to its base and spaces are replaced.
func ObjectName(t time.Time, id, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if name == "" || name == "." || name == "/" {
		name = "receipt"
	}
	return fmt.Sprintf("%s/%s/%s-%s", receiptPrefix, t.UTC().Format("2006/01/02"), id, name)
}

// BuildURI returns the gs:// URI of an object.
func BuildURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits a gs:// URI into bucket and object path.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	// gcsURI example: gs://my-bucket/receipts/2025/06/15/abc-lunch.jpg
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.jpg" → "file.jpg"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}

func uploadBytes(ctx context.Context, client *storage.Client, bucket, object, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploadBytes: copy to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploadBytes: finalize upload %s/%s: %w", bucket, object, err)
	}
	return nil
}

func fetchWithClient(ctx context.Context, client *storage.Client, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading bytes: %w", err)
	}

	return data, nil
}
