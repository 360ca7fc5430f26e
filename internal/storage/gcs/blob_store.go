// Package gcs mirrors the crawl's CSV artifact to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/hash/sha256"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(
	ctx context.Context,
	name string,
	contentType string,
	metadata map[string]string,
	r io.Reader,
) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if len(metadata) > 0 {
		writer.Metadata = metadata
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// ArtifactExporter uploads the flushed checkpoint file once per run as
// <prefix>/<run id>/<file name>, tagged with its SHA-256 digest.
type ArtifactExporter struct {
	store  *BlobStore
	hasher *sha256.Hasher
	file   string
	prefix string
	last   string
}

var _ crawler.Exporter = (*ArtifactExporter)(nil)

// NewArtifactExporter mirrors the local file at path.
func NewArtifactExporter(store *BlobStore, file string, cfg Config) (*ArtifactExporter, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if strings.TrimSpace(file) == "" {
		return nil, fmt.Errorf("artifact path is required")
	}
	return &ArtifactExporter{
		store:  store,
		hasher: sha256.New(),
		file:   file,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Name implements crawler.Exporter.
func (e *ArtifactExporter) Name() string {
	return "gcs"
}

// Export implements crawler.Exporter. The rows are already in the file; only
// the run ID is used, to name the object.
func (e *ArtifactExporter) Export(ctx context.Context, runID string, _ []crawler.Observation) error {
	// #nosec G304 -- the artifact path comes from operator configuration.
	f, err := os.Open(e.file)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	digest, err := e.hasher.HashReader(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind artifact: %w", err)
	}
	metadata := map[string]string{"sha256": digest, "run_id": runID}
	uri, err := e.store.PutObject(ctx, e.objectName(runID), "text/csv", metadata, f)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	e.last = uri
	return nil
}

// LastURI is the gs:// location of the most recent upload.
func (e *ArtifactExporter) LastURI() string {
	return e.last
}

func (e *ArtifactExporter) objectName(runID string) string {
	return path.Join(e.prefix, runID, filepath.Base(e.file))
}
