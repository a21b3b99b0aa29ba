// Package gcs provides a location storage backend that uploads site
// snapshots to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Config captures the parameters required to write snapshots to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store uploads one JSONL snapshot object per site, overwriting the previous
// snapshot so replays converge on the same object.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Name identifies this backend in fan-out results.
func (s *Store) Name() string { return "gcs" }

// Persist encodes the batch as JSON Lines and uploads it to
// gs://<bucket>/<prefix>/<site>.jsonl.
func (s *Store) Persist(ctx context.Context, site string, locations []scraper.Location) (int, error) {
	if strings.TrimSpace(site) == "" {
		return 0, fmt.Errorf("site name is required")
	}
	if len(locations) == 0 {
		// An empty batch must not overwrite the previous snapshot object.
		return 0, nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, location := range locations {
		if err := encoder.Encode(location); err != nil {
			return 0, fmt.Errorf("encode location: %w", err)
		}
	}

	object := path.Join(s.prefix, site+".jsonl")
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	if _, err := writer.Write(buf.Bytes()); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return 0, fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	return len(locations), nil
}
