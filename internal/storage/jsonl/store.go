// Package jsonl implements a local filesystem storage backend that keeps the
// latest location snapshot per site as a JSON Lines file.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Config captures the parameters for the JSONL storage backend.
type Config struct {
	// BaseDir is the root directory where site snapshots are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes one <site>.jsonl snapshot per site. Each persist replaces the
// previous snapshot atomically, so re-running a batch leaves the same file.
type Store struct {
	baseDir string
}

// New creates a JSONL store rooted at the configured directory.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Name identifies this backend in fan-out results.
func (s *Store) Name() string { return "jsonl" }

// Persist writes the batch as one JSON object per line and renames it over
// the site's snapshot file.
func (s *Store) Persist(ctx context.Context, site string, locations []scraper.Location) (int, error) {
	if strings.TrimSpace(site) == "" {
		return 0, fmt.Errorf("site name is required")
	}
	if len(locations) == 0 {
		// An empty batch must not erase the previous snapshot.
		return 0, nil
	}

	target := filepath.Join(s.baseDir, site+".jsonl")
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(target), cleanBase+string(filepath.Separator)) {
		return 0, fmt.Errorf("path traversal detected")
	}

	tmp, err := os.CreateTemp(s.baseDir, site+".jsonl.tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	for _, location := range locations {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return 0, err
		}
		if err := encoder.Encode(location); err != nil {
			tmp.Close()
			return 0, fmt.Errorf("failed to encode location: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return len(locations), nil
}
