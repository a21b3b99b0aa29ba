// Package postgres provides the Postgres-backed location storage backend.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for location rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store upserts location rows keyed by business_id. Replaying a batch leaves
// existing rows in place, only advancing updated_at and any changed fields.
type Store struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "locations"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "locations"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Name identifies this backend in fan-out results.
func (s *Store) Name() string { return "postgres" }

// Persist upserts every location in the batch. created_at is set only on
// first insert; conflicts on business_id update the mutable columns and
// advance updated_at.
func (s *Store) Persist(ctx context.Context, site string, locations []scraper.Location) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("location store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	business_id,
	business_name,
	street_address,
	suburb,
	state,
	postcode,
	drive_thru,
	shopping_centre_name,
	source_url,
	source,
	scraped_date,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now()
)
ON CONFLICT (business_id) DO UPDATE SET
	business_name = EXCLUDED.business_name,
	street_address = EXCLUDED.street_address,
	suburb = EXCLUDED.suburb,
	state = EXCLUDED.state,
	postcode = EXCLUDED.postcode,
	drive_thru = EXCLUDED.drive_thru,
	shopping_centre_name = EXCLUDED.shopping_centre_name,
	source_url = EXCLUDED.source_url,
	source = EXCLUDED.source,
	scraped_date = EXCLUDED.scraped_date,
	updated_at = now()`, s.table)

	stored := 0
	for _, location := range locations {
		if location.BusinessID == "" {
			return stored, fmt.Errorf("location for site %s is missing business_id", site)
		}
		args := []any{
			location.BusinessID,
			location.BusinessName,
			location.StreetAddress,
			location.Suburb,
			location.State,
			location.Postcode,
			location.DriveThru,
			location.ShoppingCentreName,
			location.SourceURL,
			location.Source,
			location.ScrapedDate,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return stored, fmt.Errorf("upsert location %s: %w", location.BusinessID, err)
		}
		stored++
	}
	return stored, nil
}
