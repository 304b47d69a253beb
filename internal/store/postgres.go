package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/saline-motors/truckwatch/internal/db"
	"github.com/saline-motors/truckwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot upsert path.
var preparedStatements = map[string]string{
	"get_listing":       `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`,
	"get_by_dedup_hash": `SELECT ` + listingColumns + ` FROM listings WHERE dedup_hash = $1 AND id != $2 AND status = 'active' ORDER BY last_seen_at DESC, id ASC`,
	"append_price":      `INSERT INTO price_history (listing_id, price, observed_at) VALUES ($1, $2, $3)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                TEXT PRIMARY KEY,
	dedup_hash        TEXT NOT NULL,
	source            TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	url               TEXT NOT NULL,
	title             TEXT NOT NULL,
	description       TEXT,
	year              INTEGER,
	make              TEXT,
	model             TEXT,
	trim              TEXT,
	body_style        TEXT,
	drivetrain        TEXT,
	transmission      TEXT,
	fuel_type         TEXT,
	condition         TEXT,
	title_status      TEXT,
	paint_color       TEXT,
	seller_type       TEXT,
	price             INTEGER,
	mileage           INTEGER,
	location          TEXT,
	region            TEXT,
	condition_notes   TEXT,
	maintenance_notes TEXT,
	known_issues      TEXT,
	service_records   TEXT,
	seller_notes      TEXT,
	status            TEXT NOT NULL DEFAULT 'active',
	first_seen_at     TIMESTAMPTZ NOT NULL,
	last_seen_at      TIMESTAMPTZ NOT NULL,
	times_seen        INTEGER NOT NULL DEFAULT 1,
	price_per_mile    DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS price_history (
	listing_id  TEXT NOT NULL REFERENCES listings(id),
	price       INTEGER NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (listing_id, observed_at)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source      TEXT NOT NULL,
	run_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	found       INTEGER NOT NULL DEFAULT 0,
	new_count   INTEGER NOT NULL DEFAULT 0,
	inactive    INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_listings_dedup_hash ON listings(dedup_hash);
CREATE INDEX IF NOT EXISTS idx_listings_source_status ON listings(source, status);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_run_at ON scrape_runs(run_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE price_history, scrape_runs, listings`)
	return eris.Wrap(err, "postgres: reset")
}

func pgPlaceholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func (s *PostgresStore) InsertListing(ctx context.Context, l *model.PersistedListing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (`+listingColumns+`) VALUES (`+pgPlaceholders(33)+`)`,
		listingArgs(l)...,
	)
	return eris.Wrapf(err, "postgres: insert listing %s", l.ID)
}

func (s *PostgresStore) UpdateListing(ctx context.Context, l *model.PersistedListing) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET
			dedup_hash = $1, description = $2, year = $3, make = $4, model = $5,
			trim = $6, body_style = $7, drivetrain = $8, transmission = $9,
			fuel_type = $10, condition = $11, title_status = $12, paint_color = $13,
			seller_type = $14, price = $15, mileage = $16, location = $17,
			region = $18, condition_notes = $19, maintenance_notes = $20,
			known_issues = $21, service_records = $22, seller_notes = $23,
			status = $24, last_seen_at = $25, times_seen = $26, price_per_mile = $27
		WHERE id = $28`,
		l.DedupHash, l.Description, l.Year, l.Make, l.Model,
		l.Trim, l.BodyStyle, l.Drivetrain, l.Transmission,
		l.FuelType, l.Condition, l.TitleStatus, l.PaintColor,
		l.SellerType, l.Price, l.Mileage, l.Location,
		l.Region, l.ConditionNotes, l.MaintenanceNotes,
		l.KnownIssues, l.ServiceRecords, l.SellerNotes,
		string(l.Status), l.LastSeenAt, l.TimesSeen, l.PricePerMile, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update listing %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("listing not found: %s", l.ID)
	}
	return nil
}

func scanPGListing(row pgx.Row) (*model.PersistedListing, error) {
	var l model.PersistedListing
	var status string
	err := row.Scan(
		&l.ID, &l.DedupHash, &l.Source, &l.SourceID, &l.URL, &l.Title, &l.Description,
		&l.Year, &l.Make, &l.Model, &l.Trim, &l.BodyStyle, &l.Drivetrain,
		&l.Transmission, &l.FuelType, &l.Condition, &l.TitleStatus, &l.PaintColor,
		&l.SellerType, &l.Price, &l.Mileage, &l.Location, &l.Region,
		&l.ConditionNotes, &l.MaintenanceNotes, &l.KnownIssues, &l.ServiceRecords,
		&l.SellerNotes, &status, &l.FirstSeenAt, &l.LastSeenAt, &l.TimesSeen, &l.PricePerMile,
	)
	if err != nil {
		return nil, err
	}
	l.Status = model.ListingStatus(status)
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.PersistedListing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanPGListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get listing %s", id)
	}
	return l, nil
}

func (s *PostgresStore) GetByDedupHash(ctx context.Context, hash, excludeID string) ([]model.PersistedListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE dedup_hash = $1 AND id != $2 AND status = 'active'
		 ORDER BY last_seen_at DESC, id ASC`,
		hash, excludeID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get by dedup hash")
	}
	defer rows.Close()

	var listings []model.PersistedListing
	for rows.Next() {
		l, err := scanPGListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dedup candidate")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: dedup candidates iterate")
}

func (s *PostgresStore) ActiveListings(ctx context.Context, filter ListingFilter) ([]model.PersistedListing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE status = 'active'`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.Make != "" {
		query += fmt.Sprintf(` AND make = $%d`, argIdx)
		args = append(args, filter.Make)
		argIdx++
	}
	query += ` ORDER BY year DESC, mileage ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active listings")
	}
	defer rows.Close()

	var listings []model.PersistedListing
	for rows.Next() {
		l, err := scanPGListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: active listings iterate")
}

func (s *PostgresStore) MarkInactive(ctx context.Context, source string, touched []string) (int, error) {
	query := `UPDATE listings SET status = 'inactive' WHERE source = $1 AND status = 'active'`
	args := []any{source}

	if len(touched) > 0 {
		query += ` AND id != ALL($2)`
		args = append(args, touched)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: mark inactive for %s", source)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AppendPriceObservation(ctx context.Context, obs model.PriceObservation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (listing_id, price, observed_at) VALUES ($1, $2, $3)`,
		obs.ListingID, obs.Price, obs.ObservedAt,
	)
	return eris.Wrapf(err, "postgres: append price observation for %s", obs.ListingID)
}

func (s *PostgresStore) PriceHistory(ctx context.Context, listingID string) ([]model.PriceObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT listing_id, price, observed_at FROM price_history
		 WHERE listing_id = $1 ORDER BY observed_at ASC`,
		listingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: price history for %s", listingID)
	}
	defer rows.Close()

	var obs []model.PriceObservation
	for rows.Next() {
		var o model.PriceObservation
		if err := rows.Scan(&o.ListingID, &o.Price, &o.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price observation")
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "postgres: price history iterate")
}

func (s *PostgresStore) RecordRun(ctx context.Context, run model.ScrapeRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.RunAt.IsZero() {
		run.RunAt = time.Now().UTC()
	}
	var errMsg *string
	if run.Error != "" {
		errMsg = &run.Error
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, source, run_at, found, new_count, inactive, duration_ms, outcome, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Source, run.RunAt, run.Found, run.New, run.Inactive,
		run.Duration.Milliseconds(), string(run.Outcome), errMsg,
	)
	return eris.Wrapf(err, "postgres: record run for %s", run.Source)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error) {
	query := `SELECT id, source, run_at, found, new_count, inactive, duration_ms, outcome, error
	          FROM scrape_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY run_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		var r model.ScrapeRun
		var durationMS int64
		var outcome string
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Source, &r.RunAt, &r.Found, &r.New, &r.Inactive, &durationMS, &outcome, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Outcome = model.RunOutcome(outcome)
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{BySource: make(map[string]int)}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'inactive' THEN 1 ELSE 0 END), 0)
		 FROM listings`,
	).Scan(&stats.Total, &stats.Active, &stats.Inactive)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats counts")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*) FROM listings WHERE status = 'active' GROUP BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by source")
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats by source iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT MIN(price), MAX(price), AVG(price)::float8 FROM listings
		 WHERE status = 'active' AND price IS NOT NULL`,
	).Scan(&stats.MinPrice, &stats.MaxPrice, &stats.AvgPrice)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats prices")
	}

	runs, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		stats.LastRun = &runs[0]
	}

	return stats, nil
}

func (s *PostgresStore) BestDeals(ctx context.Context, limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, year, make, model, price, mileage, price_per_mile, location, url
		 FROM listings
		 WHERE status = 'active' AND price_per_mile IS NOT NULL AND mileage > 0
		 ORDER BY price_per_mile ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: best deals")
	}
	defer rows.Close()

	var deals []Deal
	for rows.Next() {
		var d Deal
		if err := rows.Scan(&d.ID, &d.Year, &d.Make, &d.Model, &d.Price, &d.Mileage, &d.PricePerMile, &d.Location, &d.URL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: best deals iterate")
}

func (s *PostgresStore) PriceDrops(ctx context.Context, limit int) ([]PriceDrop, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.year, l.make, l.model, l.location,
		        ph.price, l.price, ph.price - l.price, ph.observed_at, l.url
		 FROM listings l
		 JOIN (
		     SELECT DISTINCT ON (listing_id) listing_id, price, observed_at
		     FROM price_history
		     ORDER BY listing_id, observed_at DESC
		 ) ph ON ph.listing_id = l.id
		 WHERE l.status = 'active' AND l.price IS NOT NULL AND ph.price > l.price
		 ORDER BY ph.price - l.price DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: price drops")
	}
	defer rows.Close()

	var drops []PriceDrop
	for rows.Next() {
		var d PriceDrop
		if err := rows.Scan(&d.ID, &d.Year, &d.Make, &d.Model, &d.Location, &d.OldPrice, &d.CurrentPrice, &d.Savings, &d.ObservedAt, &d.URL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price drop")
		}
		drops = append(drops, d)
	}
	return drops, eris.Wrap(rows.Err(), "postgres: price drops iterate")
}

func (s *PostgresStore) MakeModelStats(ctx context.Context, minCount int) ([]MakeModelStat, error) {
	if minCount <= 0 {
		minCount = 3
	}
	rows, err := s.pool.Query(ctx,
		`SELECT make, model, COUNT(*),
		        AVG(price)::float8, AVG(mileage)::float8, AVG(price_per_mile)
		 FROM listings
		 WHERE status = 'active' AND make IS NOT NULL AND model IS NOT NULL
		 GROUP BY make, model
		 HAVING COUNT(*) >= $1
		 ORDER BY COUNT(*) DESC`,
		minCount,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: make/model stats")
	}
	defer rows.Close()

	var stats []MakeModelStat
	for rows.Next() {
		var st MakeModelStat
		if err := rows.Scan(&st.Make, &st.Model, &st.Count, &st.AvgPrice, &st.AvgMileage, &st.AvgPricePerMile); err != nil {
			return nil, eris.Wrap(err, "postgres: scan make/model stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: make/model stats iterate")
}
