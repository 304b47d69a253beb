package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/saline-motors/truckwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	first_seen_at     DATETIME NOT NULL,
	last_seen_at      DATETIME NOT NULL,
	times_seen        INTEGER NOT NULL DEFAULT 1,
	price_per_mile    REAL
);

CREATE TABLE IF NOT EXISTS price_history (
	listing_id  TEXT NOT NULL REFERENCES listings(id),
	price       INTEGER NOT NULL,
	observed_at DATETIME NOT NULL,
	PRIMARY KEY (listing_id, observed_at)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	run_at      DATETIME NOT NULL,
	found       INTEGER NOT NULL DEFAULT 0,
	new_count   INTEGER NOT NULL DEFAULT 0,
	inactive    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_listings_dedup_hash ON listings(dedup_hash);
CREATE INDEX IF NOT EXISTS idx_listings_source_status ON listings(source, status);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_run_at ON scrape_runs(run_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, table := range []string{"price_history", "scrape_runs", "listings"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: reset %s", table)
		}
	}
	return nil
}

const listingColumns = `id, dedup_hash, source, source_id, url, title, description,
	year, make, model, trim, body_style, drivetrain, transmission, fuel_type,
	condition, title_status, paint_color, seller_type, price, mileage, location,
	region, condition_notes, maintenance_notes, known_issues, service_records,
	seller_notes, status, first_seen_at, last_seen_at, times_seen, price_per_mile`

func listingArgs(l *model.PersistedListing) []any {
	return []any{
		l.ID, l.DedupHash, l.Source, l.SourceID, l.URL, l.Title, nullStr(l.Description),
		nullInt(l.Year), nullStr(l.Make), nullStr(l.Model), nullStr(l.Trim),
		nullStr(l.BodyStyle), nullStr(l.Drivetrain), nullStr(l.Transmission),
		nullStr(l.FuelType), nullStr(l.Condition), nullStr(l.TitleStatus),
		nullStr(l.PaintColor), nullStr(l.SellerType), nullInt(l.Price),
		nullInt(l.Mileage), nullStr(l.Location), nullStr(l.Region),
		nullStr(l.ConditionNotes), nullStr(l.MaintenanceNotes), nullStr(l.KnownIssues),
		nullStr(l.ServiceRecords), nullStr(l.SellerNotes), string(l.Status),
		l.FirstSeenAt, l.LastSeenAt, l.TimesSeen, nullFloat(l.PricePerMile),
	}
}

func (s *SQLiteStore) InsertListing(ctx context.Context, l *model.PersistedListing) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 33), ", ")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (`+listingColumns+`) VALUES (`+placeholders+`)`,
		listingArgs(l)...,
	)
	return eris.Wrapf(err, "sqlite: insert listing %s", l.ID)
}

func (s *SQLiteStore) UpdateListing(ctx context.Context, l *model.PersistedListing) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET
			dedup_hash = ?, description = ?, year = ?, make = ?, model = ?, trim = ?,
			body_style = ?, drivetrain = ?, transmission = ?, fuel_type = ?,
			condition = ?, title_status = ?, paint_color = ?, seller_type = ?,
			price = ?, mileage = ?, location = ?, region = ?, condition_notes = ?,
			maintenance_notes = ?, known_issues = ?, service_records = ?,
			seller_notes = ?, status = ?, last_seen_at = ?, times_seen = ?,
			price_per_mile = ?
		WHERE id = ?`,
		l.DedupHash, nullStr(l.Description), nullInt(l.Year), nullStr(l.Make),
		nullStr(l.Model), nullStr(l.Trim), nullStr(l.BodyStyle), nullStr(l.Drivetrain),
		nullStr(l.Transmission), nullStr(l.FuelType), nullStr(l.Condition),
		nullStr(l.TitleStatus), nullStr(l.PaintColor), nullStr(l.SellerType),
		nullInt(l.Price), nullInt(l.Mileage), nullStr(l.Location), nullStr(l.Region),
		nullStr(l.ConditionNotes), nullStr(l.MaintenanceNotes), nullStr(l.KnownIssues),
		nullStr(l.ServiceRecords), nullStr(l.SellerNotes), string(l.Status),
		l.LastSeenAt, l.TimesSeen, nullFloat(l.PricePerMile), l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update listing %s", l.ID)
	}
	return checkRowsAffected(res, "listing", l.ID)
}

func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*model.PersistedListing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get listing %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) GetByDedupHash(ctx context.Context, hash, excludeID string) ([]model.PersistedListing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		 WHERE dedup_hash = ? AND id != ? AND status = 'active'
		 ORDER BY last_seen_at DESC, id ASC`,
		hash, excludeID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get by dedup hash")
	}
	defer rows.Close()

	var listings []model.PersistedListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dedup candidate")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: dedup candidates iterate")
}

func (s *SQLiteStore) ActiveListings(ctx context.Context, filter ListingFilter) ([]model.PersistedListing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE status = 'active'`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Make != "" {
		query += ` AND make = ?`
		args = append(args, filter.Make)
	}
	query += ` ORDER BY year DESC, mileage ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active listings")
	}
	defer rows.Close()

	var listings []model.PersistedListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: active listings iterate")
}

func (s *SQLiteStore) MarkInactive(ctx context.Context, source string, touched []string) (int, error) {
	query := `UPDATE listings SET status = 'inactive' WHERE source = ? AND status = 'active'`
	args := []any{source}

	if len(touched) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(touched)), ", ")
		query += ` AND id NOT IN (` + placeholders + `)`
		for _, id := range touched {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: mark inactive for %s", source)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) AppendPriceObservation(ctx context.Context, obs model.PriceObservation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (listing_id, price, observed_at) VALUES (?, ?, ?)`,
		obs.ListingID, obs.Price, obs.ObservedAt,
	)
	return eris.Wrapf(err, "sqlite: append price observation for %s", obs.ListingID)
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, listingID string) ([]model.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id, price, observed_at FROM price_history
		 WHERE listing_id = ? ORDER BY observed_at ASC`,
		listingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: price history for %s", listingID)
	}
	defer rows.Close()

	var obs []model.PriceObservation
	for rows.Next() {
		var o model.PriceObservation
		if err := rows.Scan(&o.ListingID, &o.Price, &o.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price observation")
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: price history iterate")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run model.ScrapeRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.RunAt.IsZero() {
		run.RunAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, source, run_at, found, new_count, inactive, duration_ms, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.RunAt, run.Found, run.New, run.Inactive,
		run.Duration.Milliseconds(), string(run.Outcome), nullEmpty(run.Error),
	)
	return eris.Wrapf(err, "sqlite: record run for %s", run.Source)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error) {
	query := `SELECT id, source, run_at, found, new_count, inactive, duration_ms, outcome, error
	          FROM scrape_runs WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY run_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{BySource: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'inactive' THEN 1 ELSE 0 END), 0)
		 FROM listings`,
	).Scan(&stats.Total, &stats.Active, &stats.Inactive)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats counts")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM listings WHERE status = 'active' GROUP BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by source")
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by source iterate")
	}

	var minP, maxP sql.NullInt64
	var avgP sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(price), MAX(price), AVG(price) FROM listings
		 WHERE status = 'active' AND price IS NOT NULL`,
	).Scan(&minP, &maxP, &avgP)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats prices")
	}
	if minP.Valid {
		v := int(minP.Int64)
		stats.MinPrice = &v
	}
	if maxP.Valid {
		v := int(maxP.Int64)
		stats.MaxPrice = &v
	}
	if avgP.Valid {
		stats.AvgPrice = &avgP.Float64
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

func (s *SQLiteStore) BestDeals(ctx context.Context, limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, year, make, model, price, mileage, price_per_mile, location, url
		 FROM listings
		 WHERE status = 'active' AND price_per_mile IS NOT NULL AND mileage > 0
		 ORDER BY price_per_mile ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: best deals")
	}
	defer rows.Close()

	var deals []Deal
	for rows.Next() {
		var d Deal
		var year sql.NullInt64
		var mk, mdl, loc sql.NullString
		if err := rows.Scan(&d.ID, &year, &mk, &mdl, &d.Price, &d.Mileage, &d.PricePerMile, &loc, &d.URL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		d.Year = fromNullInt(year)
		d.Make = fromNullStr(mk)
		d.Model = fromNullStr(mdl)
		d.Location = fromNullStr(loc)
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: best deals iterate")
}

func (s *SQLiteStore) PriceDrops(ctx context.Context, limit int) ([]PriceDrop, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.year, l.make, l.model, l.location,
		        ph.price, l.price, ph.price - l.price, ph.observed_at, l.url
		 FROM listings l
		 JOIN price_history ph ON ph.listing_id = l.id
		  AND ph.observed_at = (
		      SELECT MAX(observed_at) FROM price_history WHERE listing_id = l.id
		  )
		 WHERE l.status = 'active' AND l.price IS NOT NULL AND ph.price > l.price
		 ORDER BY ph.price - l.price DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: price drops")
	}
	defer rows.Close()

	var drops []PriceDrop
	for rows.Next() {
		var d PriceDrop
		var year sql.NullInt64
		var mk, mdl, loc sql.NullString
		if err := rows.Scan(&d.ID, &year, &mk, &mdl, &loc, &d.OldPrice, &d.CurrentPrice, &d.Savings, &d.ObservedAt, &d.URL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price drop")
		}
		d.Year = fromNullInt(year)
		d.Make = fromNullStr(mk)
		d.Model = fromNullStr(mdl)
		d.Location = fromNullStr(loc)
		drops = append(drops, d)
	}
	return drops, eris.Wrap(rows.Err(), "sqlite: price drops iterate")
}

func (s *SQLiteStore) MakeModelStats(ctx context.Context, minCount int) ([]MakeModelStat, error) {
	if minCount <= 0 {
		minCount = 3
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT make, model, COUNT(*) AS count,
		        AVG(price), AVG(mileage), AVG(price_per_mile)
		 FROM listings
		 WHERE status = 'active' AND make IS NOT NULL AND model IS NOT NULL
		 GROUP BY make, model
		 HAVING count >= ?
		 ORDER BY count DESC`,
		minCount,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: make/model stats")
	}
	defer rows.Close()

	var stats []MakeModelStat
	for rows.Next() {
		var st MakeModelStat
		var avgP, avgM, avgPPM sql.NullFloat64
		if err := rows.Scan(&st.Make, &st.Model, &st.Count, &avgP, &avgM, &avgPPM); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan make/model stat")
		}
		st.AvgPrice = fromNullFloat(avgP)
		st.AvgMileage = fromNullFloat(avgM)
		st.AvgPricePerMile = fromNullFloat(avgPPM)
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: make/model stats iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*model.PersistedListing, error) {
	var l model.PersistedListing
	var (
		desc, mk, mdl, trim, body, drive, trans, fuel sql.NullString
		cond, titleStatus, paint, seller, loc, region sql.NullString
		condNotes, maintNotes, issues, service, notes sql.NullString
		year, price, mileage                          sql.NullInt64
		ppm                                           sql.NullFloat64
		status                                        string
	)

	err := row.Scan(
		&l.ID, &l.DedupHash, &l.Source, &l.SourceID, &l.URL, &l.Title, &desc,
		&year, &mk, &mdl, &trim, &body, &drive, &trans, &fuel,
		&cond, &titleStatus, &paint, &seller, &price, &mileage, &loc,
		&region, &condNotes, &maintNotes, &issues, &service,
		&notes, &status, &l.FirstSeenAt, &l.LastSeenAt, &l.TimesSeen, &ppm,
	)
	if err != nil {
		return nil, err
	}

	l.Description = fromNullStr(desc)
	l.Year = fromNullInt(year)
	l.Make = fromNullStr(mk)
	l.Model = fromNullStr(mdl)
	l.Trim = fromNullStr(trim)
	l.BodyStyle = fromNullStr(body)
	l.Drivetrain = fromNullStr(drive)
	l.Transmission = fromNullStr(trans)
	l.FuelType = fromNullStr(fuel)
	l.Condition = fromNullStr(cond)
	l.TitleStatus = fromNullStr(titleStatus)
	l.PaintColor = fromNullStr(paint)
	l.SellerType = fromNullStr(seller)
	l.Price = fromNullInt(price)
	l.Mileage = fromNullInt(mileage)
	l.Location = fromNullStr(loc)
	l.Region = fromNullStr(region)
	l.ConditionNotes = fromNullStr(condNotes)
	l.MaintenanceNotes = fromNullStr(maintNotes)
	l.KnownIssues = fromNullStr(issues)
	l.ServiceRecords = fromNullStr(service)
	l.SellerNotes = fromNullStr(notes)
	l.Status = model.ListingStatus(status)
	l.PricePerMile = fromNullFloat(ppm)

	return &l, nil
}

func scanRun(row scannable) (*model.ScrapeRun, error) {
	var r model.ScrapeRun
	var durationMS int64
	var outcome string
	var errMsg sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.RunAt, &r.Found, &r.New, &r.Inactive, &durationMS, &outcome, &errMsg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Outcome = model.RunOutcome(outcome)
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fromNullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
