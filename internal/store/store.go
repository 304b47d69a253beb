package store

import (
	"context"
	"time"

	"github.com/saline-motors/truckwatch/internal/model"
)

// RunFilter specifies criteria for listing scrape runs.
type RunFilter struct {
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ListingFilter narrows ActiveListings results.
type ListingFilter struct {
	Source string `json:"source,omitempty"`
	Make   string `json:"make,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// DBStats summarizes the current state of the listings table.
type DBStats struct {
	Total    int              `json:"total"`
	Active   int              `json:"active"`
	Inactive int              `json:"inactive"`
	BySource map[string]int   `json:"by_source"`
	MinPrice *int             `json:"min_price,omitempty"`
	MaxPrice *int             `json:"max_price,omitempty"`
	AvgPrice *float64         `json:"avg_price,omitempty"`
	LastRun  *model.ScrapeRun `json:"last_run,omitempty"`
}

// Deal is a listing ranked by price per mile.
type Deal struct {
	ID           string  `json:"id"`
	Year         *int    `json:"year,omitempty"`
	Make         *string `json:"make,omitempty"`
	Model        *string `json:"model,omitempty"`
	Price        int     `json:"price"`
	Mileage      int     `json:"mileage"`
	PricePerMile float64 `json:"price_per_mile"`
	Location     *string `json:"location,omitempty"`
	URL          string  `json:"url"`
}

// PriceDrop pairs a listing's current price with its last recorded one.
type PriceDrop struct {
	ID           string    `json:"id"`
	Year         *int      `json:"year,omitempty"`
	Make         *string   `json:"make,omitempty"`
	Model        *string   `json:"model,omitempty"`
	Location     *string   `json:"location,omitempty"`
	OldPrice     int       `json:"old_price"`
	CurrentPrice int       `json:"current_price"`
	Savings      int       `json:"savings"`
	ObservedAt   time.Time `json:"observed_at"`
	URL          string    `json:"url"`
}

// MakeModelStat aggregates active listings by make and model.
type MakeModelStat struct {
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	Count           int      `json:"count"`
	AvgPrice        *float64 `json:"avg_price,omitempty"`
	AvgMileage      *float64 `json:"avg_mileage,omitempty"`
	AvgPricePerMile *float64 `json:"avg_price_per_mile,omitempty"`
}

// Store defines the persistence contract for the merge engine, driver, and
// reporting commands. Listings are keyed by id; price_history and
// scrape_runs are append-only.
type Store interface {
	// Listings
	GetListing(ctx context.Context, id string) (*model.PersistedListing, error)
	// GetByDedupHash returns active listings sharing the hash, excluding
	// excludeID, ordered by last_seen_at descending then id ascending.
	GetByDedupHash(ctx context.Context, hash, excludeID string) ([]model.PersistedListing, error)
	InsertListing(ctx context.Context, l *model.PersistedListing) error
	UpdateListing(ctx context.Context, l *model.PersistedListing) error
	ActiveListings(ctx context.Context, filter ListingFilter) ([]model.PersistedListing, error)
	// MarkInactive flips active listings of the source whose ids are not in
	// touched to inactive, returning the number affected.
	MarkInactive(ctx context.Context, source string, touched []string) (int, error)

	// Price history
	AppendPriceObservation(ctx context.Context, obs model.PriceObservation) error
	PriceHistory(ctx context.Context, listingID string) ([]model.PriceObservation, error)

	// Run log
	RecordRun(ctx context.Context, run model.ScrapeRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error)

	// Reporting
	Stats(ctx context.Context) (*DBStats, error)
	BestDeals(ctx context.Context, limit int) ([]Deal, error)
	PriceDrops(ctx context.Context, limit int) ([]PriceDrop, error)
	MakeModelStats(ctx context.Context, minCount int) ([]MakeModelStat, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	// Reset clears all entities, price history, and run logs. Explicit
	// operator action; the only way listings are ever deleted.
	Reset(ctx context.Context) error
	Close() error
}
