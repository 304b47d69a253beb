package model

import (
	"fmt"
	"time"
)

// ListingStatus represents whether a listing is still observable at its source.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusInactive ListingStatus = "inactive"
)

// RawListing is a candidate record as produced by a source adapter, before
// normalization. Optional fields are pointers so that "absent" is distinct
// from zero values; an empty string never stands in for a missing field.
type RawListing struct {
	Source      string  `json:"source"`
	SourceID    string  `json:"source_id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Price       *int    `json:"price,omitempty"`
	Year        *int    `json:"year,omitempty"`
	Mileage     *int    `json:"mileage,omitempty"`
	Location    *string `json:"location,omitempty"`
	Region      *string `json:"region,omitempty"`
	Description *string `json:"description,omitempty"`

	// Detail-page attributes, when the adapter fetched them.
	Drivetrain   *string `json:"drivetrain,omitempty"`
	Transmission *string `json:"transmission,omitempty"`
	FuelType     *string `json:"fuel_type,omitempty"`
	Condition    *string `json:"condition,omitempty"`
	TitleStatus  *string `json:"title_status,omitempty"`
	PaintColor   *string `json:"paint_color,omitempty"`
	BodyStyle    *string `json:"body_style,omitempty"`
	SellerType   *string `json:"seller_type,omitempty"`
}

// VehicleListing is the normalized, pre-persistence record shape shared by
// all sources. Fields the normalizer could not derive are nil.
type VehicleListing struct {
	Source      string  `json:"source"`
	SourceID    string  `json:"source_id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`

	Year         *int    `json:"year,omitempty"`
	Make         *string `json:"make,omitempty"`
	Model        *string `json:"model,omitempty"`
	Trim         *string `json:"trim,omitempty"`
	BodyStyle    *string `json:"body_style,omitempty"`
	Drivetrain   *string `json:"drivetrain,omitempty"`
	Transmission *string `json:"transmission,omitempty"`
	FuelType     *string `json:"fuel_type,omitempty"`
	Condition    *string `json:"condition,omitempty"`
	TitleStatus  *string `json:"title_status,omitempty"`
	PaintColor   *string `json:"paint_color,omitempty"`
	SellerType   *string `json:"seller_type,omitempty"`

	Price    *int    `json:"price,omitempty"`
	Mileage  *int    `json:"mileage,omitempty"`
	Location *string `json:"location,omitempty"`
	Region   *string `json:"region,omitempty"`

	// Derived descriptive tags from keyword classification of Description.
	ConditionNotes   *string `json:"condition_notes,omitempty"`
	MaintenanceNotes *string `json:"maintenance_notes,omitempty"`
	KnownIssues      *string `json:"known_issues,omitempty"`
	ServiceRecords   *string `json:"service_records,omitempty"`
	SellerNotes      *string `json:"seller_notes,omitempty"`
}

// ID returns the within-source identity for this listing.
func (l VehicleListing) ID() string {
	return fmt.Sprintf("%s:%s", l.Source, l.SourceID)
}

// PersistedListing is a VehicleListing as stored, plus lifecycle fields.
// One PersistedListing represents one real-world vehicle-for-sale, possibly
// observed via multiple postings across sources and regions.
type PersistedListing struct {
	ID        string `json:"id"`
	DedupHash string `json:"dedup_hash"`

	VehicleListing

	Status       ListingStatus `json:"status"`
	FirstSeenAt  time.Time     `json:"first_seen_at"`
	LastSeenAt   time.Time     `json:"last_seen_at"`
	TimesSeen    int           `json:"times_seen"`
	PricePerMile *float64      `json:"price_per_mile,omitempty"`
}

// ComputePricePerMile derives price/mileage when both are present and
// mileage is positive, else nil.
func ComputePricePerMile(price, mileage *int) *float64 {
	if price == nil || mileage == nil || *mileage <= 0 {
		return nil
	}
	ppm := float64(*price) / float64(*mileage)
	return &ppm
}

// PriceObservation is one append-only row of a listing's price timeline.
// Price holds the value that was stored at the moment a change was detected,
// i.e. the pre-update snapshot.
type PriceObservation struct {
	ListingID  string    `json:"listing_id"`
	Price      int       `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// RunOutcome describes how a per-source scrape attempt ended.
type RunOutcome string

const (
	RunSuccess RunOutcome = "success"
	RunFailed  RunOutcome = "failed"
)

// ScrapeRun is one row of the append-only run log.
type ScrapeRun struct {
	ID       string        `json:"id"`
	Source   string        `json:"source"`
	RunAt    time.Time     `json:"run_at"`
	Found    int           `json:"found"`
	New      int           `json:"new"`
	Inactive int           `json:"inactive"`
	Duration time.Duration `json:"duration"`
	Outcome  RunOutcome    `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}

// SourceStats summarizes one source's portion of a run.
type SourceStats struct {
	Found    int    `json:"found"`
	New      int    `json:"new"`
	Inactive int    `json:"inactive"`
	Error    string `json:"error,omitempty"`
}

// RunStats is the driver's summary of a full run across all adapters.
type RunStats struct {
	Found    int                    `json:"found"`
	New      int                    `json:"new"`
	Inactive int                    `json:"inactive"`
	BySource map[string]SourceStats `json:"by_source"`
}
