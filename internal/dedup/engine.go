// Package dedup decides whether an incoming normalized listing is a new
// vehicle or a re-observation of one already persisted, and merges it
// accordingly.
package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/store"
)

// Engine matches incoming listings against the store and merges them.
// Listings are upserted one at a time; the engine holds no state of its
// own beyond the store handle, so re-running the same input converges to
// the same store contents.
type Engine struct {
	store store.Store
	log   *zap.Logger
}

func NewEngine(st store.Store) *Engine {
	return &Engine{
		store: st,
		log:   zap.L().Named("dedup"),
	}
}

// RunContext tracks which entity ids were observed during a single run.
// The touched set feeds end-of-run inactivation; the counted set caps
// times_seen at one merge increment per run, independent of the insert
// that may have created the entity moments earlier in the same run.
// Discard it when the run ends.
type RunContext struct {
	touched map[string]struct{}
	counted map[string]struct{}
	order   []string
}

func NewRunContext() *RunContext {
	return &RunContext{
		touched: make(map[string]struct{}),
		counted: make(map[string]struct{}),
	}
}

// Touch records id as seen this run, keeping it out of end-of-run
// inactivation.
func (rc *RunContext) Touch(id string) {
	if _, ok := rc.touched[id]; ok {
		return
	}
	rc.touched[id] = struct{}{}
	rc.order = append(rc.order, id)
}

// Count reports whether a merge into id may still increment times_seen
// this run, and consumes the slot.
func (rc *RunContext) Count(id string) bool {
	if _, ok := rc.counted[id]; ok {
		return false
	}
	rc.counted[id] = struct{}{}
	return true
}

// Touched returns the touched ids in first-touch order.
func (rc *RunContext) Touched() []string {
	out := make([]string, len(rc.order))
	copy(out, rc.order)
	return out
}

// Upsert inserts or merges one normalized listing. It reports whether a
// new entity was created and the id of the entity the listing landed on.
//
// Match order: exact id first, then the fuzzy dedup hash across active
// entities. Fuzzy matching requires year, make, and model; listings
// missing those only ever match their own source id. When several
// entities share the hash the most recently seen wins, ties broken by
// lowest id.
func (e *Engine) Upsert(ctx context.Context, rc *RunContext, incoming model.VehicleListing, now time.Time) (bool, string, error) {
	id := incoming.ID()

	existing, err := e.store.GetListing(ctx, id)
	if err != nil {
		return false, "", eris.Wrapf(err, "dedup: lookup %s", id)
	}

	if existing == nil && Matchable(incoming) {
		candidates, err := e.store.GetByDedupHash(ctx, Hash(incoming), id)
		if err != nil {
			return false, "", eris.Wrapf(err, "dedup: fuzzy lookup %s", id)
		}
		if len(candidates) > 0 {
			existing = &candidates[0]
			e.log.Debug("fuzzy match",
				zap.String("incoming", id),
				zap.String("matched", existing.ID))
		}
	}

	if existing == nil {
		fresh := &model.PersistedListing{
			ID:             id,
			DedupHash:      Hash(incoming),
			VehicleListing: incoming,
			Status:         model.StatusActive,
			FirstSeenAt:    now,
			LastSeenAt:     now,
			TimesSeen:      1,
			PricePerMile:   model.ComputePricePerMile(incoming.Price, incoming.Mileage),
		}
		if err := e.store.InsertListing(ctx, fresh); err != nil {
			return false, "", eris.Wrapf(err, "dedup: insert %s", id)
		}
		rc.Touch(id)
		return true, id, nil
	}

	obs := mergeListing(existing, incoming, now)
	rc.Touch(existing.ID)
	if rc.Count(existing.ID) {
		existing.TimesSeen++
	}

	if obs != nil {
		if err := e.store.AppendPriceObservation(ctx, *obs); err != nil {
			return false, "", eris.Wrapf(err, "dedup: price observation %s", existing.ID)
		}
	}
	if err := e.store.UpdateListing(ctx, existing); err != nil {
		return false, "", eris.Wrapf(err, "dedup: update %s", existing.ID)
	}
	return false, existing.ID, nil
}

// mergeListing folds incoming into the stored entity. Non-price fields
// are first-writer-wins: a present stored value is never overwritten.
// Price is last-writer-wins; when it changes, the previous price is
// returned as an observation stamped with the entity's previous
// last_seen_at.
func mergeListing(existing *model.PersistedListing, incoming model.VehicleListing, now time.Time) *model.PriceObservation {
	var obs *model.PriceObservation
	if incoming.Price != nil {
		if existing.Price != nil && *existing.Price != *incoming.Price {
			obs = &model.PriceObservation{
				ListingID:  existing.ID,
				Price:      *existing.Price,
				ObservedAt: existing.LastSeenAt,
			}
		}
		existing.Price = incoming.Price
	}

	fillInt(&existing.Year, incoming.Year)
	fillInt(&existing.Mileage, incoming.Mileage)
	fillStr(&existing.Make, incoming.Make)
	fillStr(&existing.Model, incoming.Model)
	fillStr(&existing.Trim, incoming.Trim)
	fillStr(&existing.BodyStyle, incoming.BodyStyle)
	fillStr(&existing.Drivetrain, incoming.Drivetrain)
	fillStr(&existing.Transmission, incoming.Transmission)
	fillStr(&existing.FuelType, incoming.FuelType)
	fillStr(&existing.Condition, incoming.Condition)
	fillStr(&existing.TitleStatus, incoming.TitleStatus)
	fillStr(&existing.PaintColor, incoming.PaintColor)
	fillStr(&existing.SellerType, incoming.SellerType)
	fillStr(&existing.Location, incoming.Location)
	fillStr(&existing.Region, incoming.Region)
	fillStr(&existing.Description, incoming.Description)
	fillStr(&existing.ConditionNotes, incoming.ConditionNotes)
	fillStr(&existing.MaintenanceNotes, incoming.MaintenanceNotes)
	fillStr(&existing.KnownIssues, incoming.KnownIssues)
	fillStr(&existing.ServiceRecords, incoming.ServiceRecords)
	fillStr(&existing.SellerNotes, incoming.SellerNotes)

	existing.Status = model.StatusActive
	existing.LastSeenAt = now
	existing.PricePerMile = model.ComputePricePerMile(existing.Price, existing.Mileage)
	existing.DedupHash = Hash(existing.VehicleListing)
	return obs
}

func fillStr(dst **string, src *string) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

func fillInt(dst **int, src *int) {
	if *dst == nil && src != nil {
		*dst = src
	}
}
