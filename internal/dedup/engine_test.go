package dedup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/normalize"
	"github.com/saline-motors/truckwatch/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewEngine(s), s
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func fordF150(source, sourceID string) model.VehicleListing {
	return model.VehicleListing{
		Source:   source,
		SourceID: sourceID,
		URL:      "https://example.org/" + sourceID,
		Title:    "2020 Ford F-150 XLT",
		Year:     intp(2020),
		Make:     strp("Ford"),
		Model:    strp("F-150"),
		Price:    intp(25000),
		Mileage:  intp(60000),
		Location: strp("detroit"),
	}
}

func TestUpsertInsertsNew(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()
	isNew, id, err := e.Upsert(ctx, rc, fordF150("craigslist", "111"), now)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "craigslist:111", id)

	got, err := s.GetListing(ctx, "craigslist:111")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.TimesSeen)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, now, got.FirstSeenAt.UTC())
	assert.Equal(t, now, got.LastSeenAt.UTC())
	require.NotNil(t, got.PricePerMile)
	assert.InDelta(t, 25000.0/60000.0, *got.PricePerMile, 0.0001)

	// No price history on insert; observations only record changes.
	history, err := s.PriceHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUpsertIdempotentAcrossRuns(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	l := fordF150("craigslist", "111")

	rc1 := NewRunContext()
	_, _, err := e.Upsert(ctx, rc1, l, base)
	require.NoError(t, err)

	rc2 := NewRunContext()
	isNew, id, err := e.Upsert(ctx, rc2, l, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "craigslist:111", id)

	got, err := s.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TimesSeen)
	assert.Equal(t, 25000, *got.Price)
	assert.Equal(t, base, got.FirstSeenAt.UTC())
	assert.Equal(t, base.Add(time.Hour), got.LastSeenAt.UTC())

	history, err := s.PriceHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history, "unchanged price leaves no observation")
}

func TestUpsertExactIDStability(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()
	_, _, err := e.Upsert(ctx, rc, fordF150("craigslist", "111"), now)
	require.NoError(t, err)

	varied := fordF150("craigslist", "111")
	varied.Title = "2020 Ford F-150 XLT  "
	varied.Price = intp(50)

	rc2 := NewRunContext()
	isNew, id, err := e.Upsert(ctx, rc2, varied, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, isNew, "same source id always merges regardless of text or price")
	assert.Equal(t, "craigslist:111", id)

	all, err := s.ActiveListings(ctx, store.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertFuzzyCrossSourceMatch(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()
	_, _, err := e.Upsert(ctx, rc, fordF150("craigslist", "111"), now)
	require.NoError(t, err)

	other := fordF150("facebook", "999")
	other.Price = intp(25040) // rounds to the same hundred
	isNew, id, err := e.Upsert(ctx, rc, other, now)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "craigslist:111", id, "first writer's id retained")

	got, err := s.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TimesSeen)

	all, err := s.ActiveListings(ctx, store.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertDivergentPriceNoMatch(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()
	_, _, err := e.Upsert(ctx, rc, fordF150("craigslist", "111"), now)
	require.NoError(t, err)

	other := fordF150("facebook", "999")
	other.Price = intp(23000)
	isNew, id, err := e.Upsert(ctx, rc, other, now)
	require.NoError(t, err)
	assert.True(t, isNew, "price outside rounding window is a different entity")
	assert.Equal(t, "facebook:999", id)

	all, err := s.ActiveListings(ctx, store.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpsertUnmatchableSkipsFuzzy(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := fordF150("craigslist", "111")
	first.Make = nil
	first.Model = nil
	rc := NewRunContext()
	_, _, err := e.Upsert(ctx, rc, first, now)
	require.NoError(t, err)

	second := fordF150("facebook", "999")
	second.Make = nil
	second.Model = nil
	isNew, _, err := e.Upsert(ctx, rc, second, now)
	require.NoError(t, err)
	assert.True(t, isNew, "listings without make/model only match their own id")

	all, err := s.ActiveListings(ctx, store.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMergeFirstWriterWinsExceptPrice(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	first := fordF150("craigslist", "111")
	first.Mileage = nil
	first.Location = strp("detroit")
	rc1 := NewRunContext()
	_, _, err := e.Upsert(ctx, rc1, first, base)
	require.NoError(t, err)

	second := fordF150("craigslist", "111")
	second.Price = intp(24000)
	second.Mileage = intp(70000)
	second.Location = strp("ann arbor")
	second.Condition = strp("good")
	rc2 := NewRunContext()
	_, _, err = e.Upsert(ctx, rc2, second, base.Add(time.Hour))
	require.NoError(t, err)

	got, err := s.GetListing(ctx, "craigslist:111")
	require.NoError(t, err)
	assert.Equal(t, 24000, *got.Price, "price is last-writer-wins")
	assert.Equal(t, 70000, *got.Mileage, "absent field filled in")
	assert.Equal(t, "detroit", *got.Location, "present field never overwritten")
	assert.Equal(t, "good", *got.Condition)
	require.NotNil(t, got.PricePerMile)
	assert.InDelta(t, 24000.0/70000.0, *got.PricePerMile, 0.0001)

	history, err := s.PriceHistory(ctx, "craigslist:111")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 25000, history[0].Price, "observation holds the replaced price")
	assert.Equal(t, base, history[0].ObservedAt.UTC(), "stamped with the previous last_seen_at")
}

func TestMergeNilStoredPriceNoObservation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := fordF150("craigslist", "111")
	first.Price = nil
	rc := NewRunContext()
	_, _, err := e.Upsert(ctx, rc, first, now)
	require.NoError(t, err)

	second := fordF150("craigslist", "111")
	rc2 := NewRunContext()
	_, _, err = e.Upsert(ctx, rc2, second, now.Add(time.Hour))
	require.NoError(t, err)

	got, err := s.GetListing(ctx, "craigslist:111")
	require.NoError(t, err)
	assert.Equal(t, 25000, *got.Price)

	history, err := s.PriceHistory(ctx, "craigslist:111")
	require.NoError(t, err)
	assert.Empty(t, history, "filling an absent price is not a change")
}

func TestTimesSeenCappedPerRun(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()
	for i := 0; i < 3; i++ {
		_, _, err := e.Upsert(ctx, rc, fordF150("craigslist", "111"), now)
		require.NoError(t, err)
	}

	got, err := s.GetListing(ctx, "craigslist:111")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TimesSeen, "the insert plus at most one merge increment per run")
}

func TestInactivationCycle(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// Run 1: both listings observed.
	rc1 := NewRunContext()
	_, _, err := e.Upsert(ctx, rc1, fordF150("craigslist", "111"), base)
	require.NoError(t, err)
	silverado := fordF150("craigslist", "222")
	silverado.Model = strp("Silverado 1500")
	silverado.Make = strp("Chevrolet")
	_, _, err = e.Upsert(ctx, rc1, silverado, base)
	require.NoError(t, err)

	// Run 2: only 222 reappears; 111 goes inactive.
	rc2 := NewRunContext()
	_, _, err = e.Upsert(ctx, rc2, silverado, base.Add(time.Hour))
	require.NoError(t, err)
	n, err := s.MarkInactive(ctx, "craigslist", rc2.Touched())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gone, err := s.GetListing(ctx, "craigslist:111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, gone.Status)

	// Run 3: 111 reappears and reactivates.
	rc3 := NewRunContext()
	isNew, id, err := e.Upsert(ctx, rc3, fordF150("craigslist", "111"), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, isNew, "exact id matches even while inactive")
	assert.Equal(t, "craigslist:111", id)

	back, err := s.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, back.Status)
	assert.Equal(t, 2, back.TimesSeen, "observed in runs 1 and 3")
}

func TestFuzzyMatchIgnoresInactive(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc1 := NewRunContext()
	_, _, err := e.Upsert(ctx, rc1, fordF150("craigslist", "111"), now)
	require.NoError(t, err)
	_, err = s.MarkInactive(ctx, "craigslist", nil)
	require.NoError(t, err)

	rc2 := NewRunContext()
	isNew, id, err := e.Upsert(ctx, rc2, fordF150("facebook", "999"), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, isNew, "inactive entities never fuzzy-match")
	assert.Equal(t, "facebook:999", id)
}

func TestFuzzyPicksMostRecentCandidate(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// Two entities sharing a hash can only arise from partial records
	// whose gaps were filled later; seed them directly.
	hash := Hash(fordF150("craigslist", "111"))
	older := &model.PersistedListing{
		ID:             "craigslist:111",
		DedupHash:      hash,
		VehicleListing: fordF150("craigslist", "111"),
		Status:         model.StatusActive,
		FirstSeenAt:    base.Add(-2 * time.Hour),
		LastSeenAt:     base.Add(-2 * time.Hour),
		TimesSeen:      1,
	}
	require.NoError(t, s.InsertListing(ctx, older))
	newer := &model.PersistedListing{
		ID:             "craigslist:222",
		DedupHash:      hash,
		VehicleListing: fordF150("craigslist", "222"),
		Status:         model.StatusActive,
		FirstSeenAt:    base.Add(-time.Hour),
		LastSeenAt:     base.Add(-time.Hour),
		TimesSeen:      1,
	}
	require.NoError(t, s.InsertListing(ctx, newer))

	rc := NewRunContext()
	isNew, id, err := e.Upsert(ctx, rc, fordF150("facebook", "999"), base)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "craigslist:222", id, "most recently seen candidate wins")
}

func TestEndToEndScenario(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()

	raw1 := model.RawListing{
		Source: "craigslist", SourceID: "111",
		URL: "https://example.org/111", Title: "2020 Ford F150",
		Price: intp(25000), Location: strp("Detroit"),
	}
	isNew, id, err := e.Upsert(ctx, rc, normalize.Normalize(raw1), now)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "craigslist:111", id)

	raw2 := model.RawListing{
		Source: "facebook", SourceID: "999",
		URL: "https://example.org/999", Title: "2020 Ford F-150",
		Price: intp(25000), Location: strp("Detroit, MI"),
	}
	isNew, id, err = e.Upsert(ctx, rc, normalize.Normalize(raw2), now)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "craigslist:111", id, "first writer's id retained")

	got, err := s.GetListing(ctx, "craigslist:111")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TimesSeen)

	all, err := s.ActiveListings(ctx, store.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunContextTouchAndCount(t *testing.T) {
	rc := NewRunContext()
	rc.Touch("a")
	rc.Touch("a")
	rc.Touch("b")
	assert.Equal(t, []string{"a", "b"}, rc.Touched())

	assert.True(t, rc.Count("a"), "first merge of a run may increment")
	assert.False(t, rc.Count("a"), "later merges are capped")
	assert.True(t, rc.Count("b"), "counting is per entity")
}

func TestUpsertInsertThenMatchSameRun(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rc := NewRunContext()
	isNew, _, err := e.Upsert(ctx, rc, fordF150("craigslist", "111"), now)
	require.NoError(t, err)
	require.True(t, isNew)

	// The same vehicle surfaces on another source later in the same run:
	// the insert must not have consumed the run's merge increment.
	isNew, id, err := e.Upsert(ctx, rc, fordF150("facebook", "999"), now)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "craigslist:111", id)

	got, err := s.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TimesSeen)
}
