package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/store"
)

func TestFormatDeals(t *testing.T) {
	var buf bytes.Buffer
	formatDeals(&buf, []store.Deal{
		{
			ID:           "craigslist:100",
			Year:         intp(2016),
			Make:         strp("Toyota"),
			Model:        strp("Tacoma"),
			Price:        15500,
			Mileage:      110000,
			PricePerMile: 0.1409,
			Location:     strp("lansing"),
			URL:          "https://lansing.craigslist.org/cto/100.html",
		},
		{
			ID:           "facebook:200",
			Price:        8000,
			Mileage:      160000,
			PricePerMile: 0.05,
			URL:          "https://www.facebook.com/marketplace/item/200",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "2016 Toyota Tacoma")
	assert.Contains(t, out, "$15500")
	assert.Contains(t, out, "0.141")
	// Unknown vehicle parts render as dashes.
	assert.Contains(t, out, "---- - -")
}

func TestFormatDrops(t *testing.T) {
	var buf bytes.Buffer
	formatDrops(&buf, []store.PriceDrop{
		{
			ID:           "craigslist:100",
			Year:         intp(2018),
			Make:         strp("Ram"),
			Model:        strp("1500"),
			OldPrice:     23000,
			CurrentPrice: 21000,
			Savings:      2000,
			ObservedAt:   time.Now(),
			URL:          "https://detroit.craigslist.org/cto/100.html",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "2018 Ram 1500")
	assert.Contains(t, out, "$23000")
	assert.Contains(t, out, "$21000")
	assert.Contains(t, out, "$2000")
}

func TestFormatModels(t *testing.T) {
	avgPrice := 19500.0
	var buf bytes.Buffer
	formatModels(&buf, []store.MakeModelStat{
		{Make: "Ford", Model: "F-150", Count: 7, AvgPrice: &avgPrice},
	})

	out := buf.String()
	assert.Contains(t, out, "Ford")
	assert.Contains(t, out, "F-150")
	assert.Contains(t, out, "$19500")
	// Missing aggregates render as dashes.
	assert.Contains(t, out, "-")
}

func TestFormatRuns(t *testing.T) {
	var buf bytes.Buffer
	formatRuns(&buf, []model.ScrapeRun{
		{
			ID:       "0e1f2a3b-4c5d-6e7f-8091-a2b3c4d5e6f7",
			Source:   "craigslist",
			RunAt:    time.Date(2026, 8, 27, 6, 30, 0, 0, time.UTC),
			Found:    42,
			New:      5,
			Inactive: 2,
			Duration: 93 * time.Second,
			Outcome:  model.RunSuccess,
		},
		{
			ID:      "ffffffff-0000-1111-2222-333333333333",
			Source:  "facebook",
			RunAt:   time.Date(2026, 8, 27, 6, 32, 0, 0, time.UTC),
			Outcome: model.RunFailed,
			Error:   "no snapshots in snapshots",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "0e1f2a3b")
	assert.NotContains(t, out, "0e1f2a3b-4c5d")
	assert.Contains(t, out, "2026-08-27 06:30")
	assert.Contains(t, out, "failed: no snapshots")
}

func TestFormatStats(t *testing.T) {
	minP, maxP := 4500, 38000
	avg := 17250.5
	var buf bytes.Buffer
	formatStats(&buf, &store.DBStats{
		Total:    12,
		Active:   9,
		Inactive: 3,
		BySource: map[string]int{"craigslist": 10, "facebook": 2},
		MinPrice: &minP,
		MaxPrice: &maxP,
		AvgPrice: &avg,
		LastRun: &model.ScrapeRun{
			Source: "craigslist",
			RunAt:  time.Date(2026, 8, 27, 6, 30, 0, 0, time.UTC),
			Found:  42,
			New:    5,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Total listings:")
	assert.Contains(t, out, "craigslist:")
	assert.Contains(t, out, "$4500 - $38000")
	assert.Contains(t, out, "$17250")
	assert.Contains(t, out, "found 42, new 5")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefgh-1234"))
	assert.Equal(t, "short", truncateID("short"))
}
