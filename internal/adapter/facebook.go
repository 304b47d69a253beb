package adapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/normalize"
)

// Facebook ingests marketplace listings from snapshot files captured by a
// logged-in browser session. Marketplace has no scrapeable static markup,
// so an external capture step dumps the visible result cards to JSON and
// this adapter parses the dumps.
type Facebook struct {
	snapshotDir string
	log         *zap.Logger
}

func NewFacebook(snapshotDir string) *Facebook {
	return &Facebook{
		snapshotDir: snapshotDir,
		log:         zap.L().Named("facebook"),
	}
}

func (a *Facebook) Name() string { return "facebook" }

// snapshotEntry mirrors one result card from a captured marketplace page.
type snapshotEntry struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Mileage  string `json:"mileage"`
	Location string `json:"location"`
	URL      string `json:"url"`
}

var marketplaceItemRe = regexp.MustCompile(`/marketplace/item/(\d+)`)

// Fetch reads every .json snapshot in the configured directory in name
// order; duplicates across snapshots keep the first occurrence.
func (a *Facebook) Fetch(ctx context.Context) ([]model.RawListing, error) {
	entries, err := os.ReadDir(a.snapshotDir)
	if err != nil {
		return nil, eris.Wrapf(err, "facebook: read snapshot dir %s", a.snapshotDir)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, eris.Errorf("facebook: no snapshots in %s", a.snapshotDir)
	}

	seen := make(map[string]struct{})
	var all []model.RawListing
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listings, err := a.parseSnapshot(filepath.Join(a.snapshotDir, name))
		if err != nil {
			a.log.Warn("snapshot skipped", zap.String("file", name), zap.Error(err))
			continue
		}
		for _, l := range listings {
			if _, ok := seen[l.SourceID]; ok {
				continue
			}
			seen[l.SourceID] = struct{}{}
			all = append(all, l)
		}
	}

	a.log.Info("facebook fetch complete",
		zap.Int("snapshots", len(files)),
		zap.Int("listings", len(all)),
	)
	return all, nil
}

func (a *Facebook) parseSnapshot(path string) ([]model.RawListing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "facebook: read snapshot")
	}

	var raw []snapshotEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "facebook: parse snapshot")
	}

	var listings []model.RawListing
	for _, e := range raw {
		m := marketplaceItemRe.FindStringSubmatch(e.URL)
		if e.Title == "" || m == nil {
			continue
		}

		l := model.RawListing{
			Source:   "facebook",
			SourceID: m[1],
			URL:      absoluteMarketplaceURL(e.URL),
			Title:    e.Title,
			Price:    normalize.ParsePrice(e.Price),
			Mileage:  normalize.ParseMileage(e.Mileage),
		}
		if loc := strings.TrimSpace(e.Location); loc != "" {
			l.Location = &loc
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func absoluteMarketplaceURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://www.facebook.com" + u
}
