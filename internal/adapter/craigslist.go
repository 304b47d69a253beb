package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/normalize"
)

// Craigslist scrapes the static search results of one or more regional
// craigslist sites.
type Craigslist struct {
	client *Client
	plan   SearchPlan
	log    *zap.Logger
}

func NewCraigslist(client *Client, plan SearchPlan) *Craigslist {
	return &Craigslist{
		client: client,
		plan:   plan,
		log:    zap.L().Named("craigslist"),
	}
}

func (a *Craigslist) Name() string { return "craigslist" }

// Fetch runs every (region, query) search from the plan, in parallel up to
// the plan's concurrency bound, and merges the results. The same posting
// surfaces in overlapping searches; the first occurrence in plan order wins.
func (a *Craigslist) Fetch(ctx context.Context) ([]model.RawListing, error) {
	type search struct {
		region, query string
	}
	var searches []search
	for _, query := range a.plan.Queries {
		for _, region := range a.plan.Regions {
			searches = append(searches, search{region: region, query: query})
		}
	}

	results := make([][]model.RawListing, len(searches))
	var failures atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	concurrency := a.plan.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	g.SetLimit(concurrency)

	for i, sr := range searches {
		g.Go(func() error {
			listings, err := a.fetchSearch(gctx, sr.region, sr.query)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.log.Warn("search failed",
					zap.String("region", sr.region),
					zap.String("query", sr.query),
					zap.Error(err),
				)
				failures.Add(1)
				return nil
			}
			results[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "craigslist: fetch searches")
	}

	seen := make(map[string]struct{})
	var all []model.RawListing
	for _, listings := range results {
		for _, l := range listings {
			if _, ok := seen[l.SourceID]; ok {
				continue
			}
			seen[l.SourceID] = struct{}{}
			all = append(all, l)
		}
	}

	if len(all) == 0 && failures.Load() > 0 {
		return nil, eris.Errorf("craigslist: all %d failed searches produced nothing", failures.Load())
	}

	a.log.Info("craigslist fetch complete",
		zap.Int("searches", len(searches)),
		zap.Int32("failed_searches", failures.Load()),
		zap.Int("listings", len(all)),
	)
	return all, nil
}

func (a *Craigslist) searchURL(region, query string) string {
	q := url.Values{}
	q.Set("auto_make_model", query)
	q.Set("min_auto_year", strconv.Itoa(a.plan.MinYear))
	q.Set("max_auto_year", strconv.Itoa(a.plan.MaxYear))
	q.Set("search_distance", strconv.Itoa(a.plan.SearchDistance))
	q.Set("postal", a.plan.Postal)
	return fmt.Sprintf("https://%s.craigslist.org/search/cta?%s", region, q.Encode())
}

func (a *Craigslist) fetchSearch(ctx context.Context, region, query string) ([]model.RawListing, error) {
	body, err := a.client.Get(ctx, a.searchURL(region, query))
	if err != nil {
		return nil, err
	}

	listings, err := parseSearchPage(body, region)
	if err != nil {
		return nil, err
	}

	if a.plan.FetchDetails {
		for i := range listings {
			if err := a.fetchDetail(ctx, &listings[i]); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				a.log.Debug("detail fetch failed",
					zap.String("url", listings[i].URL),
					zap.Error(err),
				)
			}
		}
	}
	return listings, nil
}

var postingIDRe = regexp.MustCompile(`/(\d+)\.html`)

// commercialRe matches commercial trucks that never belong in the
// database: heavy-duty chassis, work bodies, cargo vans.
var commercialRe = []*regexp.Regexp{
	regexp.MustCompile(`\bf-?450\b`), regexp.MustCompile(`\bf-?550\b`),
	regexp.MustCompile(`\bf-?650\b`), regexp.MustCompile(`\bf-?750\b`),
	regexp.MustCompile(`\bbox\s+truck\b`), regexp.MustCompile(`\bbucket\s+truck\b`),
	regexp.MustCompile(`\bboom\b`), regexp.MustCompile(`\bdump\s+truck\b`),
	regexp.MustCompile(`\butility\s+truck\b`), regexp.MustCompile(`\bflatbed\b`),
	regexp.MustCompile(`\btow\s+truck\b`), regexp.MustCompile(`\bmoving\s+truck\b`),
	regexp.MustCompile(`\bservice\s+truck\b`), regexp.MustCompile(`\bcargo\s+van\b`),
	regexp.MustCompile(`\bdaihatsu\b`), regexp.MustCompile(`\be-?450\b`),
}

// isCommercialTruck reports whether a title names an excluded commercial
// vehicle.
func isCommercialTruck(title string) bool {
	lower := strings.ToLower(title)
	for _, re := range commercialRe {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// sellerTypeFromURL reads dealer vs owner off the posting path: /ctd/ is
// cars+trucks by dealer, /cto/ by owner.
func sellerTypeFromURL(href string) *string {
	switch {
	case strings.Contains(href, "/ctd/"):
		s := "dealer"
		return &s
	case strings.Contains(href, "/cto/"):
		s := "owner"
		return &s
	}
	return nil
}

// parseSearchPage extracts listing candidates from a craigslist static
// search results page. Items without a title, link, or posting id are
// dropped, as are commercial trucks, before any detail fetch happens.
func parseSearchPage(body []byte, region string) ([]model.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "craigslist: parse search page")
	}

	var listings []model.RawListing
	doc.Find("li.cl-static-search-result").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(s.Find("div.title").First().Text())
		}
		href := s.Find("a").First().AttrOr("href", "")
		m := postingIDRe.FindStringSubmatch(href)
		if title == "" || href == "" || m == nil {
			return
		}
		if isCommercialTruck(title) {
			return
		}

		l := model.RawListing{
			Source:     "craigslist",
			SourceID:   m[1],
			URL:        href,
			Title:      title,
			Price:      normalize.ParsePrice(s.Find("div.price").First().Text()),
			SellerType: sellerTypeFromURL(href),
		}
		if loc := strings.TrimSpace(s.Find("div.location").First().Text()); loc != "" {
			l.Location = &loc
		}
		r := region
		l.Region = &r
		listings = append(listings, l)
	})
	return listings, nil
}

// fetchDetail pulls the posting page for the description and the
// attribute table.
func (a *Craigslist) fetchDetail(ctx context.Context, l *model.RawListing) error {
	body, err := a.client.Get(ctx, l.URL)
	if err != nil {
		return err
	}
	return parseDetailPage(body, l)
}

func parseDetailPage(body []byte, l *model.RawListing) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "craigslist: parse detail page")
	}

	if postingBody := doc.Find("#postingbody").First(); postingBody.Length() > 0 {
		postingBody.Find(".print-information").Remove()
		desc := strings.TrimSpace(postingBody.Text())
		desc = strings.TrimSpace(strings.TrimPrefix(desc, "QR Code Link to This Post"))
		if desc != "" {
			l.Description = &desc
		}
	}

	doc.Find(".attrgroup .attr").Each(func(_ int, s *goquery.Selection) {
		label := strings.TrimSpace(strings.TrimSuffix(s.Find(".labl").Text(), ":"))
		value := strings.TrimSpace(s.Find(".valu").Text())
		if label == "" || value == "" {
			return
		}
		applyAttr(l, strings.ToLower(label), value)
	})
	return nil
}

// applyAttr maps a craigslist attribute label onto the raw listing.
func applyAttr(l *model.RawListing, label, value string) {
	switch label {
	case "odometer":
		if miles, err := strconv.Atoi(strings.ReplaceAll(value, ",", "")); err == nil && miles >= 0 {
			l.Mileage = &miles
		}
	case "condition":
		l.Condition = &value
	case "drive":
		l.Drivetrain = &value
	case "transmission":
		l.Transmission = &value
	case "fuel":
		l.FuelType = &value
	case "title status":
		l.TitleStatus = &value
	case "paint color":
		l.PaintColor = &value
	case "type":
		l.BodyStyle = &value
	}
}
