package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saline-motors/truckwatch/internal/model"
)

const searchPageFixture = `
<html><body>
<ol>
<li class="cl-static-search-result" title="2015 Ford F-150 XLT">
  <a href="https://detroit.craigslist.org/okl/cto/d/2015-ford-f150/7801234567.html">
    <div class="title">2015 Ford F-150 XLT</div>
    <div class="details">
      <div class="price">$18,500</div>
      <div class="location">Ann Arbor, MI</div>
    </div>
  </a>
</li>
<li class="cl-static-search-result">
  <a href="https://detroit.craigslist.org/okl/cto/d/silverado/7809876543.html">
    <div class="title">2012 Chevy Silverado 1500</div>
    <div class="details">
      <div class="price"></div>
      <div class="location"></div>
    </div>
  </a>
</li>
<li class="cl-static-search-result" title="spam entry without link">
  <div class="title">spam entry without link</div>
</li>
<li class="cl-static-search-result" title="2015 Ford F-450 box truck">
  <a href="https://detroit.craigslist.org/okl/ctd/d/f450-box/7805555555.html">
    <div class="title">2015 Ford F-450 box truck</div>
    <div class="details"><div class="price">$32,000</div></div>
  </a>
</li>
</ol>
</body></html>`

func TestParseSearchPage(t *testing.T) {
	listings, err := parseSearchPage([]byte(searchPageFixture), "detroit")
	require.NoError(t, err)
	require.Len(t, listings, 2, "items without a posting link and commercial trucks are dropped")

	first := listings[0]
	assert.Equal(t, "craigslist", first.Source)
	assert.Equal(t, "7801234567", first.SourceID)
	assert.Equal(t, "2015 Ford F-150 XLT", first.Title)
	assert.Equal(t, "https://detroit.craigslist.org/okl/cto/d/2015-ford-f150/7801234567.html", first.URL)
	require.NotNil(t, first.Price)
	assert.Equal(t, 18500, *first.Price)
	require.NotNil(t, first.Location)
	assert.Equal(t, "Ann Arbor, MI", *first.Location)
	require.NotNil(t, first.Region)
	assert.Equal(t, "detroit", *first.Region)
	require.NotNil(t, first.SellerType)
	assert.Equal(t, "owner", *first.SellerType, "cto path means sale by owner")

	second := listings[1]
	assert.Equal(t, "7809876543", second.SourceID)
	assert.Equal(t, "2012 Chevy Silverado 1500", second.Title, "falls back to the title div")
	assert.Nil(t, second.Price)
	assert.Nil(t, second.Location)
}

func TestIsCommercialTruck(t *testing.T) {
	commercial := []string{
		"2015 Ford F-450 box truck",
		"2018 FORD F550 utility truck",
		"Ford E450 cutaway",
		"International flatbed",
		"2019 ram 5500 dump truck",
		"chevy express cargo van",
		"Bucket Truck - boom lift",
	}
	for _, title := range commercial {
		assert.True(t, isCommercialTruck(title), title)
	}

	consumer := []string{
		"2015 Ford F-150 XLT",
		"2020 Ford F-350 Lariat",
		"2012 Chevy Silverado 1500",
		"2019 Toyota Tacoma TRD",
	}
	for _, title := range consumer {
		assert.False(t, isCommercialTruck(title), title)
	}
}

func TestSellerTypeFromURL(t *testing.T) {
	dealer := sellerTypeFromURL("https://detroit.craigslist.org/okl/ctd/d/f150/7801.html")
	require.NotNil(t, dealer)
	assert.Equal(t, "dealer", *dealer)

	owner := sellerTypeFromURL("https://detroit.craigslist.org/okl/cto/d/f150/7802.html")
	require.NotNil(t, owner)
	assert.Equal(t, "owner", *owner)

	assert.Nil(t, sellerTypeFromURL("https://example.org/listing/7803.html"))
}

func TestParseSearchPageEmpty(t *testing.T) {
	listings, err := parseSearchPage([]byte("<html><body><p>no results</p></body></html>"), "flint")
	require.NoError(t, err)
	assert.Empty(t, listings)
}

const detailPageFixture = `
<html><body>
<div class="attrgroup">
  <div class="attr"><span class="labl">condition:</span> <span class="valu">excellent</span></div>
  <div class="attr"><span class="labl">odometer:</span> <span class="valu">89,500</span></div>
  <div class="attr"><span class="labl">drive:</span> <span class="valu">4wd</span></div>
  <div class="attr"><span class="labl">transmission:</span> <span class="valu">automatic</span></div>
  <div class="attr"><span class="labl">fuel:</span> <span class="valu">gas</span></div>
  <div class="attr"><span class="labl">title status:</span> <span class="valu">clean</span></div>
  <div class="attr"><span class="labl">paint color:</span> <span class="valu">white</span></div>
  <div class="attr"><span class="labl">type:</span> <span class="valu">pickup</span></div>
  <div class="attr"><span class="labl">VIN:</span> <span class="valu">1FTEW1EP5FKE00000</span></div>
</div>
<section id="postingbody">
  <div class="print-information print-qrcode-container">QR Code Link to This Post</div>
  Garage kept, new tires, runs great.
</section>
</body></html>`

func TestParseDetailPage(t *testing.T) {
	l := model.RawListing{Source: "craigslist", SourceID: "1", URL: "u", Title: "t"}
	require.NoError(t, parseDetailPage([]byte(detailPageFixture), &l))

	require.NotNil(t, l.Description)
	assert.Equal(t, "Garage kept, new tires, runs great.", *l.Description)
	require.NotNil(t, l.Condition)
	assert.Equal(t, "excellent", *l.Condition)
	require.NotNil(t, l.Mileage)
	assert.Equal(t, 89500, *l.Mileage)
	assert.Equal(t, "4wd", *l.Drivetrain)
	assert.Equal(t, "automatic", *l.Transmission)
	assert.Equal(t, "gas", *l.FuelType)
	assert.Equal(t, "clean", *l.TitleStatus)
	assert.Equal(t, "white", *l.PaintColor)
	assert.Equal(t, "pickup", *l.BodyStyle)
}

func TestSearchURL(t *testing.T) {
	a := NewCraigslist(NewClient(ClientOptions{}), DefaultPlan())
	u := a.searchURL("detroit", "nissan frontier")

	assert.Contains(t, u, "https://detroit.craigslist.org/search/cta?")
	assert.Contains(t, u, "auto_make_model=nissan+frontier")
	assert.Contains(t, u, "min_auto_year=2011")
	assert.Contains(t, u, "max_auto_year=2026")
	assert.Contains(t, u, "search_distance=100")
	assert.Contains(t, u, "postal=48176")
}
