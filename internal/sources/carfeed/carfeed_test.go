package carfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Dealer Inventory</title>
    <item>
      <guid>feed-1</guid>
      <title>2018 Honda Civic EX - $18,500</title>
      <link>https://dealer.example/feed-1</link>
      <description>One owner, clean</description>
      <pubDate>Mon, 09 Mar 2026 10:00:00 +0000</pubDate>
      <vin>2HGFC2F56JH000001</vin>
      <mileage>42,000</mileage>
      <image>https://dealer.example/feed-1.jpg</image>
    </item>
    <item>
      <guid>feed-2</guid>
      <title>2015 Toyota Corolla LE - $11,200</title>
      <link>https://dealer.example/feed-2</link>
      <description>Commuter special</description>
      <pubDate>Sun, 08 Mar 2026 09:00:00 +0000</pubDate>
    </item>
    <item>
      <guid></guid>
      <title>No identity, skipped</title>
    </item>
  </channel>
</rss>`

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchParsesFeedItems(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := New(srv.Client(), srv.URL)

	listings, meta, err := a.Search(context.Background(), "", models.FilterSet{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, listings, 2, "the guid-less item is dropped")
	assert.Equal(t, 2, meta.TotalClaimed)
	assert.False(t, meta.Truncated)

	civic := listings[0]
	assert.Equal(t, "feed-1", civic.SourceListingID)
	assert.Equal(t, 2018, civic.Year)
	assert.Equal(t, "Honda", civic.Make)
	assert.Equal(t, "Civic", civic.Model)
	assert.Equal(t, "EX", civic.Trim)
	require.NotNil(t, civic.Price)
	assert.Equal(t, 18500.0, *civic.Price)
	require.NotNil(t, civic.Mileage)
	assert.Equal(t, 42000, *civic.Mileage)
	assert.Equal(t, "2HGFC2F56JH000001", civic.VIN)
	assert.Equal(t, []string{"https://dealer.example/feed-1.jpg"}, civic.ImageURLs)
	assert.Equal(t, "2026-03-09T10:00:00Z", civic.LastSeenAt.Format("2006-01-02T15:04:05Z"))
}

func TestSearchFiltersAndQueryClientSide(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := New(srv.Client(), srv.URL)
	ctx := context.Background()

	listings, _, err := a.Search(ctx, "", models.FilterSet{Make: "toyota"}, 1, 20)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Corolla", listings[0].Model)

	listings, _, err = a.Search(ctx, "commuter", models.FilterSet{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, listings, 1, "query matches over title and description")
	assert.Equal(t, "feed-2", listings[0].SourceListingID)
}

func TestSearchPaginationTruncates(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := New(srv.Client(), srv.URL)

	listings, meta, err := a.Search(context.Background(), "", models.FilterSet{}, 1, 1)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.True(t, meta.Truncated)

	listings, meta, err = a.Search(context.Background(), "", models.FilterSet{}, 5, 1)
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.False(t, meta.Truncated)
}

func TestGetDetails(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := New(srv.Client(), srv.URL)

	l, err := a.GetDetails(context.Background(), "feed-2")
	require.NoError(t, err)
	assert.Equal(t, "Toyota", l.Make)

	_, err = a.GetDetails(context.Background(), "gone")
	assert.Equal(t, sources.KindNotFound, sources.KindOf(err))
}

func TestUndecodableFeedIsPermanent(t *testing.T) {
	srv := feedServer(t, http.StatusOK, "{not xml at all")
	a := New(srv.Client(), srv.URL)

	_, _, err := a.Search(context.Background(), "", models.FilterSet{}, 1, 20)
	assert.Equal(t, sources.KindPermanent, sources.KindOf(err))
}

func TestUpstreamErrorsClassify(t *testing.T) {
	srv := feedServer(t, http.StatusServiceUnavailable, "down")
	a := New(srv.Client(), srv.URL)

	_, _, err := a.Search(context.Background(), "", models.FilterSet{}, 1, 20)
	assert.Equal(t, sources.KindTransient, sources.KindOf(err))
}

func TestHealth(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := New(srv.Client(), srv.URL)
	assert.Equal(t, sources.Healthy, a.Health(context.Background()).State)

	empty := feedServer(t, http.StatusOK,
		`<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`)
	a = New(empty.Client(), empty.URL)
	assert.Equal(t, sources.Degraded, a.Health(context.Background()).State)
}
