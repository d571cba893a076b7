package ebay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
	"github.com/thetangstr/findmycar/internal/tokens"
)

type apiFixture struct {
	adapter    *Adapter
	tokenCalls atomic.Int32
	apiHandler http.HandlerFunc
}

func newFixture(t *testing.T, apiHandler http.HandlerFunc) *apiFixture {
	t.Helper()
	f := &apiFixture{apiHandler: apiHandler}

	mux := http.NewServeMux()
	mux.HandleFunc("/identity/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.NotEmpty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "bearer-123", "expires_in": 7200,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.apiHandler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f.adapter = New(srv.Client(), tokens.NewStore(), "client-id", "secret")
	f.adapter.SetBaseURLs(srv.URL, srv.URL+"/identity/v1/oauth2/token")
	return f
}

func searchBody(total int, items ...map[string]interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{"total": total, "itemSummaries": items})
	return b
}

func item(id, title, price string) map[string]interface{} {
	return map[string]interface{}{
		"itemId":     id,
		"title":      title,
		"itemWebUrl": "https://ebay.example/" + id,
		"price":      map[string]string{"value": price, "currency": "USD"},
		"itemLocation": map[string]string{
			"city": "Austin", "stateOrProvince": "TX", "postalCode": "78701",
		},
		"seller": map[string]string{"username": "gooddeals"},
	}
}

func TestCanonicalID(t *testing.T) {
	assert.Equal(t, "v1|123456|0", CanonicalID("123456"))
	assert.Equal(t, "v1|123456|0", CanonicalID("v1|123456|0"))
	assert.Equal(t, "weird-id", CanonicalID("weird-id"))
}

func TestSearchNormalizesItems(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bearer-123", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("q"), "civic")
		w.Write(searchBody(1, item("334455", "2018 Honda Civic EX", "18500.00")))
	})

	listings, meta, err := f.adapter.Search(context.Background(), "civic", models.FilterSet{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.Equal(t, "v1|334455|0", l.SourceListingID)
	assert.Equal(t, 2018, l.Year)
	assert.Equal(t, "Honda", l.Make)
	assert.Equal(t, "Civic", l.Model)
	require.NotNil(t, l.Price)
	assert.Equal(t, 18500.0, *l.Price)
	assert.Equal(t, "Austin, TX", l.Location)
	assert.Equal(t, "78701", l.Zip)
	assert.Equal(t, "gooddeals", l.DealerName)
	assert.Equal(t, 1, meta.TotalClaimed)
	assert.False(t, meta.Truncated)
}

func TestSearchReportsTruncation(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(searchBody(500, item("1", "2018 Honda Civic", "18000")))
	})

	_, meta, err := f.adapter.Search(context.Background(), "civic", models.FilterSet{}, 1, 1)
	require.NoError(t, err)
	assert.True(t, meta.Truncated)
	assert.Equal(t, 500, meta.TotalClaimed)
}

func TestUnauthorizedForcesOneRefresh(t *testing.T) {
	var apiCalls atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if apiCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(searchBody(1, item("1", "2018 Honda Civic", "18000")))
	})

	listings, _, err := f.adapter.Search(context.Background(), "civic", models.FilterSet{}, 1, 20)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, int32(2), apiCalls.Load())
	assert.Equal(t, int32(2), f.tokenCalls.Load(), "401 must force exactly one token refresh")
}

func TestPersistentUnauthorizedSurfaces(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, _, err := f.adapter.Search(context.Background(), "civic", models.FilterSet{}, 1, 20)
	assert.Equal(t, sources.KindUnauthorized, sources.KindOf(err))
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, _, err := f.adapter.Search(context.Background(), "civic", models.FilterSet{}, 1, 20)
	assert.Equal(t, sources.KindRateLimited, sources.KindOf(err))
	assert.Equal(t, "30s", sources.RetryAfterOf(err).String())
}

func TestGetDetailsCanonicalizes(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "v1|998877|0")
		b, _ := json.Marshal(item("998877", "2015 Mazda MX-5", "21000"))
		w.Write(b)
	})

	l, err := f.adapter.GetDetails(context.Background(), "998877")
	require.NoError(t, err)
	assert.Equal(t, "v1|998877|0", l.SourceListingID)
	assert.Equal(t, "Mazda", l.Make)
}

func TestHealthDegradedOnRateLimit(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	assert.Equal(t, sources.Degraded, f.adapter.Health(context.Background()).State)
}
