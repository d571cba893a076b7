// Package autotrader is the HTML-scrape adapter. It extracts the embedded
// JSON state blob from result pages rather than walking the DOM, which keeps
// the extraction contract narrow; when the page layout drifts the adapter
// fails with a permanent error and its breaker opens quickly.
package autotrader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

const (
	Tag            = "autotrader"
	defaultBaseURL = "https://www.autotrader.com"
)

// stateRe locates the embedded JSON state blob in the page. (?s) lets the
// blob span lines; some page variants pretty-print it.
var stateRe = regexp.MustCompile(`(?s)window\.__STATE__\s*=\s*(\{.*?\});?\s*</script>`)

type Adapter struct {
	client  *http.Client
	baseURL string
}

func New(client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{client: client, baseURL: defaultBaseURL}
}

func (a *Adapter) SetBaseURL(u string) { a.baseURL = u }

func (a *Adapter) Tag() string             { return Tag }
func (a *Adapter) Kind() models.SourceKind { return models.KindScrape }

// pageState mirrors the fragment of the embedded blob we depend on.
type pageState struct {
	Inventory map[string]struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		Make     string   `json:"make"`
		Model    string   `json:"model"`
		Year     int      `json:"year"`
		Trim     string   `json:"trim"`
		Price    *float64 `json:"price"`
		Mileage  *int     `json:"mileage"`
		VIN      string   `json:"vin"`
		Color    string   `json:"exteriorColor"`
		BodyStyle string  `json:"bodyStyle"`
		City     string   `json:"city"`
		State    string   `json:"state"`
		Zip      string   `json:"zip"`
		Dealer   string   `json:"dealerName"`
		Images   []string `json:"images"`
		HREF     string   `json:"href"`
	} `json:"inventory"`
	TotalResults int `json:"totalResultCount"`
}

func (a *Adapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	var meta sources.SearchMeta

	params := url.Values{
		"numRecords":  {strconv.Itoa(perPage)},
		"firstRecord": {strconv.Itoa((page - 1) * perPage)},
	}
	if filters.Make != "" {
		params.Set("makeCodeList", strings.ToUpper(filters.Make))
	}
	if len(filters.Models) > 0 {
		params.Set("modelCodeList", strings.ToUpper(filters.Models[0]))
	}
	if q := strings.TrimSpace(query); q != "" {
		params.Set("keywords", q)
	}
	if filters.YearMin != nil {
		params.Set("startYear", strconv.Itoa(*filters.YearMin))
	}
	if filters.YearMax != nil {
		params.Set("endYear", strconv.Itoa(*filters.YearMax))
	}
	if filters.PriceMax != nil {
		params.Set("maxPrice", strconv.Itoa(int(*filters.PriceMax)))
	}

	state, err := a.fetchState(ctx, "search", a.baseURL+"/cars-for-sale/all-cars?"+params.Encode())
	if err != nil {
		return nil, meta, err
	}

	now := time.Now().UTC()
	listings := make([]models.Listing, 0, len(state.Inventory))
	for id, item := range state.Inventory {
		l := models.Listing{
			Source:          Tag,
			SourceListingID: firstNonEmpty(item.ID, id),
			Title:           item.Title,
			Make:            item.Make,
			Model:           item.Model,
			Year:            item.Year,
			Trim:            item.Trim,
			Price:           item.Price,
			Mileage:         item.Mileage,
			VIN:             item.VIN,
			ExteriorColor:   item.Color,
			BodyStyle:       item.BodyStyle,
			Zip:             item.Zip,
			DealerName:      item.Dealer,
			ImageURLs:       item.Images,
			Attributes:      map[string]interface{}{},
		}
		if item.City != "" {
			l.Location = item.City
			if item.State != "" {
				l.Location += ", " + item.State
			}
		}
		if item.HREF != "" {
			l.URL = a.baseURL + item.HREF
		}
		if l.Title == "" {
			l.Title = strings.TrimSpace(fmt.Sprintf("%d %s %s", l.Year, l.Make, l.Model))
		}
		l.Normalize(now)
		listings = append(listings, l)
	}
	// Map iteration order is random; keep output deterministic.
	sortListingsByID(listings)

	meta.TotalClaimed = state.TotalResults
	meta.Truncated = state.TotalResults > (page-1)*perPage+len(listings)
	return listings, meta, nil
}

func (a *Adapter) GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error) {
	state, err := a.fetchState(ctx, "details",
		a.baseURL+"/cars-for-sale/vehicle/"+url.PathEscape(sourceListingID))
	if err != nil {
		return models.Listing{}, err
	}
	for id, item := range state.Inventory {
		if firstNonEmpty(item.ID, id) == sourceListingID {
			l := models.Listing{
				Source:          Tag,
				SourceListingID: sourceListingID,
				Title:           item.Title,
				Make:            item.Make,
				Model:           item.Model,
				Year:            item.Year,
				Trim:            item.Trim,
				Price:           item.Price,
				Mileage:         item.Mileage,
				VIN:             item.VIN,
				ExteriorColor:   item.Color,
				BodyStyle:       item.BodyStyle,
				Zip:             item.Zip,
				DealerName:      item.Dealer,
				ImageURLs:       item.Images,
			}
			l.Normalize(time.Now().UTC())
			return l, nil
		}
	}
	return models.Listing{}, sources.NewError(Tag, "details", sources.KindNotFound,
		fmt.Errorf("listing %s absent from page state", sourceListingID))
}

func (a *Adapter) Health(ctx context.Context) sources.HealthStatus {
	now := time.Now().UTC()
	_, err := a.fetchState(ctx, "health", a.baseURL+"/cars-for-sale/all-cars?numRecords=1")
	if err != nil {
		state := sources.Unhealthy
		if sources.KindOf(err) == sources.KindPermanent {
			// Reachable but unparseable: layout drift.
			state = sources.Degraded
		}
		return sources.HealthStatus{State: state, Message: err.Error(), CheckedAt: now}
	}
	return sources.HealthStatus{State: sources.Healthy, CheckedAt: now}
}

func (a *Adapter) fetchState(ctx context.Context, op, fullURL string) (*pageState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, sources.NewError(Tag, op, sources.KindInternal, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; findmycar/1.0)")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, sources.NewError(Tag, op, sources.KindDeadlineExceeded, ctx.Err())
		}
		return nil, sources.NewError(Tag, op, sources.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := sources.ClassifyHTTP(resp.StatusCode)
		return nil, sources.NewError(Tag, op, kind, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, sources.NewError(Tag, op, sources.KindTransient, err)
	}

	m := stateRe.FindSubmatch(body)
	if m == nil {
		return nil, sources.NewError(Tag, op, sources.KindPermanent,
			fmt.Errorf("state blob not found (payload %d bytes)", len(body)))
	}
	var state pageState
	if err := json.Unmarshal(m[1], &state); err != nil {
		return nil, sources.NewError(Tag, op, sources.KindPermanent,
			fmt.Errorf("decode state blob: %w", err))
	}
	return &state, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func sortListingsByID(ls []models.Listing) {
	sort.Slice(ls, func(i, j int) bool {
		return ls[i].SourceListingID < ls[j].SourceListingID
	})
}
