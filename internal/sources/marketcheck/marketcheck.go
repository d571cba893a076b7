// Package marketcheck adapts the Marketcheck active-inventory API. Enabled
// when MARKETCHECK_API_KEY is present.
package marketcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

const (
	Tag            = "marketcheck"
	defaultBaseURL = "https://mc-api.marketcheck.com/v2"
)

type Adapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func New(client *http.Client, apiKey string) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{client: client, baseURL: defaultBaseURL, apiKey: apiKey}
}

// SetBaseURL points the adapter at a test server.
func (a *Adapter) SetBaseURL(u string) { a.baseURL = u }

func (a *Adapter) Tag() string             { return Tag }
func (a *Adapter) Kind() models.SourceKind { return models.KindAPI }

type mcListing struct {
	ID    string `json:"id"`
	VIN   string `json:"vin"`
	Heading string `json:"heading"`
	Price float64 `json:"price"`
	Miles *int    `json:"miles"`
	VDPUrl string `json:"vdp_url"`
	Build struct {
		Year         int    `json:"year"`
		Make         string `json:"make"`
		Model        string `json:"model"`
		Trim         string `json:"trim"`
		BodyType     string `json:"body_type"`
		Transmission string `json:"transmission"`
		Drivetrain   string `json:"drivetrain"`
		FuelType     string `json:"fuel_type"`
	} `json:"build"`
	ExteriorColor string `json:"exterior_color"`
	Dealer        struct {
		Name string `json:"name"`
		City string `json:"city"`
		State string `json:"state"`
		Zip  string `json:"zip"`
	} `json:"dealer"`
	Media struct {
		PhotoLinks []string `json:"photo_links"`
	} `json:"media"`
	LastSeenAtDate int64 `json:"last_seen_at_date"`
}

type mcSearchPayload struct {
	NumFound int         `json:"num_found"`
	Listings []mcListing `json:"listings"`
}

func (a *Adapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	var meta sources.SearchMeta

	params := url.Values{
		"api_key": {a.apiKey},
		"start":   {strconv.Itoa((page - 1) * perPage)},
		"rows":    {strconv.Itoa(perPage)},
	}
	if q := strings.TrimSpace(query); q != "" {
		params.Set("keywords", q)
	}
	if filters.Make != "" {
		params.Set("make", filters.Make)
	}
	if len(filters.Models) > 0 {
		params.Set("model", strings.Join(filters.Models, ","))
	}
	if filters.YearMin != nil || filters.YearMax != nil {
		lo, hi := models.MinYear, time.Now().Year()+2
		if filters.YearMin != nil {
			lo = *filters.YearMin
		}
		if filters.YearMax != nil {
			hi = *filters.YearMax
		}
		params.Set("year_range", fmt.Sprintf("%d-%d", lo, hi))
	}
	if filters.PriceMax != nil {
		params.Set("price_range", fmt.Sprintf("0-%d", int(*filters.PriceMax)))
	}

	var payload mcSearchPayload
	if err := a.doJSON(ctx, "search", a.baseURL+"/search/car/active?"+params.Encode(), &payload); err != nil {
		return nil, meta, err
	}

	now := time.Now().UTC()
	listings := make([]models.Listing, 0, len(payload.Listings))
	for _, item := range payload.Listings {
		listings = append(listings, normalize(item, now))
	}
	meta.TotalClaimed = payload.NumFound
	meta.Truncated = payload.NumFound > (page-1)*perPage+len(listings)
	return listings, meta, nil
}

func (a *Adapter) GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error) {
	var item mcListing
	err := a.doJSON(ctx, "details",
		a.baseURL+"/listing/car/"+url.PathEscape(sourceListingID)+"?api_key="+url.QueryEscape(a.apiKey),
		&item)
	if err != nil {
		return models.Listing{}, err
	}
	return normalize(item, time.Now().UTC()), nil
}

func (a *Adapter) Health(ctx context.Context) sources.HealthStatus {
	now := time.Now().UTC()
	var payload mcSearchPayload
	err := a.doJSON(ctx, "health",
		a.baseURL+"/search/car/active?rows=1&api_key="+url.QueryEscape(a.apiKey), &payload)
	if err != nil {
		state := sources.Unhealthy
		if sources.KindOf(err) == sources.KindRateLimited {
			state = sources.Degraded
		}
		return sources.HealthStatus{State: state, Message: err.Error(), CheckedAt: now}
	}
	return sources.HealthStatus{State: sources.Healthy, CheckedAt: now}
}

func (a *Adapter) doJSON(ctx context.Context, op, fullURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return sources.NewError(Tag, op, sources.KindInternal, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return sources.NewError(Tag, op, sources.KindDeadlineExceeded, ctx.Err())
		}
		return sources.NewError(Tag, op, sources.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		kind := sources.ClassifyHTTP(resp.StatusCode)
		if kind == sources.KindRateLimited {
			ra := time.Duration(0)
			if v := resp.Header.Get("Retry-After"); v != "" {
				if secs, err := strconv.Atoi(v); err == nil {
					ra = time.Duration(secs) * time.Second
				}
			}
			return sources.NewRateLimited(Tag, op, ra, fmt.Errorf("status %d", resp.StatusCode))
		}
		return sources.NewError(Tag, op, kind, fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return sources.NewError(Tag, op, sources.KindPermanent, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func normalize(item mcListing, now time.Time) models.Listing {
	l := models.Listing{
		Source:          Tag,
		SourceListingID: item.ID,
		Title:           item.Heading,
		Make:            item.Build.Make,
		Model:           item.Build.Model,
		Year:            item.Build.Year,
		Trim:            item.Build.Trim,
		BodyStyle:       item.Build.BodyType,
		Transmission:    item.Build.Transmission,
		Drivetrain:      item.Build.Drivetrain,
		FuelType:        item.Build.FuelType,
		ExteriorColor:   item.ExteriorColor,
		VIN:             item.VIN,
		DealerName:      item.Dealer.Name,
		Zip:             item.Dealer.Zip,
		URL:             item.VDPUrl,
		ImageURLs:       item.Media.PhotoLinks,
		Attributes:      map[string]interface{}{},
	}
	if item.Price > 0 {
		price := item.Price
		l.Price = &price
	}
	if item.Miles != nil && *item.Miles >= 0 {
		miles := *item.Miles
		l.Mileage = &miles
	}
	if item.Dealer.City != "" {
		l.Location = item.Dealer.City
		if item.Dealer.State != "" {
			l.Location += ", " + item.Dealer.State
		}
	}
	if item.LastSeenAtDate > 0 {
		l.LastSeenAt = time.Unix(item.LastSeenAtDate, 0).UTC()
	}
	if l.Title == "" {
		l.Title = strings.TrimSpace(fmt.Sprintf("%d %s %s %s", l.Year, l.Make, l.Model, l.Trim))
	}
	l.Normalize(now)
	return l
}
