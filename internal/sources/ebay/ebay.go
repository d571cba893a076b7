// Package ebay adapts the eBay Browse API (Motors category) to the source
// adapter contract. Credentials come from EBAY_CLIENT_ID/EBAY_CLIENT_SECRET;
// bearer tokens are cached in the shared token store.
package ebay

import (
	"context"
	"encoding/base64"
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
	"github.com/thetangstr/findmycar/internal/tokens"
)

const (
	Tag = "ebay"

	defaultBaseURL  = "https://api.ebay.com"
	defaultTokenURL = "https://api.ebay.com/identity/v1/oauth2/token"
	motorsCategory  = "6001" // Cars & Trucks
)

// Adapter implements sources.Adapter against the Browse API.
type Adapter struct {
	client   *http.Client
	tokens   *tokens.Store
	baseURL  string
	tokenURL string
	clientID string
	secret   string
}

// New registers the client-credentials exchange with the token store and
// returns the adapter.
func New(client *http.Client, store *tokens.Store, clientID, secret string) *Adapter {
	a := &Adapter{
		client:   client,
		tokens:   store,
		baseURL:  defaultBaseURL,
		tokenURL: defaultTokenURL,
		clientID: clientID,
		secret:   secret,
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	store.Register(Tag, a.exchangeToken)
	return a
}

// SetBaseURLs points the adapter at a test server.
func (a *Adapter) SetBaseURLs(base, token string) {
	a.baseURL = base
	a.tokenURL = token
}

func (a *Adapter) Tag() string             { return Tag }
func (a *Adapter) Kind() models.SourceKind { return models.KindAPI }

// exchangeToken performs the OAuth2 client-credentials grant.
func (a *Adapter) exchangeToken(ctx context.Context) (tokens.Token, error) {
	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"https://api.ebay.com/oauth/api_scope"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return tokens.Token{}, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.secret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return tokens.Token{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tokens.Token{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return tokens.Token{}, fmt.Errorf("decode token response: %w", err)
	}
	return tokens.Token{
		Bearer:    payload.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

// CanonicalID maps both observed id encodings onto the "v1|…|0" form used
// for storage. Ids already in that form pass through verbatim.
func CanonicalID(raw string) string {
	if strings.HasPrefix(raw, "v1|") {
		return raw
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return "v1|" + raw + "|0"
	}
	return raw
}

type itemSummary struct {
	ItemID   string `json:"itemId"`
	Title    string `json:"title"`
	ItemHref string `json:"itemWebUrl"`
	Price    struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	Image struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
	AdditionalImages []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"additionalImages"`
	ItemLocation struct {
		City       string `json:"city"`
		StateOrProv string `json:"stateOrProvince"`
		PostalCode string `json:"postalCode"`
	} `json:"itemLocation"`
	Seller struct {
		Username string `json:"username"`
	} `json:"seller"`
	Condition string `json:"condition"`
}

type searchPayload struct {
	Total         int           `json:"total"`
	ItemSummaries []itemSummary `json:"itemSummaries"`
}

// Search queries item summaries in the Motors category. A 401 triggers
// exactly one forced token refresh before the error surfaces.
func (a *Adapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	var meta sources.SearchMeta

	q := buildQuery(query, filters)
	params := url.Values{
		"q":           {q},
		"category_ids": {motorsCategory},
		"limit":       {strconv.Itoa(perPage)},
		"offset":      {strconv.Itoa((page - 1) * perPage)},
	}
	if f := buildFilter(filters); f != "" {
		params.Set("filter", f)
	}

	var payload searchPayload
	err := a.doJSON(ctx, "search", a.baseURL+"/buy/browse/v1/item_summary/search?"+params.Encode(), &payload)
	if err != nil {
		return nil, meta, err
	}

	now := time.Now().UTC()
	listings := make([]models.Listing, 0, len(payload.ItemSummaries))
	for _, item := range payload.ItemSummaries {
		listings = append(listings, a.normalize(item, filters, now))
	}
	meta.TotalClaimed = payload.Total
	meta.Truncated = payload.Total > (page-1)*perPage+len(listings)
	return listings, meta, nil
}

// GetDetails fetches a single item by canonical id.
func (a *Adapter) GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error) {
	id := CanonicalID(sourceListingID)
	var item itemSummary
	err := a.doJSON(ctx, "details",
		a.baseURL+"/buy/browse/v1/item/"+url.PathEscape(id), &item)
	if err != nil {
		return models.Listing{}, err
	}
	return a.normalize(item, models.FilterSet{}, time.Now().UTC()), nil
}

// Health issues a minimal one-item search as a probe.
func (a *Adapter) Health(ctx context.Context) sources.HealthStatus {
	now := time.Now().UTC()
	var payload searchPayload
	err := a.doJSON(ctx, "health",
		a.baseURL+"/buy/browse/v1/item_summary/search?q=car&category_ids="+motorsCategory+"&limit=1", &payload)
	if err != nil {
		state := sources.Unhealthy
		if sources.KindOf(err) == sources.KindRateLimited {
			state = sources.Degraded
		}
		return sources.HealthStatus{State: state, Message: err.Error(), CheckedAt: now}
	}
	return sources.HealthStatus{State: sources.Healthy, CheckedAt: now}
}

// doJSON performs an authorized GET with the single forced-refresh retry on
// 401.
func (a *Adapter) doJSON(ctx context.Context, op, fullURL string, out interface{}) error {
	forced := false
	for {
		tok, err := a.tokens.Get(ctx, Tag, forced)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return sources.NewError(Tag, op, sources.KindInternal, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Bearer)
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", "EBAY_US")

		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return sources.NewError(Tag, op, sources.KindDeadlineExceeded, ctx.Err())
			}
			return sources.NewError(Tag, op, sources.KindTransient, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !forced {
			resp.Body.Close()
			forced = true
			continue
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			kind := sources.ClassifyHTTP(resp.StatusCode)
			if kind == sources.KindRateLimited {
				return sources.NewRateLimited(Tag, op, retryAfter(resp), fmt.Errorf("status %d", resp.StatusCode))
			}
			return sources.NewError(Tag, op, kind, fmt.Errorf("status %d", resp.StatusCode))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return sources.NewError(Tag, op, sources.KindPermanent,
				fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func (a *Adapter) normalize(item itemSummary, filters models.FilterSet, now time.Time) models.Listing {
	l := models.Listing{
		Source:          Tag,
		SourceListingID: CanonicalID(item.ItemID),
		Title:           item.Title,
		URL:             item.ItemHref,
		DealerName:      item.Seller.Username,
		Zip:             item.ItemLocation.PostalCode,
		Attributes:      map[string]interface{}{},
	}
	if item.Price.Value != "" {
		if v, err := strconv.ParseFloat(item.Price.Value, 64); err == nil && v >= 0 {
			l.Price = &v
		}
		l.Attributes["currency"] = item.Price.Currency
	}
	if item.Image.ImageURL != "" {
		l.ImageURLs = append(l.ImageURLs, item.Image.ImageURL)
	}
	for _, img := range item.AdditionalImages {
		l.ImageURLs = append(l.ImageURLs, img.ImageURL)
	}
	if item.ItemLocation.City != "" {
		l.Location = item.ItemLocation.City
		if item.ItemLocation.StateOrProv != "" {
			l.Location += ", " + item.ItemLocation.StateOrProv
		}
	}
	if item.Condition != "" {
		l.Attributes["condition"] = item.Condition
	}

	l.Year, l.Make, l.Model = parseTitle(item.Title)
	if l.Make == "" {
		l.Make = filters.Make
	}
	if l.Model == "" && len(filters.Models) > 0 {
		l.Model = filters.Models[0]
	}
	l.Normalize(now)
	return l
}

// parseTitle extracts "<year> <make> <model…>" from a listing title, the
// dominant convention on Motors.
func parseTitle(title string) (year int, make, model string) {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return 0, "", ""
	}
	i := 0
	if y, err := strconv.Atoi(fields[0]); err == nil && y >= models.MinYear && y <= time.Now().Year()+2 {
		year = y
		i = 1
	}
	if i < len(fields) {
		make = fields[i]
		i++
	}
	if i < len(fields) {
		model = fields[i]
	}
	return year, make, model
}

func buildQuery(query string, filters models.FilterSet) string {
	parts := []string{}
	if q := strings.TrimSpace(query); q != "" {
		parts = append(parts, q)
	}
	if filters.Make != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(filters.Make)) {
		parts = append(parts, filters.Make)
	}
	for _, m := range filters.Models {
		if !strings.Contains(strings.ToLower(query), strings.ToLower(m)) {
			parts = append(parts, m)
			break
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "car")
	}
	return strings.Join(parts, " ")
}

func buildFilter(f models.FilterSet) string {
	var parts []string
	if f.PriceMin != nil || f.PriceMax != nil {
		lo, hi := "", ""
		if f.PriceMin != nil {
			lo = strconv.FormatFloat(*f.PriceMin, 'f', 0, 64)
		}
		if f.PriceMax != nil {
			hi = strconv.FormatFloat(*f.PriceMax, 'f', 0, 64)
		}
		parts = append(parts, fmt.Sprintf("price:[%s..%s],priceCurrency:USD", lo, hi))
	}
	return strings.Join(parts, ",")
}
