// Package carfeed consumes an RSS 2.0 inventory feed. Feeds carry the whole
// inventory on every poll, so Search filters client-side and paginates over
// the filtered slice.
package carfeed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

const Tag = "carfeed"

// itemTitleRe parses feed titles shaped like
// "2018 Honda Civic EX - $18,500" into year, description, and price.
var itemTitleRe = regexp.MustCompile(`^(\d{4})\s+(.+?)(?:\s*-\s*\$([\d,]+))?$`)

type Adapter struct {
	client  *http.Client
	feedURL string
}

func New(client *http.Client, feedURL string) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{client: client, feedURL: feedURL}
}

func (a *Adapter) Tag() string             { return Tag }
func (a *Adapter) Kind() models.SourceKind { return models.KindFeed }

type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID        string `xml:"guid"`
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	// Dealer feed extensions; optional.
	VIN     string `xml:"vin"`
	Make    string `xml:"make"`
	Model   string `xml:"model"`
	Mileage string `xml:"mileage"`
	Image   string `xml:"image"`
}

func (a *Adapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, sources.SearchMeta, error) {
	var meta sources.SearchMeta

	all, err := a.fetch(ctx, "search")
	if err != nil {
		return nil, meta, err
	}

	matched := make([]models.Listing, 0, len(all))
	q := strings.ToLower(strings.TrimSpace(query))
	for _, l := range all {
		if !matchesFilters(l, filters) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(l.Title), q) &&
			!strings.Contains(strings.ToLower(l.Description), q) {
			continue
		}
		matched = append(matched, l)
	}

	meta.TotalClaimed = len(matched)
	lo := (page - 1) * perPage
	if lo >= len(matched) {
		return nil, meta, nil
	}
	hi := lo + perPage
	if hi > len(matched) {
		hi = len(matched)
	}
	meta.Truncated = hi < len(matched)
	return matched[lo:hi], meta, nil
}

func (a *Adapter) GetDetails(ctx context.Context, sourceListingID string) (models.Listing, error) {
	all, err := a.fetch(ctx, "details")
	if err != nil {
		return models.Listing{}, err
	}
	for _, l := range all {
		if l.SourceListingID == sourceListingID {
			return l, nil
		}
	}
	return models.Listing{}, sources.NewError(Tag, "details", sources.KindNotFound,
		fmt.Errorf("item %s not in feed", sourceListingID))
}

func (a *Adapter) Health(ctx context.Context) sources.HealthStatus {
	now := time.Now().UTC()
	items, err := a.fetch(ctx, "health")
	if err != nil {
		return sources.HealthStatus{State: sources.Unhealthy, Message: err.Error(), CheckedAt: now}
	}
	if len(items) == 0 {
		return sources.HealthStatus{State: sources.Degraded, Message: "feed is empty", CheckedAt: now}
	}
	return sources.HealthStatus{State: sources.Healthy, CheckedAt: now}
}

func (a *Adapter) fetch(ctx context.Context, op string) ([]models.Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.feedURL, nil)
	if err != nil {
		return nil, sources.NewError(Tag, op, sources.KindInternal, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml")

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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, sources.NewError(Tag, op, sources.KindTransient, err)
	}

	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, sources.NewError(Tag, op, sources.KindPermanent, fmt.Errorf("decode feed: %w", err))
	}

	now := time.Now().UTC()
	out := make([]models.Listing, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		l, ok := fromItem(item, now)
		if !ok {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func fromItem(item rssItem, now time.Time) (models.Listing, bool) {
	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		return models.Listing{}, false
	}

	l := models.Listing{
		Source:          Tag,
		SourceListingID: id,
		Title:           strings.TrimSpace(item.Title),
		Make:            strings.TrimSpace(item.Make),
		Model:           strings.TrimSpace(item.Model),
		VIN:             strings.TrimSpace(item.VIN),
		URL:             strings.TrimSpace(item.Link),
		Description:     strings.TrimSpace(item.Description),
		Attributes:      map[string]interface{}{},
	}
	if item.Image != "" {
		l.ImageURLs = []string{strings.TrimSpace(item.Image)}
	}
	if item.Mileage != "" {
		if miles, err := strconv.Atoi(strings.ReplaceAll(item.Mileage, ",", "")); err == nil && miles >= 0 {
			l.Mileage = &miles
		}
	}

	if m := itemTitleRe.FindStringSubmatch(l.Title); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil {
			l.Year = year
		}
		if l.Make == "" || l.Model == "" {
			fields := strings.Fields(m[2])
			if len(fields) > 0 && l.Make == "" {
				l.Make = fields[0]
			}
			if len(fields) > 1 && l.Model == "" {
				l.Model = fields[1]
			}
			if len(fields) > 2 {
				l.Trim = strings.Join(fields[2:], " ")
			}
		}
		if m[3] != "" {
			if price, err := strconv.ParseFloat(strings.ReplaceAll(m[3], ",", ""), 64); err == nil && price > 0 {
				l.Price = &price
			}
		}
	}

	if ts, err := parsePubDate(item.PubDate); err == nil {
		l.LastSeenAt = ts
	}
	l.Normalize(now)
	return l, true
}

func parsePubDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate %q", s)
}

func matchesFilters(l models.Listing, f models.FilterSet) bool {
	if f.Make != "" && !strings.EqualFold(l.Make, f.Make) {
		return false
	}
	if len(f.Models) > 0 {
		found := false
		for _, m := range f.Models {
			if strings.EqualFold(l.Model, m) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.YearMin != nil && l.Year < *f.YearMin {
		return false
	}
	if f.YearMax != nil && l.Year > *f.YearMax {
		return false
	}
	if f.PriceMin != nil && (l.Price == nil || *l.Price < *f.PriceMin) {
		return false
	}
	if f.PriceMax != nil && (l.Price == nil || *l.Price > *f.PriceMax) {
		return false
	}
	if f.MileageMax != nil && (l.Mileage == nil || *l.Mileage > *f.MileageMax) {
		return false
	}
	if f.MileageMin != nil && (l.Mileage == nil || *l.Mileage < *f.MileageMin) {
		return false
	}
	return true
}
