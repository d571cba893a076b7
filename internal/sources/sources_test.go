package sources

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

type stubAdapter struct {
	tag   string
	kind  models.SourceKind
	state string
}

func (s *stubAdapter) Tag() string             { return s.tag }
func (s *stubAdapter) Kind() models.SourceKind { return s.kind }

func (s *stubAdapter) Search(ctx context.Context, query string, filters models.FilterSet, page, perPage int) ([]models.Listing, SearchMeta, error) {
	return nil, SearchMeta{}, nil
}

func (s *stubAdapter) GetDetails(ctx context.Context, id string) (models.Listing, error) {
	return models.Listing{}, nil
}

func (s *stubAdapter) Health(ctx context.Context) HealthStatus {
	return HealthStatus{State: s.state, CheckedAt: time.Now()}
}

func TestRegisterRejectsDuplicateTags(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubAdapter{tag: "ebay", kind: models.KindAPI}, true, 10); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubAdapter{tag: "ebay", kind: models.KindAPI}, true, 5); err == nil {
		t.Error("duplicate tag must be rejected")
	}
}

func TestEnabledOrdering(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{tag: "autotrader", kind: models.KindScrape}, true, 5)
	r.Register(&stubAdapter{tag: "ebay", kind: models.KindAPI}, true, 10)
	r.Register(&stubAdapter{tag: "carfeed", kind: models.KindFeed}, true, 5)
	r.Register(&stubAdapter{tag: "disabled", kind: models.KindAPI}, false, 99)

	got := r.EnabledTags()
	want := []string{"ebay", "autotrader", "carfeed"}
	if len(got) != len(want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tags = %v, want %v (priority desc, tag asc)", got, want)
		}
	}
}

func TestSetEnabledFlipsAtRuntime(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{tag: "ebay", kind: models.KindAPI}, true, 10)

	if err := r.SetEnabled("ebay", false); err != nil {
		t.Fatal(err)
	}
	if len(r.Enabled()) != 0 {
		t.Error("disabled source still listed")
	}
	if err := r.SetEnabled("stranger", true); err == nil {
		t.Error("unknown tag must error")
	}
}

func TestCheckHealthUpdatesDescriptors(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{tag: "ebay", kind: models.KindAPI, state: Healthy}, true, 10)
	r.Register(&stubAdapter{tag: "carfeed", kind: models.KindFeed, state: Degraded}, true, 4)

	out := r.CheckHealth(context.Background(), time.Second)
	if out["ebay"].State != Healthy || out["carfeed"].State != Degraded {
		t.Errorf("probe results = %+v", out)
	}

	d, _ := r.Descriptor("carfeed")
	if d.HealthState != Degraded || d.LastHealthChecked.IsZero() {
		t.Errorf("descriptor not updated: %+v", d)
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusUnauthorized:        KindUnauthorized,
		http.StatusForbidden:           KindUnauthorized,
		http.StatusNotFound:            KindNotFound,
		http.StatusInternalServerError: KindTransient,
		http.StatusBadGateway:          KindTransient,
		http.StatusBadRequest:          KindValidation,
	}
	for status, want := range cases {
		if got := ClassifyHTTP(status); got != want {
			t.Errorf("ClassifyHTTP(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if KindOf(context.DeadlineExceeded) != KindDeadlineExceeded {
		t.Error("deadline errors must classify as deadline_exceeded")
	}
	if KindOf(context.Canceled) != KindDeadlineExceeded {
		t.Error("cancellation must classify as deadline_exceeded")
	}
}

func TestRetryableAndBreakerAccounting(t *testing.T) {
	cases := []struct {
		kind      ErrorKind
		retryable bool
		breaker   bool
	}{
		{KindTransient, true, true},
		{KindRateLimited, true, false},
		{KindUnauthorized, false, true},
		{KindNotFound, false, false},
		{KindValidation, false, false},
		{KindPermanent, false, true},
		{KindCircuitOpen, false, false},
		{KindDeadlineExceeded, false, true},
		{KindInternal, false, true},
	}
	for _, tc := range cases {
		err := NewError("s", "op", tc.kind, nil)
		if Retryable(err) != tc.retryable {
			t.Errorf("%s: Retryable = %v", tc.kind, !tc.retryable)
		}
		if CountsAsBreakerFailure(err) != tc.breaker {
			t.Errorf("%s: CountsAsBreakerFailure = %v", tc.kind, !tc.breaker)
		}
	}
}
