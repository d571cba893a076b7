package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FilterSet is the structured filter vocabulary the search surface accepts.
// Optional numeric bounds are pointers so "absent" and "zero" stay distinct.
type FilterSet struct {
	Make             string             `json:"make,omitempty"`
	Models           []string           `json:"models,omitempty"`
	YearMin          *int               `json:"year_min,omitempty"`
	YearMax          *int               `json:"year_max,omitempty"`
	PriceMin         *float64           `json:"price_min,omitempty"`
	PriceMax         *float64           `json:"price_max,omitempty"`
	MileageMin       *int               `json:"mileage_min,omitempty"`
	MileageMax       *int               `json:"mileage_max,omitempty"`
	BodyStyle        string             `json:"body_style,omitempty"`
	ExteriorColors   []string           `json:"exterior_color,omitempty"`
	ExcludeColors    []string           `json:"exclude_colors,omitempty"`
	Transmission     string             `json:"transmission,omitempty"`
	Drivetrain       string             `json:"drivetrain,omitempty"`
	FuelType         string             `json:"fuel_type,omitempty"`
	RequiredFeatures []string           `json:"required_features,omitempty"`

	// Attributes holds numeric minimum predicates against the open
	// attributes bag, e.g. {"horsepower": 200}.
	Attributes map[string]float64 `json:"attributes,omitempty"`

	CleanTitleOnly bool `json:"clean_title_only,omitempty"`
	NoAccidents    bool `json:"no_accidents,omitempty"`
	OneOwnerOnly   bool `json:"one_owner_only,omitempty"`
	CertifiedOnly  bool `json:"certified_only,omitempty"`
}

// IsZero reports whether no predicate is set.
func (f FilterSet) IsZero() bool {
	return f.Make == "" && len(f.Models) == 0 && f.YearMin == nil && f.YearMax == nil &&
		f.PriceMin == nil && f.PriceMax == nil && f.MileageMin == nil && f.MileageMax == nil &&
		f.BodyStyle == "" && len(f.ExteriorColors) == 0 && len(f.ExcludeColors) == 0 &&
		f.Transmission == "" && f.Drivetrain == "" && f.FuelType == "" &&
		len(f.RequiredFeatures) == 0 && len(f.Attributes) == 0 &&
		!f.CleanTitleOnly && !f.NoAccidents && !f.OneOwnerOnly && !f.CertifiedOnly
}

// Validate rejects bounds outside the accepted vocabulary. Errors here are
// caller errors and never consume retry budget.
func (f FilterSet) Validate(now time.Time) error {
	maxYear := MaxYear(now)
	if f.YearMin != nil && (*f.YearMin < MinYear || *f.YearMin > maxYear) {
		return fmt.Errorf("year_min %d outside [%d, %d]", *f.YearMin, MinYear, maxYear)
	}
	if f.YearMax != nil && (*f.YearMax < MinYear || *f.YearMax > maxYear) {
		return fmt.Errorf("year_max %d outside [%d, %d]", *f.YearMax, MinYear, maxYear)
	}
	if f.YearMin != nil && f.YearMax != nil && *f.YearMin > *f.YearMax {
		return fmt.Errorf("year_min %d greater than year_max %d", *f.YearMin, *f.YearMax)
	}
	if f.PriceMin != nil && *f.PriceMin < 0 {
		return fmt.Errorf("price_min %.2f negative", *f.PriceMin)
	}
	if f.PriceMax != nil && *f.PriceMax < 0 {
		return fmt.Errorf("price_max %.2f negative", *f.PriceMax)
	}
	if f.MileageMin != nil && *f.MileageMin < 0 {
		return fmt.Errorf("mileage_min %d negative", *f.MileageMin)
	}
	if f.MileageMax != nil && *f.MileageMax < 0 {
		return fmt.Errorf("mileage_max %d negative", *f.MileageMax)
	}
	return nil
}

// Merge overlays derived filters under the caller's. Caller-provided values
// always win; derived values only fill gaps.
func (f FilterSet) Merge(derived FilterSet) FilterSet {
	out := f
	if out.Make == "" {
		out.Make = derived.Make
	}
	if len(out.Models) == 0 {
		out.Models = derived.Models
	}
	if out.YearMin == nil {
		out.YearMin = derived.YearMin
	}
	if out.YearMax == nil {
		out.YearMax = derived.YearMax
	}
	if out.PriceMin == nil {
		out.PriceMin = derived.PriceMin
	}
	if out.PriceMax == nil {
		out.PriceMax = derived.PriceMax
	}
	if out.MileageMin == nil {
		out.MileageMin = derived.MileageMin
	}
	if out.MileageMax == nil {
		out.MileageMax = derived.MileageMax
	}
	if out.BodyStyle == "" {
		out.BodyStyle = derived.BodyStyle
	}
	if out.Transmission == "" {
		out.Transmission = derived.Transmission
	}
	if out.Drivetrain == "" {
		out.Drivetrain = derived.Drivetrain
	}
	if out.FuelType == "" {
		out.FuelType = derived.FuelType
	}
	if derived.Attributes != nil {
		if out.Attributes == nil {
			out.Attributes = map[string]float64{}
		}
		for k, v := range derived.Attributes {
			if _, ok := out.Attributes[k]; !ok {
				out.Attributes[k] = v
			}
		}
	}
	return out
}

// CanonicalJSON renders the filter set deterministically for cache keying.
// encoding/json emits struct fields in declaration order and map keys sorted,
// so equal sets always produce equal bytes.
func (f FilterSet) CanonicalJSON() string {
	c := f
	c.Models = sortedLower(c.Models)
	c.ExteriorColors = sortedLower(c.ExteriorColors)
	c.ExcludeColors = sortedLower(c.ExcludeColors)
	c.RequiredFeatures = sortedLower(c.RequiredFeatures)
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func sortedLower(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
