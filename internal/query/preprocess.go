// Package query maps a free-form query string into structured filters plus a
// residual query. Recognized tokens are consumed; everything else passes
// through for title matching.
package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thetangstr/findmycar/internal/models"
)

// Derived is the pre-processor output. Filter values here are merged under
// caller-provided filters, caller values winning.
type Derived struct {
	Filters  models.FilterSet
	Residual string
}

// knownMakes maps lowercase make tokens to canonical names.
var knownMakes = map[string]string{
	"honda": "Honda", "acura": "Acura", "toyota": "Toyota", "lexus": "Lexus",
	"nissan": "Nissan", "infiniti": "Infiniti", "mazda": "Mazda",
	"subaru": "Subaru", "mitsubishi": "Mitsubishi", "ford": "Ford",
	"chevrolet": "Chevrolet", "chevy": "Chevrolet", "dodge": "Dodge",
	"jeep": "Jeep", "ram": "Ram", "gmc": "GMC", "tesla": "Tesla",
	"bmw": "BMW", "audi": "Audi", "volkswagen": "Volkswagen", "vw": "Volkswagen",
	"porsche": "Porsche", "volvo": "Volvo", "hyundai": "Hyundai", "kia": "Kia",
	"mercedes": "Mercedes-Benz", "mercedes-benz": "Mercedes-Benz",
}

// knownModels maps lowercase model tokens to (make, canonical model).
var knownModels = map[string][2]string{
	"civic": {"Honda", "Civic"}, "accord": {"Honda", "Accord"},
	"cr-v": {"Honda", "CR-V"}, "crv": {"Honda", "CR-V"}, "s2000": {"Honda", "S2000"},
	"integra": {"Acura", "Integra"}, "nsx": {"Acura", "NSX"},
	"corolla": {"Toyota", "Corolla"}, "camry": {"Toyota", "Camry"},
	"supra": {"Toyota", "Supra"}, "tacoma": {"Toyota", "Tacoma"},
	"4runner": {"Toyota", "4Runner"}, "altima": {"Nissan", "Altima"},
	"240sx": {"Nissan", "240SX"}, "350z": {"Nissan", "350Z"}, "370z": {"Nissan", "370Z"},
	"gt-r": {"Nissan", "GT-R"}, "gtr": {"Nissan", "GT-R"}, "skyline": {"Nissan", "Skyline"},
	"miata": {"Mazda", "MX-5 Miata"}, "mx-5": {"Mazda", "MX-5 Miata"},
	"rx-7": {"Mazda", "RX-7"}, "rx7": {"Mazda", "RX-7"},
	"wrx": {"Subaru", "WRX"}, "impreza": {"Subaru", "Impreza"}, "outback": {"Subaru", "Outback"},
	"mustang": {"Ford", "Mustang"}, "f-150": {"Ford", "F-150"}, "f150": {"Ford", "F-150"},
	"corvette": {"Chevrolet", "Corvette"}, "camaro": {"Chevrolet", "Camaro"},
	"silverado": {"Chevrolet", "Silverado"}, "wrangler": {"Jeep", "Wrangler"},
	"golf": {"Volkswagen", "Golf"}, "gti": {"Volkswagen", "Golf GTI"},
	"jetta": {"Volkswagen", "Jetta"}, "911": {"Porsche", "911"},
	"cayman": {"Porsche", "Cayman"}, "m3": {"BMW", "M3"}, "m5": {"BMW", "M5"},
	"model3": {"Tesla", "Model 3"}, "elantra": {"Hyundai", "Elantra"},
}

var (
	yearRe       = regexp.MustCompile(`^(19[9][0-9]|20[0-9][0-9])$`)
	priceKRe     = regexp.MustCompile(`^\$?([0-9]+(?:\.[0-9]+)?)k$`)
	priceFullRe  = regexp.MustCompile(`^\$?([0-9][0-9,]{2,})$`)
)

// lowMileageCap is what "low mileage" means as a hard bound.
const lowMileageCap = 50000

// Preprocess parses the free-form query. Year extraction accepts four-digit
// years in 1990..current+1; chassis codes and make/model keywords become
// structured filters; "under $25k" style phrases become price bounds.
func Preprocess(raw string, now time.Time) Derived {
	var d Derived
	tokens := strings.Fields(raw)
	residual := make([]string, 0, len(tokens))
	maxYear := now.Year() + 1

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		norm := strings.ToLower(normalizeToken(tok))

		if spec, ok := LookupChassis(tok); ok {
			d.Filters.Make = spec.Make
			d.Filters.Models = []string{spec.Model}
			ymin, ymax := spec.YearMin, spec.YearMax
			d.Filters.YearMin = &ymin
			d.Filters.YearMax = &ymax
			continue
		}

		if yearRe.MatchString(norm) {
			if y, err := strconv.Atoi(norm); err == nil && y >= 1990 && y <= maxYear {
				yy := y
				d.Filters.YearMin = &yy
				d.Filters.YearMax = &yy
				continue
			}
		}

		if canonical, ok := knownMakes[norm]; ok {
			d.Filters.Make = canonical
			continue
		}
		if mm, ok := knownModels[norm]; ok {
			if d.Filters.Make == "" {
				d.Filters.Make = mm[0]
			}
			d.Filters.Models = append(d.Filters.Models, mm[1])
			continue
		}

		// "under $25k" / "under 25000" / "below $9,500"
		if (norm == "under" || norm == "below" || norm == "max") && i+1 < len(tokens) {
			if price, ok := parsePrice(strings.ToLower(normalizeToken(tokens[i+1]))); ok {
				d.Filters.PriceMax = &price
				i++
				continue
			}
		}
		if (norm == "over" || norm == "above") && i+1 < len(tokens) {
			if price, ok := parsePrice(strings.ToLower(normalizeToken(tokens[i+1]))); ok {
				d.Filters.PriceMin = &price
				i++
				continue
			}
		}

		// "low mileage" / "low miles"
		if norm == "low" && i+1 < len(tokens) {
			next := strings.ToLower(normalizeToken(tokens[i+1]))
			if next == "mileage" || next == "miles" {
				maxMiles := lowMileageCap
				d.Filters.MileageMax = &maxMiles
				i++
				continue
			}
		}

		residual = append(residual, tok)
	}

	d.Residual = strings.Join(residual, " ")
	return d
}

func parsePrice(tok string) (float64, bool) {
	if m := priceKRe.FindStringSubmatch(tok); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return v * 1000, true
	}
	if m := priceFullRe.FindStringSubmatch(tok); m != nil {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func normalizeToken(tok string) string {
	return strings.ToUpper(strings.Trim(tok, ".,!?()[]\"'"))
}
