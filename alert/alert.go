// Package alert evaluates saved-search filters against ad records.
package alert

import (
	"encoding/json"
	"fmt"
	"strings"

	"bazaraki-watcher/pkg/listing"
)

// Filters is the decoded saved-search payload. Zero values mean "not set".
// Model accepts either a single string or a list in JSON.
type Filters struct {
	Brand        string    `json:"brand,omitempty"`
	Model        ModelList `json:"model,omitempty"`
	YearMin      int       `json:"year_min,omitempty"`
	YearMax      int       `json:"year_max,omitempty"`
	PriceMin     int       `json:"price_min,omitempty"`
	PriceMax     int       `json:"price_max,omitempty"`
	MileageMin   int       `json:"mileage_min,omitempty"`
	MileageMax   int       `json:"mileage_max,omitempty"`
	EngineMin    int       `json:"engine_min,omitempty"`
	EngineMax    int       `json:"engine_max,omitempty"`
	Gearbox      string    `json:"gearbox,omitempty"`
	FuelType     string    `json:"fuel_type,omitempty"`
	DriveType    string    `json:"drive_type,omitempty"`
	BodyType     string    `json:"body_type,omitempty"`
	Color        string    `json:"color,omitempty"`
	Status       string    `json:"ad_status,omitempty"`
	IsBusiness   *bool     `json:"is_business,omitempty"`
	TargetUserID string    `json:"target_user_id,omitempty"`
}

// ModelList tolerates both `"model": "Yaris"` and `"model": ["Yaris", "Corolla"]`.
type ModelList []string

// UnmarshalJSON implements json.Unmarshaler.
func (m *ModelList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*m = ModelList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("model filter must be a string or list of strings: %w", err)
	}
	*m = ModelList(many)
	return nil
}

// ParseFilters decodes a stored filter payload.
func ParseFilters(raw json.RawMessage) (Filters, error) {
	var f Filters
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return Filters{}, fmt.Errorf("decode alert filters: %w", err)
	}
	return f, nil
}

// Matches reports whether an ad satisfies every set filter. String
// comparisons are case-insensitive. A set filter against a missing ad field
// never matches.
func Matches(ad listing.Ad, f Filters) bool {
	if f.Brand != "" && !strings.EqualFold(f.Brand, ad.Brand) {
		return false
	}

	if len(f.Model) > 0 && !containsFold(f.Model, ad.Model) {
		return false
	}

	if f.YearMin > 0 && (ad.Year == 0 || ad.Year < f.YearMin) {
		return false
	}
	if f.YearMax > 0 && (ad.Year == 0 || ad.Year > f.YearMax) {
		return false
	}

	if f.PriceMin > 0 && (ad.CurrentPrice == 0 || ad.CurrentPrice < f.PriceMin) {
		return false
	}
	if f.PriceMax > 0 && (ad.CurrentPrice == 0 || ad.CurrentPrice > f.PriceMax) {
		return false
	}

	if f.MileageMin > 0 && (ad.Mileage == 0 || ad.Mileage < f.MileageMin) {
		return false
	}
	if f.MileageMax > 0 && (ad.Mileage == 0 || ad.Mileage > f.MileageMax) {
		return false
	}

	if f.EngineMin > 0 && (ad.EngineSize == 0 || ad.EngineSize < f.EngineMin) {
		return false
	}
	if f.EngineMax > 0 && (ad.EngineSize == 0 || ad.EngineSize > f.EngineMax) {
		return false
	}

	exact := []struct{ want, got string }{
		{f.Gearbox, ad.Gearbox},
		{f.FuelType, ad.FuelType},
		{f.DriveType, ad.DriveType},
		{f.BodyType, ad.BodyType},
		{f.Color, ad.Color},
	}
	for _, e := range exact {
		if e.want != "" && !strings.EqualFold(e.want, e.got) {
			return false
		}
	}

	if f.Status != "" && !statusMatches(f.Status, ad.Status) {
		return false
	}

	if f.IsBusiness != nil {
		if ad.IsBusiness == nil || *ad.IsBusiness != *f.IsBusiness {
			return false
		}
	}

	if f.TargetUserID != "" {
		want := strings.ToLower(strings.TrimSpace(f.TargetUserID))
		got := strings.ToLower(strings.TrimSpace(ad.SellerID))
		if want != got {
			return false
		}
	}

	return true
}

// statusMatches handles the VIP+TOP filter value, which matches an ad in
// either of the two boosted tiers.
func statusMatches(want string, got listing.Status) bool {
	if strings.EqualFold(want, listing.FilterStatusVIPTop) {
		return got == listing.StatusVIP || got == listing.StatusTop
	}
	return strings.EqualFold(want, string(got))
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
