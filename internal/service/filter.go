package service

import (
	"math"
	"strings"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// PremiseFilter narrows the premises shown on the map. The zero value
// matches everything.
type PremiseFilter struct {
	HideVacant   bool
	HideOccupied bool
	HideOther    bool
	Search       string   // case-insensitive address substring
	MinSurface   *float64 // inclusive
	MaxSurface   *float64 // inclusive
	Sheet        string   // cadastral "foglio" in properties_raw
	Parcel       string   // cadastral "particella" in properties_raw
}

// Match reports whether p passes every active criterion.
func (f PremiseFilter) Match(p domain.Premise) bool {
	switch p.Status {
	case domain.StatusVacant:
		if f.HideVacant {
			return false
		}
	case domain.StatusOccupied:
		if f.HideOccupied {
			return false
		}
	case domain.StatusOther:
		if f.HideOther {
			return false
		}
	}
	if q := strings.TrimSpace(f.Search); q != "" &&
		!strings.Contains(strings.ToLower(p.Address), strings.ToLower(q)) {
		return false
	}
	if f.MinSurface != nil && p.Surface < *f.MinSurface {
		return false
	}
	if f.MaxSurface != nil && p.Surface > *f.MaxSurface {
		return false
	}
	return rawEquals(p.PropertiesRaw, "foglio", f.Sheet) &&
		rawEquals(p.PropertiesRaw, "particella", f.Parcel)
}

// rawEquals compares the raw property whose name is key (any case) with
// want. An empty want always matches.
func rawEquals(props domain.PropertyBag, key, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return true
	}
	found := false
	props.Each(func(k string, v domain.Value) {
		if !found && strings.EqualFold(k, key) {
			found = strings.EqualFold(strings.TrimSpace(v.Text()), want)
		}
	})
	return found
}

// FilterPremises returns the premises matching f, in input order.
func FilterPremises(premises []domain.Premise, f PremiseFilter) []domain.Premise {
	out := make([]domain.Premise, 0, len(premises))
	for _, p := range premises {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// FilteredStats are the counters of a filtered set.
type FilteredStats struct {
	domain.Stats
	VacancyRate float64 `json:"tasso_sfitto"` // percent, one decimal
}

// StatsFor counts premises and rounds the vacancy rate to one decimal.
func StatsFor(premises []domain.Premise) FilteredStats {
	s := domain.StatsOf(premises)
	return FilteredStats{Stats: s, VacancyRate: math.Round(s.VacancyRate()*10) / 10}
}
