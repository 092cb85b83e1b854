package service

import (
	"testing"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

func premiseSet() []domain.Premise {
	return []domain.Premise{
		{ID: "1", Address: "Via Roma 1", Surface: 40, Status: domain.StatusVacant,
			PropertiesRaw: domain.NewPropertyBag("FOGLIO", "12", "Particella", 301)},
		{ID: "2", Address: "Corso Roma 5", Surface: 120, Status: domain.StatusOccupied,
			PropertiesRaw: domain.NewPropertyBag("foglio", "12", "particella", "44")},
		{ID: "3", Address: "Piazza Duomo", Surface: 80, Status: domain.StatusOther},
		{ID: "4", Address: "Via Po 9", Surface: 0, Status: domain.StatusVacant},
	}
}

func ids(ps []domain.Premise) string {
	s := ""
	for _, p := range ps {
		s += p.ID
	}
	return s
}

func ptr(f float64) *float64 { return &f }

func TestFilterPremises(t *testing.T) {
	tests := []struct {
		name   string
		filter PremiseFilter
		want   string
	}{
		{"zero value matches all", PremiseFilter{}, "1234"},
		{"hide vacant", PremiseFilter{HideVacant: true}, "23"},
		{"hide occupied and other", PremiseFilter{HideOccupied: true, HideOther: true}, "14"},
		{"address search ignores case", PremiseFilter{Search: "  rOMA "}, "12"},
		{"min surface inclusive", PremiseFilter{MinSurface: ptr(80)}, "23"},
		{"max surface inclusive", PremiseFilter{MaxSurface: ptr(40)}, "14"},
		{"surface range", PremiseFilter{MinSurface: ptr(1), MaxSurface: ptr(100)}, "13"},
		{"foglio any key case", PremiseFilter{Sheet: "12"}, "12"},
		{"foglio and numeric particella", PremiseFilter{Sheet: "12", Parcel: "301"}, "1"},
		{"missing raw key", PremiseFilter{Parcel: "7"}, ""},
		{"combined", PremiseFilter{Search: "via", HideVacant: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(FilterPremises(premiseSet(), tt.filter))
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatsFor(t *testing.T) {
	s := StatsFor(premiseSet())
	if s.Total != 4 || s.Vacant != 2 || s.Occupied != 1 || s.Other != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.VacancyRate != 50 {
		t.Errorf("rate = %v, want 50", s.VacancyRate)
	}

	three := premiseSet()[:3]
	if got := StatsFor(three).VacancyRate; got != 33.3 {
		t.Errorf("rate = %v, want 33.3", got)
	}
	if got := StatsFor(nil).VacancyRate; got != 0 {
		t.Errorf("empty rate = %v, want 0", got)
	}
}
