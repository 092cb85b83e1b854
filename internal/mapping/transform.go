package mapping

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
)

// Premise builds the premise record for the feature at index i.
func Premise(f geo.Feature, i int, projectID string, m domain.FieldMapping) domain.Premise {
	address := text(f.Properties, m, KeyAddress)
	if address == "" {
		address = fmt.Sprintf("Locale %d", i+1)
	}
	return domain.Premise{
		ProjectID:     projectID,
		Address:       address,
		Surface:       amount(f.Properties, m, KeySurface),
		Status:        StatusOf(f.Properties, m),
		Rent:          amount(f.Properties, m, KeyRent),
		Tenant:        text(f.Properties, m, KeyTenant),
		Coordinates:   coordinates(f, m),
		Geometry:      geometry(f.Geometry),
		PropertiesRaw: f.Properties.Clone(),
	}
}

// Activity builds the activity record for a feature.
func Activity(f geo.Feature, projectID string, m domain.FieldMapping) domain.Activity {
	p := f.Properties
	return domain.Activity{
		ProjectID:         projectID,
		LegalName:         text(p, m, KeyLegalName),
		VATNumber:         text(p, m, KeyVATNumber),
		FiscalCode:        text(p, m, KeyFiscalCode),
		LegalForm:         text(p, m, KeyLegalForm),
		SME:               text(p, m, KeySME),
		Trade:             text(p, m, KeyTrade),
		TradeDescription:  text(p, m, KeyTradeDescription),
		Ateco:             text(p, m, KeyAteco),
		AtecoDescription:  text(p, m, KeyAtecoDescription),
		Street:            text(p, m, KeyStreet),
		HouseNumber:       text(p, m, KeyHouseNumber),
		Hamlet:            text(p, m, KeyHamlet),
		Municipality:      text(p, m, KeyMunicipality),
		PostalCode:        text(p, m, KeyPostalCode),
		Province:          text(p, m, KeyProvince),
		Region:            text(p, m, KeyRegion),
		LegalSeatProvince: text(p, m, KeyLegalSeatProvince),
		Latitude:          optional(p, m, KeyLatitude),
		Longitude:         optional(p, m, KeyLongitude),
		Coordinates:       coordinates(f, m),
		Geometry:          geometry(f.Geometry),
		PropertiesRaw:     p.Clone(),
	}
}

// Premises transforms a whole collection.
func Premises(fc *geo.FeatureCollection, projectID string, m domain.FieldMapping) []domain.Premise {
	out := make([]domain.Premise, 0, fc.Len())
	for i, f := range fc.Features {
		out = append(out, Premise(f, i, projectID, m))
	}
	return out
}

// Activities transforms a whole collection.
func Activities(fc *geo.FeatureCollection, projectID string, m domain.FieldMapping) []domain.Activity {
	out := make([]domain.Activity, 0, fc.Len())
	for _, f := range fc.Features {
		out = append(out, Activity(f, projectID, m))
	}
	return out
}

// coordinates prefers mapped lat/lng fields and falls back to the centroid.
func coordinates(f geo.Feature, m domain.FieldMapping) *orb.Point {
	lat, latOK := finite(f.Properties, m, KeyLatitude)
	lng, lngOK := finite(f.Properties, m, KeyLongitude)
	if latOK && lngOK {
		return &orb.Point{lng, lat}
	}
	return geo.Centroid(f.Geometry)
}

func geometry(raw json.RawMessage) json.RawMessage {
	if !domain.HasGeometry(raw) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func lookup(p domain.PropertyBag, m domain.FieldMapping, key string) (domain.Value, bool) {
	src, ok := m.Source(key)
	if !ok {
		return domain.Value{}, false
	}
	return p.Get(src)
}

// text reads a string field; falsy values become "".
func text(p domain.PropertyBag, m domain.FieldMapping, key string) string {
	v, ok := lookup(p, m, key)
	if !ok || !v.Truthy() {
		return ""
	}
	return v.Text()
}

func finite(p domain.PropertyBag, m domain.FieldMapping, key string) (float64, bool) {
	v, ok := lookup(p, m, key)
	if !ok {
		return 0, false
	}
	n, ok := v.Float()
	if !ok || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// amount reads a non-negative number, 0 when absent or unparsable.
func amount(p domain.PropertyBag, m domain.FieldMapping, key string) float64 {
	n, ok := finite(p, m, key)
	if !ok || n < 0 {
		return 0
	}
	return n
}

// optional reads a number that is null when absent, unparsable or zero.
func optional(p domain.PropertyBag, m domain.FieldMapping, key string) *float64 {
	n, ok := finite(p, m, key)
	if !ok || n == 0 {
		return nil
	}
	return &n
}
