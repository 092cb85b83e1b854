package export

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

type feature struct {
	Type       string             `json:"type"`
	Geometry   json.RawMessage    `json:"geometry"`
	Properties domain.PropertyBag `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// exportGeometry returns the stored geometry, else a Point at the stored
// coordinates, else a Point at [0,0].
func exportGeometry(raw json.RawMessage, coords *orb.Point) (json.RawMessage, error) {
	if domain.HasGeometry(raw) {
		return raw, nil
	}
	p := orb.Point{0, 0}
	if coords != nil {
		p = *coords
	}
	return geojson.NewGeometry(p).MarshalJSON()
}

// withRaw appends the raw properties after the normalized ones. A raw key
// that repeats a normalized one keeps the normalized position and takes
// the raw value.
func withRaw(normalized domain.PropertyBag, raw domain.PropertyBag) domain.PropertyBag {
	out := normalized.Clone()
	raw.Each(func(k string, v domain.Value) { out.Set(k, v) })
	return out
}

func encode(features []feature) ([]byte, error) {
	if features == nil {
		features = []feature{}
	}
	return json.MarshalIndent(featureCollection{Type: "FeatureCollection", Features: features}, "", "  ")
}

// PremisesGeoJSON renders premises as a FeatureCollection.
func PremisesGeoJSON(premises []domain.Premise) ([]byte, error) {
	features := make([]feature, 0, len(premises))
	for _, p := range premises {
		g, err := exportGeometry(p.Geometry, p.Coordinates)
		if err != nil {
			return nil, fmt.Errorf("geometry of %s: %w", p.ID, err)
		}
		props := domain.NewPropertyBag(
			"indirizzo", p.Address,
			"superficie", p.Surface,
			"stato", string(p.Status),
			"canone", p.Rent,
			"conduttore", p.Tenant,
		)
		features = append(features, feature{Type: "Feature", Geometry: g, Properties: withRaw(props, p.PropertiesRaw)})
	}
	return encode(features)
}

// ActivitiesGeoJSON renders activities as a FeatureCollection.
func ActivitiesGeoJSON(activities []domain.Activity) ([]byte, error) {
	features := make([]feature, 0, len(activities))
	for _, a := range activities {
		g, err := exportGeometry(a.Geometry, a.Coordinates)
		if err != nil {
			return nil, fmt.Errorf("geometry of %s: %w", a.ID, err)
		}
		props := domain.NewPropertyBag(
			"ragione_sociale", a.LegalName,
			"partita_iva", a.VATNumber,
			"codice_fiscale", a.FiscalCode,
			"mestiere", a.Trade,
			"descrizione_mestiere", a.TradeDescription,
			"ateco2025", a.Ateco,
			"descrizione_ateco", a.AtecoDescription,
			"strada", a.Street,
			"civico", a.HouseNumber,
			"comune", a.Municipality,
			"cap", a.PostalCode,
			"provincia", a.Province,
			"regione", a.Region,
			"frazione", a.Hamlet,
		)
		features = append(features, feature{Type: "Feature", Geometry: g, Properties: withRaw(props, a.PropertiesRaw)})
	}
	return encode(features)
}
