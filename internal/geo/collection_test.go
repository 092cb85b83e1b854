package geo

import (
	"errors"
	"strings"
	"testing"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

func TestDecode(t *testing.T) {
	data := []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},
			 "properties":{"STRADA":"Via Roma","CIVICO":12,"PMI":true,"EXTRA":{"a":1},"VUOTO":null}},
			{"type":"Feature","geometry":null,"properties":null}
		]
	}`)

	fc, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fc.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", fc.Len())
	}

	keys := strings.Join(fc.Keys(), ",")
	if keys != "STRADA,CIVICO,PMI,EXTRA,VUOTO" {
		t.Errorf("Keys() = %q, want document order", keys)
	}

	props := fc.Features[0].Properties
	if v, _ := props.Get("CIVICO"); v.Kind() != domain.KindNumber || v.Text() != "12" {
		t.Errorf("CIVICO = %v/%q, want number 12", v.Kind(), v.Text())
	}
	if v, _ := props.Get("EXTRA"); v.Kind() != domain.KindRaw {
		t.Errorf("EXTRA kind = %v, want raw", v.Kind())
	}
	if fc.Features[1].Properties.Len() != 0 {
		t.Errorf("null properties should decode to an empty bag")
	}
	if Centroid(fc.Features[1].Geometry) != nil {
		t.Errorf("null geometry should have no centroid")
	}
}

func TestDecodeRejectsMissingFeatures(t *testing.T) {
	cases := map[string]string{
		"missing":     `{"type":"FeatureCollection"}`,
		"not array":   `{"type":"FeatureCollection","features":{"a":1}}`,
		"null":        `{"features":null}`,
		"not json":    `features`,
		"bad feature": `{"features":[{"properties":"x"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			var verr *domain.ErrValidation
			if !errors.As(err, &verr) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDecodeEmptyFeatures(t *testing.T) {
	fc, err := Decode([]byte(`{"features":[]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fc.Len() != 0 || fc.Keys() != nil {
		t.Errorf("expected an empty collection, got %d features", fc.Len())
	}
}

func TestAcceptedFile(t *testing.T) {
	for name, want := range map[string]bool{
		"locali.geojson": true,
		"LOCALI.JSON":    true,
		"locali.csv":     false,
		"locali":         false,
	} {
		if got := AcceptedFile(name); got != want {
			t.Errorf("AcceptedFile(%q) = %v, want %v", name, got, want)
		}
	}
}
