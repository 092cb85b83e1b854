package gotiler

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/pmtiles"
)

func premises() []domain.Premise {
	return []domain.Premise{
		{
			ID: "a", Address: "Via Roma 1", Status: domain.StatusVacant, Surface: 80,
			Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[12.4960,41.9025],[12.4965,41.9025],[12.4965,41.9030],[12.4960,41.9030],[12.4960,41.9025]]]}`),
		},
		{ID: "b", Address: "Via Po 2", Status: domain.StatusOccupied, Coordinates: &orb.Point{12.4970, 41.9035}},
		{ID: "c", Address: "senza posizione", Status: domain.StatusOther},
	}
}

func TestPremiseFeatures(t *testing.T) {
	fc := PremiseFeatures(premises())
	if len(fc.Features) != 2 {
		t.Fatalf("got %d features, want 2 (record without geometry skipped)", len(fc.Features))
	}
	if _, ok := fc.Features[0].Geometry.(orb.Polygon); !ok {
		t.Errorf("stored geometry should be kept, got %T", fc.Features[0].Geometry)
	}
	if p, ok := fc.Features[1].Geometry.(orb.Point); !ok || p != (orb.Point{12.4970, 41.9035}) {
		t.Errorf("coordinates fallback = %v", fc.Features[1].Geometry)
	}
	if fc.Features[1].Properties["stato"] != "occupato" {
		t.Errorf("stato = %v", fc.Features[1].Properties["stato"])
	}
}

func TestEncodeTileProperties(t *testing.T) {
	fc := PremiseFeatures(premises())
	tile := maptile.At(orb.Point{12.4970, 41.9035}, 16)

	data := encodeTile(tile, fc.Features, DefaultLayer)
	if data == nil {
		t.Fatal("expected a tile")
	}
	layers, err := mvt.UnmarshalGzipped(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 || layers[0].Name != DefaultLayer {
		t.Fatalf("layers = %+v", layers)
	}
	var found bool
	for _, f := range layers[0].Features {
		if f.Properties["id"] == "b" {
			found = true
			if f.Properties["indirizzo"] != "Via Po 2" {
				t.Errorf("indirizzo = %v", f.Properties["indirizzo"])
			}
		}
	}
	if !found {
		t.Error("point premise missing from its tile")
	}

	// the source geometry must survive clipping and projection
	if p := fc.Features[1].Geometry.(orb.Point); p != (orb.Point{12.4970, 41.9035}) {
		t.Errorf("source geometry mutated: %v", p)
	}
}

func TestEncodeArchive(t *testing.T) {
	data, sum, err := Encode(PremiseFeatures(premises()), Config{MinZoom: 12, MaxZoom: 14})
	if err != nil {
		t.Fatal(err)
	}
	h, err := pmtiles.DeserializeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	if h.MinZoom != 12 || h.MaxZoom != 14 || h.TileType != pmtiles.Mvt {
		t.Errorf("header = %+v", h)
	}
	if sum.Features != 2 || sum.Tiles < 3 || int(h.TileEntriesCount) != sum.Tiles {
		t.Errorf("summary = %+v, entries %d", sum, h.TileEntriesCount)
	}
	if sum.Bytes != int64(len(data)) {
		t.Errorf("bytes = %d, len = %d", sum.Bytes, len(data))
	}
	if h.MinLonE7 != 124960000 || h.MaxLatE7 != 419035000 {
		t.Errorf("bounds = %d..%d", h.MinLonE7, h.MaxLatE7)
	}
}

func TestEncodeNothing(t *testing.T) {
	_, _, err := Encode(PremiseFeatures(premises()[2:]), Config{})
	if !errors.Is(err, ErrNoFeatures) {
		t.Errorf("expected ErrNoFeatures, got %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles", "p.pmtiles")
	sum, err := WriteFile(path, PremiseFeatures(premises()), Config{MinZoom: 14, MaxZoom: 14})
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != sum.Bytes {
		t.Errorf("file size %d, summary %d", info.Size(), sum.Bytes)
	}
}

func TestConfigNormalized(t *testing.T) {
	tests := []struct {
		in, want Config
	}{
		{Config{}, Config{Layer: DefaultLayer, MinZoom: 0, MaxZoom: 14}},
		{Config{Layer: "x", MinZoom: -3, MaxZoom: 30}, Config{Layer: "x", MinZoom: 0, MaxZoom: MaxZoom}},
		{Config{MinZoom: 16, MaxZoom: 12}, Config{Layer: DefaultLayer, MinZoom: 12, MaxZoom: 12}},
	}
	for _, tt := range tests {
		if got := tt.in.normalized(); got != tt.want {
			t.Errorf("%+v.normalized() = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
