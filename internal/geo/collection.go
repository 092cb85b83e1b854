package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// Feature is one uploaded GeoJSON feature. Geometry is kept verbatim.
type Feature struct {
	Geometry   json.RawMessage    `json:"geometry"`
	Properties domain.PropertyBag `json:"properties"`
}

// FeatureCollection is an uploaded file after validation.
type FeatureCollection struct {
	Features []Feature
}

// Keys returns the property keys of the first feature in document order.
func (fc *FeatureCollection) Keys() []string {
	if fc == nil || len(fc.Features) == 0 {
		return nil
	}
	return fc.Features[0].Properties.Keys()
}

func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

// AcceptedFile reports whether name has an extension the importer accepts.
func AcceptedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json":
		return true
	}
	return false
}

// Decode parses a FeatureCollection. A payload without a features array is
// a validation error.
func Decode(data []byte) (*FeatureCollection, error) {
	var doc struct {
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.ErrValidation{Field: "file", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	raw := bytes.TrimSpace(doc.Features)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, &domain.ErrValidation{Field: "features", Message: "GeoJSON non valido: manca features array"}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &domain.ErrValidation{Field: "features", Message: err.Error()}
	}

	fc := &FeatureCollection{Features: make([]Feature, 0, len(items))}
	for i, item := range items {
		var f Feature
		if err := json.Unmarshal(item, &f); err != nil {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("features[%d]", i), Message: err.Error()}
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}
