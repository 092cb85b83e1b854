package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Entity type names as the backend knows them.
const (
	EntityProject  = "Progetto"
	EntityPremise  = "Locale"
	EntityActivity = "AttivitaCommerciale"
)

// TableName maps an entity type to its table or collection name.
func TableName(entity string) string {
	switch entity {
	case EntityProject:
		return "progetti"
	case EntityPremise:
		return "locali"
	case EntityActivity:
		return "attivita_commerciali"
	}
	return entity
}

// DefaultCenter is used when a project has no locatable features (Rome).
var DefaultCenter = orb.Point{12.4964, 41.9028}

const DefaultZoom = 14

// Status is the three-way occupancy state of a premise.
type Status string

const (
	StatusVacant   Status = "sfitto"
	StatusOccupied Status = "occupato"
	StatusOther    Status = "altri"
)

// ParseStatus accepts only the three canonical values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusVacant, StatusOccupied, StatusOther:
		return Status(s), nil
	}
	return "", &ErrValidation{Field: "stato", Message: fmt.Sprintf("unknown status %q", s)}
}

func (s Status) Label() string {
	switch s {
	case StatusOccupied:
		return "Occupato"
	case StatusOther:
		return "Altri"
	}
	return "Sfitto"
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Unmapped is the explicit "do not map" choice for a field.
const Unmapped = "_none"

// FieldMapping maps config keys (campo_*, valore_*) to source property keys
// or trigger values.
type FieldMapping map[string]string

// Source returns the mapped value for key, treating "" and Unmapped as absent.
func (m FieldMapping) Source(key string) (string, bool) {
	v := m[key]
	if v == "" || v == Unmapped {
		return "", false
	}
	return v, true
}

func (m FieldMapping) Clone() FieldMapping {
	c := make(FieldMapping, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Merge returns a copy of m overlaid with o; entries of o win.
func (m FieldMapping) Merge(o FieldMapping) FieldMapping {
	c := m.Clone()
	for k, v := range o {
		c[k] = v
	}
	return c
}

// ProjectConfig holds the premise field mapping and popup selections.
// A nil popup list means "use the defaults"; an empty one shows nothing.
type ProjectConfig struct {
	Mapping             FieldMapping `json:"mapping,omitempty"`
	PopupFields         []string     `json:"popup_fields,omitzero"`
	PopupFieldsActivity []string     `json:"popup_fields_attivita,omitzero"`
}

// Stats are the aggregate premise counters of a project.
type Stats struct {
	Total    int `json:"totale_locali"`
	Vacant   int `json:"totale_sfitti"`
	Occupied int `json:"totale_occupati"`
	Other    int `json:"totale_altri"`
}

// Add counts one premise with the given status.
func (s *Stats) Add(st Status) {
	s.Total++
	switch st {
	case StatusOccupied:
		s.Occupied++
	case StatusOther:
		s.Other++
	default:
		s.Vacant++
	}
}

// VacancyRate is vacant / total * 100, zero for an empty set.
func (s Stats) VacancyRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Vacant) / float64(s.Total) * 100
}

// StatsOf counts a set of premises.
func StatsOf(premises []Premise) Stats {
	var s Stats
	for _, p := range premises {
		s.Add(p.Status)
	}
	return s
}

// Project is a WebGIS project.
type Project struct {
	ID              string        `json:"id,omitempty"`
	Name            string        `json:"nome"`
	Description     string        `json:"descrizione,omitempty"`
	Center          orb.Point     `json:"center"`
	Zoom            float64       `json:"zoom"`
	Stats                         // counters are flattened into the record
	Config          ProjectConfig `json:"config"`
	ActivityMapping FieldMapping  `json:"config_attivita,omitempty"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedDate     time.Time     `json:"created_date,omitzero"`
	UpdatedDate     time.Time     `json:"updated_date,omitzero"`
}

// Premise is a commercial premise ("locale").
type Premise struct {
	ID            string          `json:"id,omitempty"`
	ProjectID     string          `json:"project_id"`
	Address       string          `json:"indirizzo"`
	Surface       float64         `json:"superficie"`
	Status        Status          `json:"stato"`
	Rent          float64         `json:"canone"`
	Tenant        string          `json:"conduttore"`
	Coordinates   *orb.Point      `json:"coordinates"`
	Geometry      json.RawMessage `json:"geometry,omitempty"`
	PropertiesRaw PropertyBag     `json:"properties_raw"`
	CreatedDate   time.Time       `json:"created_date,omitzero"`
}

// Activity is a business registry record ("attività commerciale").
type Activity struct {
	ID                string          `json:"id,omitempty"`
	ProjectID         string          `json:"project_id"`
	LegalName         string          `json:"ragione_sociale"`
	VATNumber         string          `json:"partita_iva"`
	FiscalCode        string          `json:"codice_fiscale"`
	LegalForm         string          `json:"natura_giuridica"`
	SME               string          `json:"pmi"`
	Trade             string          `json:"mestiere"`
	TradeDescription  string          `json:"descrizione_mestiere"`
	Ateco             string          `json:"ateco2025"`
	AtecoDescription  string          `json:"descrizione_ateco"`
	Street            string          `json:"strada"`
	HouseNumber       string          `json:"civico"`
	Hamlet            string          `json:"frazione"`
	Municipality      string          `json:"comune"`
	PostalCode        string          `json:"cap"`
	Province          string          `json:"provincia"`
	Region            string          `json:"regione"`
	LegalSeatProvince string          `json:"prov_sede_legale"`
	Latitude          *float64        `json:"latitudine"`
	Longitude         *float64        `json:"longitudine"`
	Coordinates       *orb.Point      `json:"coordinates"`
	Geometry          json.RawMessage `json:"geometry,omitempty"`
	PropertiesRaw     PropertyBag     `json:"properties_raw"`
	CreatedDate       time.Time       `json:"created_date,omitzero"`
}

// Address joins street and house number the way popups show it.
func (a Activity) Address() string {
	switch {
	case a.Street == "":
		return a.HouseNumber
	case a.HouseNumber == "":
		return a.Street
	}
	return a.Street + ", " + a.HouseNumber
}

// HasGeometry reports whether raw holds a non-null geometry.
func HasGeometry(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
