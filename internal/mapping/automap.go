package mapping

import (
	"strings"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// AutoMap guesses a field mapping from the source keys of an uploaded file.
//
// Matching is case-insensitive and exact. Keys are visited in the order
// given; when two keys match the same rule, the later one wins.
func AutoMap(keys []string, table AliasTable) domain.FieldMapping {
	index := make(map[string]string)
	for _, rule := range table {
		for _, alias := range rule.Aliases {
			index[alias] = rule.Key
		}
	}

	m := domain.FieldMapping{}
	for _, k := range keys {
		if cfg, ok := index[strings.ToUpper(k)]; ok {
			m[cfg] = k
		}
	}
	return m
}

// DefaultTriggers are the status trigger values a new premise mapping starts with.
var DefaultTriggers = domain.FieldMapping{
	TriggerVacant:   "SFITTO",
	TriggerOccupied: "OCCUPATO",
	TriggerOther:    "ALTRI",
}

// WithDefaultTriggers fills in missing trigger values.
func WithDefaultTriggers(m domain.FieldMapping) domain.FieldMapping {
	out := m.Clone()
	for k, v := range DefaultTriggers {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Field describes one mappable config key.
type Field struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

var premiseFields = []Field{
	{KeyAddress, "Indirizzo"},
	{KeySurface, "Superficie"},
	{KeyStatus, "Stato"},
	{KeyRent, "Canone"},
	{KeyTenant, "Conduttore"},
	{KeyLatitude, "Latitudine"},
	{KeyLongitude, "Longitudine"},
}

var activityFields = []Field{
	{KeyLegalName, "Ragione Sociale"},
	{KeyVATNumber, "Partita IVA"},
	{KeyFiscalCode, "Codice Fiscale"},
	{KeyLegalForm, "Natura Giuridica"},
	{KeySME, "PMI"},
	{KeyTrade, "Mestiere"},
	{KeyTradeDescription, "Descrizione Mestiere"},
	{KeyAteco, "Codice ATECO"},
	{KeyAtecoDescription, "Descrizione ATECO"},
	{KeyStreet, "Strada"},
	{KeyHouseNumber, "Civico"},
	{KeyHamlet, "Frazione"},
	{KeyMunicipality, "Comune"},
	{KeyPostalCode, "CAP"},
	{KeyProvince, "Provincia"},
	{KeyRegion, "Regione"},
	{KeyLegalSeatProvince, "Provincia Sede Legale"},
	{KeyLatitude, "Latitudine"},
	{KeyLongitude, "Longitudine"},
	{KeyID, "ID"},
}

// FieldsFor lists the mappable fields of an import kind.
func FieldsFor(kind Kind) []Field {
	if kind == KindActivities {
		return activityFields
	}
	return premiseFields
}
