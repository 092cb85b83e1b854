// Package mapping turns arbitrary GeoJSON properties into premise and
// activity records: alias detection, status normalization and the
// per-feature transform.
package mapping

// Premise config keys.
const (
	KeyAddress   = "campo_indirizzo"
	KeySurface   = "campo_superficie"
	KeyStatus    = "campo_stato"
	KeyRent      = "campo_canone"
	KeyTenant    = "campo_conduttore"
	KeyLatitude  = "campo_latitudine"
	KeyLongitude = "campo_longitudine"

	TriggerVacant   = "valore_sfitto"
	TriggerOccupied = "valore_occupato"
	TriggerOther    = "valore_altri"
)

// Activity config keys.
const (
	KeyID                = "campo_id"
	KeyStreet            = "campo_strada"
	KeyHouseNumber       = "campo_civico"
	KeyHamlet            = "campo_frazione"
	KeyMunicipality      = "campo_comune"
	KeyPostalCode        = "campo_cap"
	KeyProvince          = "campo_provincia"
	KeyRegion            = "campo_regione"
	KeyFiscalCode        = "campo_codice_fiscale"
	KeyLegalSeatProvince = "campo_prov_sede_legale"
	KeyLegalName         = "campo_ragione_sociale"
	KeyVATNumber         = "campo_partita_iva"
	KeyLegalForm         = "campo_natura_giuridica"
	KeySME               = "campo_pmi"
	KeyTrade             = "campo_mestiere"
	KeyTradeDescription  = "campo_descrizione_mestiere"
	KeyAteco             = "campo_ateco"
	KeyAtecoDescription  = "campo_descrizione_ateco"
)

// Kind selects which record shape an import produces.
type Kind string

const (
	KindPremises   Kind = "locali"
	KindActivities Kind = "attivita"
)

// ParseKind accepts the two import kinds.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindPremises, KindActivities:
		return Kind(s), true
	}
	return "", false
}

// Rule maps a config key to the source keys recognized for it.
type Rule struct {
	Key     string
	Aliases []string
}

// AliasTable is an ordered list of rules.
type AliasTable []Rule

// ActivityAliases recognizes business registry exports.
var ActivityAliases = AliasTable{
	{KeyID, []string{"ID"}},
	{KeyStreet, []string{"STRADA", "VIA"}},
	{KeyHouseNumber, []string{"CIVICO"}},
	{KeyHamlet, []string{"FRAZIONE"}},
	{KeyMunicipality, []string{"COMUNE"}},
	{KeyPostalCode, []string{"CAP"}},
	{KeyProvince, []string{"PROVINCIA", "PROV"}},
	{KeyRegion, []string{"REGIONE"}},
	{KeyLatitude, []string{"LATITUDINE", "LAT"}},
	{KeyLongitude, []string{"LONGITUDINE", "LON", "LNG"}},
	{KeyFiscalCode, []string{"CODICE_FISCALE", "CF"}},
	{KeyLegalSeatProvince, []string{"PROV_SEDE_LEGALE"}},
	{KeyLegalName, []string{"RAGIONE_SOCIALE"}},
	{KeyVATNumber, []string{"PARTITA_IVA", "PIVA"}},
	{KeyLegalForm, []string{"NATURA_GIURIDICA"}},
	{KeySME, []string{"PMI"}},
	{KeyTrade, []string{"MESTIERE"}},
	{KeyTradeDescription, []string{"DESCRIZIONE_MESTIERE", "DESC_MESTIERE", "DES_MESTIERE"}},
	{KeyAteco, []string{"ATECO2025", "ATECO"}},
	{KeyAtecoDescription, []string{"DESCRIZIONE", "DESCRIZIONE_ATECO", "DESC_ATECO"}},
}

// PremiseAliases recognizes premise inventories.
var PremiseAliases = AliasTable{
	{KeyAddress, []string{"INDIRIZZO", "ADDRESS"}},
	{KeySurface, []string{"SUPERFICIE", "MQ", "AREA"}},
	{KeyStatus, []string{"STATO", "STATUS"}},
	{KeyRent, []string{"CANONE", "AFFITTO"}},
	{KeyTenant, []string{"CONDUTTORE", "TENANT"}},
	{KeyLatitude, []string{"LATITUDINE", "LAT"}},
	{KeyLongitude, []string{"LONGITUDINE", "LON", "LNG"}},
}

// AliasesFor returns the table used for an import kind.
func AliasesFor(kind Kind) AliasTable {
	if kind == KindActivities {
		return ActivityAliases
	}
	return PremiseAliases
}
