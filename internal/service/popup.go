package service

import (
	"slices"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/mapping"
)

// FieldLabel is one selectable popup field.
type FieldLabel struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// PremiseLabels are the popup fields of a premise, in display order.
var PremiseLabels = []FieldLabel{
	{"indirizzo", "Indirizzo"},
	{"superficie", "Superficie"},
	{"canone", "Canone"},
	{"conduttore", "Conduttore"},
	{"stato", "Stato"},
}

// ActivityLabels are the popup fields of an activity, in display order.
var ActivityLabels = []FieldLabel{
	{"ragione_sociale", "Ragione Sociale"},
	{"mestiere", "Mestiere"},
	{"ateco2025", "Codice ATECO"},
	{"descrizione_mestiere", "Descrizione Mestiere"},
	{"descrizione_ateco", "Descrizione ATECO"},
	{"indirizzo", "Indirizzo (Strada + Civico)"},
	{"comune", "Comune"},
	{"cap", "CAP"},
	{"provincia", "Provincia"},
	{"regione", "Regione"},
	{"frazione", "Frazione"},
	{"prov_sede_legale", "Provincia Sede Legale"},
	{"partita_iva", "Partita IVA"},
	{"codice_fiscale", "Codice Fiscale"},
	{"natura_giuridica", "Natura Giuridica"},
	{"pmi", "PMI"},
	{"latitudine", "Latitudine"},
	{"longitudine", "Longitudine"},
}

// Default popup selections.
var (
	DefaultPremisePopup  = []string{"indirizzo", "superficie", "canone", "conduttore", "stato"}
	DefaultActivityPopup = []string{"ragione_sociale", "mestiere", "ateco2025", "indirizzo", "comune", "partita_iva", "codice_fiscale"}
)

// LabelsFor returns the label table of kind.
func LabelsFor(kind mapping.Kind) []FieldLabel {
	if kind == mapping.KindActivities {
		return ActivityLabels
	}
	return PremiseLabels
}

// LabelFor looks up the label of one field.
func LabelFor(kind mapping.Kind, key string) (string, bool) {
	for _, l := range LabelsFor(kind) {
		if l.Key == key {
			return l.Label, true
		}
	}
	return "", false
}

// PopupFields returns the saved selection of kind, or its defaults when
// nothing was saved.
func PopupFields(cfg domain.ProjectConfig, kind mapping.Kind) []string {
	if kind == mapping.KindActivities {
		if cfg.PopupFieldsActivity != nil {
			return cfg.PopupFieldsActivity
		}
		return DefaultActivityPopup
	}
	if cfg.PopupFields != nil {
		return cfg.PopupFields
	}
	return DefaultPremisePopup
}

// PopupDraft is an uncommitted popup selection. Edits stay local until the
// caller saves Fields through SavePopupFields; Reset discards them.
type PopupDraft struct {
	kind   mapping.Kind
	saved  []string
	fields []string
}

// NewPopupDraft starts a draft from the selection stored in cfg.
func NewPopupDraft(cfg domain.ProjectConfig, kind mapping.Kind) *PopupDraft {
	saved := slices.Clone(PopupFields(cfg, kind))
	return &PopupDraft{kind: kind, saved: saved, fields: slices.Clone(saved)}
}

// Toggle removes key when selected, otherwise appends it.
func (d *PopupDraft) Toggle(key string) error {
	if _, ok := LabelFor(d.kind, key); !ok {
		return &domain.ErrValidation{Field: "popup_fields", Message: "unknown field " + key}
	}
	if i := slices.Index(d.fields, key); i >= 0 {
		d.fields = slices.Delete(d.fields, i, i+1)
		return nil
	}
	d.fields = append(d.fields, key)
	return nil
}

func (d *PopupDraft) SelectAll() {
	labels := LabelsFor(d.kind)
	d.fields = make([]string, len(labels))
	for i, l := range labels {
		d.fields[i] = l.Key
	}
}

func (d *PopupDraft) DeselectAll() { d.fields = []string{} }

// Fields returns a copy of the draft selection.
func (d *PopupDraft) Fields() []string { return slices.Clone(d.fields) }

// Dirty reports whether the draft differs from the saved selection.
func (d *PopupDraft) Dirty() bool { return !slices.Equal(d.fields, d.saved) }

// Reset discards the edits.
func (d *PopupDraft) Reset() { d.fields = slices.Clone(d.saved) }
