package service

import (
	"slices"
	"testing"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/mapping"
)

func TestPopupDraft(t *testing.T) {
	d := NewPopupDraft(domain.ProjectConfig{}, mapping.KindPremises)
	if !slices.Equal(d.Fields(), DefaultPremisePopup) {
		t.Fatalf("fields = %v, want defaults", d.Fields())
	}
	if d.Dirty() {
		t.Fatal("fresh draft should not be dirty")
	}

	if err := d.Toggle("canone"); err != nil {
		t.Fatal(err)
	}
	if want := []string{"indirizzo", "superficie", "conduttore", "stato"}; !slices.Equal(d.Fields(), want) {
		t.Errorf("after removing canone: %v, want %v", d.Fields(), want)
	}
	if err := d.Toggle("canone"); err != nil {
		t.Fatal(err)
	}
	if got := d.Fields(); got[len(got)-1] != "canone" {
		t.Errorf("toggle should append, got %v", got)
	}
	if !d.Dirty() {
		t.Error("reordered draft should be dirty")
	}

	d.Reset()
	if d.Dirty() || !slices.Equal(d.Fields(), DefaultPremisePopup) {
		t.Errorf("Reset: %v", d.Fields())
	}

	if err := d.Toggle("ragione_sociale"); err == nil {
		t.Error("activity field accepted by a premise draft")
	}
}

func TestPopupDraftSelectAll(t *testing.T) {
	cfg := domain.ProjectConfig{PopupFieldsActivity: []string{"comune"}}
	d := NewPopupDraft(cfg, mapping.KindActivities)
	if !slices.Equal(d.Fields(), []string{"comune"}) {
		t.Fatalf("fields = %v", d.Fields())
	}

	d.SelectAll()
	if len(d.Fields()) != len(ActivityLabels) || d.Fields()[0] != "ragione_sociale" {
		t.Errorf("SelectAll = %v", d.Fields())
	}
	d.DeselectAll()
	if got := d.Fields(); got == nil || len(got) != 0 {
		t.Errorf("DeselectAll = %#v, want empty non-nil", got)
	}

	// the draft never writes through to the config
	if !slices.Equal(cfg.PopupFieldsActivity, []string{"comune"}) {
		t.Errorf("config mutated: %v", cfg.PopupFieldsActivity)
	}
}

func TestLabelFor(t *testing.T) {
	if l, ok := LabelFor(mapping.KindActivities, "ateco2025"); !ok || l != "Codice ATECO" {
		t.Errorf("ateco2025 = %q, %v", l, ok)
	}
	if _, ok := LabelFor(mapping.KindPremises, "ateco2025"); ok {
		t.Error("ateco2025 is not a premise field")
	}
}
