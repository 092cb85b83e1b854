// Package report renders normalized records as aligned text tables for the
// command line.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// Table is a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Add appends a row.
func (t *Table) Add(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Markdown writes the table as a pipe table. Columns are padded to their
// display width so accented text and wide runes stay aligned.
func (t *Table) Markdown(w io.Writer) error {
	widths := make([]int, len(t.Header))
	for _, row := range append([][]string{t.Header}, t.Rows...) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if cw := runewidth.StringWidth(row[i]); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	for i := range widths {
		if widths[i] < 3 {
			widths[i] = 3
		}
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		sb.WriteString("|")
		for i, width := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			sb.WriteString(" ")
			sb.WriteString(runewidth.FillRight(cell, width))
			sb.WriteString(" |")
		}
		sb.WriteString("\n")
	}

	writeRow(t.Header)
	sb.WriteString("|")
	for _, width := range widths {
		sb.WriteString(" " + strings.Repeat("-", width) + " |")
	}
	sb.WriteString("\n")
	for _, row := range t.Rows {
		writeRow(row)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// Truncate shortens s to width display columns.
func Truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// Premises builds a table of at most limit premises. limit <= 0 keeps all.
func Premises(premises []domain.Premise, limit int) *Table {
	t := &Table{Header: []string{"#", "Indirizzo", "Superficie", "Stato", "Canone", "Conduttore"}}
	for i, p := range head(premises, limit) {
		t.Add(
			fmt.Sprint(i+1),
			Truncate(p.Address, 40),
			number(p.Surface),
			string(p.Status),
			number(p.Rent),
			Truncate(p.Tenant, 30),
		)
	}
	return t
}

// Activities builds a table of at most limit activities.
func Activities(activities []domain.Activity, limit int) *Table {
	t := &Table{Header: []string{"#", "Ragione sociale", "Indirizzo", "Comune", "ATECO"}}
	for i, a := range head(activities, limit) {
		t.Add(
			fmt.Sprint(i+1),
			Truncate(a.LegalName, 40),
			Truncate(a.Address(), 40),
			a.Municipality,
			a.Ateco,
		)
	}
	return t
}

// Stats builds the summary table of a premises set.
func Stats(s domain.Stats) *Table {
	t := &Table{Header: []string{"Totale", "Sfitti", "Occupati", "Altri", "Tasso sfitto"}}
	t.Add(fmt.Sprint(s.Total), fmt.Sprint(s.Vacant), fmt.Sprint(s.Occupied), fmt.Sprint(s.Other), fmt.Sprintf("%.1f%%", s.VacancyRate()))
	return t
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func number(f float64) string {
	if f == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
