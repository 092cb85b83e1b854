package export

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// CSVHeader is the column order of the premise CSV export.
var CSVHeader = []string{"Indirizzo", "Superficie", "Stato", "Canone", "Conduttore"}

// PremisesCSV renders premises as CSV. Zero amounts are written as empty
// cells.
func PremisesCSV(premises []domain.Premise) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	for _, p := range premises {
		if err := w.Write([]string{p.Address, amount(p.Surface), string(p.Status), amount(p.Rent), p.Tenant}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func amount(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
