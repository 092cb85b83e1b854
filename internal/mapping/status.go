package mapping

import (
	"strings"

	"github.com/joeblew999/plat-webgis/internal/domain"
)

// NormalizeStatus reduces a raw status value to a canonical status.
//
// Value and triggers are compared upper-cased and trimmed. The occupied
// trigger is checked first, then the other trigger; everything else is
// vacant. The vacant trigger is never compared, and an empty trigger never
// matches.
func NormalizeStatus(raw string, m domain.FieldMapping) domain.Status {
	value := canon(raw)
	if t := canon(m[TriggerOccupied]); t != "" && value == t {
		return domain.StatusOccupied
	}
	if t := canon(m[TriggerOther]); t != "" && value == t {
		return domain.StatusOther
	}
	return domain.StatusVacant
}

// StatusOf extracts the status field of a feature and normalizes it. With
// no status field mapped every feature is vacant.
func StatusOf(props domain.PropertyBag, m domain.FieldMapping) domain.Status {
	return NormalizeStatus(text(props, m, KeyStatus), m)
}

func canon(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
