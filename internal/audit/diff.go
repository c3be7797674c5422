package audit

import (
	"reflect"

	"github.com/vanshika/ledgercore/internal/domain"
)

// ModifiedFields compares two state snapshots over the union of their keys.
// A key missing on one side is compared as nil.
func ModifiedFields(before, after map[string]any) map[string]domain.FieldChange {
	changes := make(map[string]domain.FieldChange)
	for key, b := range before {
		a := after[key]
		if !reflect.DeepEqual(b, a) {
			changes[key] = domain.FieldChange{Before: b, After: a}
		}
	}
	for key, a := range after {
		if _, seen := before[key]; seen {
			continue
		}
		if a != nil {
			changes[key] = domain.FieldChange{Before: nil, After: a}
		}
	}
	return changes
}

func cloneState(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
