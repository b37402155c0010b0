package gate

import (
	"fmt"
	"slices"
	"sort"

	"github.com/gosuda/custos/internal/domain"
)

// Permit copies the attributes named in allowed from attrs onto rec and
// returns the names it dropped, sorted. Fields are assigned in the order of
// allowed. An assignment error stops the copy.
func Permit(rec domain.Assignable, attrs map[string]any, allowed []string) ([]string, error) {
	for _, field := range allowed {
		v, ok := attrs[field]
		if !ok {
			continue
		}
		if err := rec.Assign(field, v); err != nil {
			return nil, fmt.Errorf("gate.Permit: %w", err)
		}
	}

	var dropped []string
	for field := range attrs {
		if !slices.Contains(allowed, field) {
			dropped = append(dropped, field)
		}
	}
	sort.Strings(dropped)
	return dropped, nil
}
