package tablemeta

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// FieldMismatch describes one difference between two field lists.
type FieldMismatch struct {
	Index   int
	Field   string
	Message string
}

func (m *FieldMismatch) Error() string {
	if m.Index < 0 {
		return m.Message
	}
	return fmt.Sprintf("field %d %q: %s", m.Index, m.Field, m.Message)
}

// FieldMismatches is a collection of field differences.
type FieldMismatches []*FieldMismatch

func (e FieldMismatches) Error() string {
	if len(e) == 0 {
		return "no field mismatches"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d field mismatches: ", len(e)))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// CompareFields reports every difference in name, type or nullability
// between want and got. Field and schema metadata are ignored.
func CompareFields(want, got []arrow.Field) FieldMismatches {
	var out FieldMismatches
	if len(want) != len(got) {
		out = append(out, &FieldMismatch{
			Index:   -1,
			Message: fmt.Sprintf("has %d fields, want %d", len(got), len(want)),
		})
	}

	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		w, g := want[i], got[i]
		switch {
		case w.Name != g.Name:
			out = append(out, &FieldMismatch{Index: i, Field: w.Name,
				Message: fmt.Sprintf("name is %q", g.Name)})
		case !arrow.TypeEqual(w.Type, g.Type):
			out = append(out, &FieldMismatch{Index: i, Field: w.Name,
				Message: fmt.Sprintf("type is %s, want %s", g.Type, w.Type)})
		case w.Nullable != g.Nullable:
			out = append(out, &FieldMismatch{Index: i, Field: w.Name,
				Message: fmt.Sprintf("nullable is %t, want %t", g.Nullable, w.Nullable)})
		}
	}
	return out
}
