package tablemeta

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
)

func TestCompareFields(t *testing.T) {
	base := []arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
	}

	tests := []struct {
		name  string
		got   []arrow.Field
		count int
	}{
		{"identical", base, 0},
		{"renamed", []arrow.Field{base[0], {Name: "c", Type: arrow.BinaryTypes.String, Nullable: true}}, 1},
		{"retyped", []arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32}, base[1]}, 1},
		{"nullability", []arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64, Nullable: true}, base[1]}, 1},
		{"extra field", append(append([]arrow.Field{}, base...), arrow.Field{Name: "z", Type: arrow.FixedWidthTypes.Boolean}), 1},
		{"missing and retyped", []arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Float64}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diffs := CompareFields(base, tt.got)
			assert.Len(t, diffs, tt.count)
			if tt.count > 0 {
				assert.NotEmpty(t, diffs.Error())
			}
		})
	}
}

func TestCompareFields_IgnoresMetadata(t *testing.T) {
	md := arrow.NewMetadata([]string{"k"}, []string{"v"})
	want := []arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}
	got := []arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64, Metadata: md}}
	assert.Empty(t, CompareFields(want, got))
}
