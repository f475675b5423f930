package main

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestParseSchema(t *testing.T) {
	schema, err := parseSchema("id:int64, label:string?, score:FLOAT64?")
	if err != nil {
		t.Fatalf("parseSchema: %v", err)
	}

	want := []arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}
	if schema.NumFields() != len(want) {
		t.Fatalf("got %d fields, want %d", schema.NumFields(), len(want))
	}
	for i, f := range want {
		if !schema.Field(i).Equal(f) {
			t.Errorf("field %d = %v, want %v", i, schema.Field(i), f)
		}
	}
}

func TestParseSchema_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing type", "id"},
		{"missing name", ":int64"},
		{"unknown type", "id:decimal"},
		{"duplicate", "id:int64,id:string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseSchema(tt.input); err == nil {
				t.Errorf("parseSchema(%q) succeeded, want error", tt.input)
			}
		})
	}
}
