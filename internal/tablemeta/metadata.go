package tablemeta

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/arkilian/ipcscan/pkg/types"
)

// Schema metadata keys carrying embedded file statistics.
const (
	KeyNumRows    = "ipcscan.num_rows"
	KeyNullCounts = "ipcscan.null_counts"
	KeyMinValues  = "ipcscan.min_values"
	KeyMaxValues  = "ipcscan.max_values"
)

var statKeys = map[string]bool{
	KeyNumRows:    true,
	KeyNullCounts: true,
	KeyMinValues:  true,
	KeyMaxValues:  true,
}

// valueKind is the Go representation of a column's statistic values.
type valueKind int

const (
	kindNone valueKind = iota
	kindInt
	kindUint
	kindFloat
	kindString
	kindBool
)

func kindOf(dt arrow.DataType) valueKind {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.DATE32, arrow.DATE64, arrow.TIMESTAMP:
		return kindInt
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return kindUint
	case arrow.FLOAT32, arrow.FLOAT64:
		return kindFloat
	case arrow.STRING, arrow.LARGE_STRING:
		return kindString
	case arrow.BOOL:
		return kindBool
	default:
		return kindNone
	}
}

// WithStatistics returns a copy of schema whose metadata carries stats.
// Unrelated metadata keys are preserved.
func WithStatistics(schema *arrow.Schema, stats types.Statistics) (*arrow.Schema, error) {
	keys, values := baseMetadata(schema)

	if stats.NumRows != nil {
		keys = append(keys, KeyNumRows)
		values = append(values, strconv.FormatInt(*stats.NumRows, 10))
	}

	if stats.ColumnStatistics != nil {
		if len(stats.ColumnStatistics) != schema.NumFields() {
			return nil, fmt.Errorf("tablemeta: %d column statistics for %d fields",
				len(stats.ColumnStatistics), schema.NumFields())
		}

		nulls := make([]*int64, len(stats.ColumnStatistics))
		mins := make([]*string, len(stats.ColumnStatistics))
		maxs := make([]*string, len(stats.ColumnStatistics))
		for i, cs := range stats.ColumnStatistics {
			nulls[i] = cs.NullCount
			mins[i] = encodeValue(cs.Min)
			maxs[i] = encodeValue(cs.Max)
		}

		for _, kv := range []struct {
			key string
			val any
		}{{KeyNullCounts, nulls}, {KeyMinValues, mins}, {KeyMaxValues, maxs}} {
			b, err := json.Marshal(kv.val)
			if err != nil {
				return nil, fmt.Errorf("tablemeta: failed to encode %s: %w", kv.key, err)
			}
			keys = append(keys, kv.key)
			values = append(values, string(b))
		}
	}

	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(schema.Fields(), &md), nil
}

// ReadStatistics decodes the statistics embedded in schema metadata. It
// reports false when the file carries no row count. Malformed column
// statistics degrade to unknown rather than failing.
func ReadStatistics(schema *arrow.Schema) (types.Statistics, bool) {
	md := schema.Metadata()

	raw, ok := lookup(md, KeyNumRows)
	if !ok {
		return types.UnknownStatistics(), false
	}
	rows, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rows < 0 {
		return types.UnknownStatistics(), false
	}

	stats := types.Statistics{NumRows: types.Int64Ptr(rows), IsExact: true}
	if cols, ok := readColumns(md, schema.Fields()); ok {
		stats.ColumnStatistics = cols
	}
	return stats, true
}

func readColumns(md arrow.Metadata, fields []arrow.Field) ([]types.ColumnStatistics, bool) {
	var nulls []*int64
	var mins, maxs []*string
	for _, kv := range []struct {
		key string
		dst any
	}{{KeyNullCounts, &nulls}, {KeyMinValues, &mins}, {KeyMaxValues, &maxs}} {
		raw, ok := lookup(md, kv.key)
		if !ok {
			return nil, false
		}
		if err := json.Unmarshal([]byte(raw), kv.dst); err != nil {
			return nil, false
		}
	}
	if len(nulls) != len(fields) || len(mins) != len(fields) || len(maxs) != len(fields) {
		return nil, false
	}

	cols := make([]types.ColumnStatistics, len(fields))
	for i, f := range fields {
		kind := kindOf(f.Type)
		cols[i] = types.ColumnStatistics{
			NullCount: nulls[i],
			Min:       decodeValue(kind, mins[i]),
			Max:       decodeValue(kind, maxs[i]),
		}
	}
	return cols, true
}

// StripStatistics returns schema without the statistics keys.
func StripStatistics(schema *arrow.Schema) *arrow.Schema {
	keys, values := baseMetadata(schema)
	if len(keys) == 0 {
		return arrow.NewSchema(schema.Fields(), nil)
	}
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(schema.Fields(), &md)
}

func baseMetadata(schema *arrow.Schema) (keys, values []string) {
	md := schema.Metadata()
	for i, k := range md.Keys() {
		if statKeys[k] {
			continue
		}
		keys = append(keys, k)
		values = append(values, md.Values()[i])
	}
	return keys, values
}

func lookup(md arrow.Metadata, key string) (string, bool) {
	idx := md.FindKey(key)
	if idx < 0 {
		return "", false
	}
	return md.Values()[idx], true
}

func encodeValue(v any) *string {
	var s string
	switch x := v.(type) {
	case int64:
		s = strconv.FormatInt(x, 10)
	case uint64:
		s = strconv.FormatUint(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		s = x
	case bool:
		s = strconv.FormatBool(x)
	default:
		return nil
	}
	return &s
}

func decodeValue(kind valueKind, raw *string) any {
	if raw == nil {
		return nil
	}
	switch kind {
	case kindInt:
		if v, err := strconv.ParseInt(*raw, 10, 64); err == nil {
			return v
		}
	case kindUint:
		if v, err := strconv.ParseUint(*raw, 10, 64); err == nil {
			return v
		}
	case kindFloat:
		if v, err := strconv.ParseFloat(*raw, 64); err == nil {
			return v
		}
	case kindString:
		return *raw
	case kindBool:
		if v, err := strconv.ParseBool(*raw); err == nil {
			return v
		}
	}
	return nil
}

// TypedValue is a statistic value tagged with its Go kind, for storage
// outside an Arrow schema.
type TypedValue struct {
	Kind  string `json:"k"`
	Value string `json:"v"`
}

var kindNames = map[string]valueKind{
	"int":    kindInt,
	"uint":   kindUint,
	"float":  kindFloat,
	"string": kindString,
	"bool":   kindBool,
}

// NewTypedValue tags v, or returns nil for values without an encoding.
func NewTypedValue(v any) *TypedValue {
	s := encodeValue(v)
	if s == nil {
		return nil
	}
	var kind string
	switch v.(type) {
	case int64:
		kind = "int"
	case uint64:
		kind = "uint"
	case float64:
		kind = "float"
	case string:
		kind = "string"
	case bool:
		kind = "bool"
	}
	return &TypedValue{Kind: kind, Value: *s}
}

// Decode returns the tagged value, or nil if it cannot be parsed.
func (t *TypedValue) Decode() any {
	if t == nil {
		return nil
	}
	kind, ok := kindNames[t.Kind]
	if !ok {
		return nil
	}
	return decodeValue(kind, &t.Value)
}
