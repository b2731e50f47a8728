// Package diff computes field-level differences between two flat records.
package diff

import (
	"reflect"
	"sort"
	"time"
)

// Record is a field bag keyed by column name.
type Record map[string]any

// Change holds the two sides of a differing field. A side that lacks the
// field holds nil.
type Change struct {
	A any `json:"a"`
	B any `json:"b"`
}

// Changes maps field name to its change. An empty map means unchanged.
type Changes map[string]Change

// Empty reports whether no field differs.
func (c Changes) Empty() bool { return len(c) == 0 }

// Fields returns the changed field names in sorted order.
func (c Changes) Fields() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Diff compares the scalar fields of a and b. Slices, maps and structs other
// than time.Time are skipped: their ordering and identity are not stable
// across stores. Numbers compare by value regardless of Go type, times
// compare as UTC instants. A field missing on both sides is equal; missing
// on one side only is a change.
func Diff(a, b Record) Changes {
	changes := Changes{}
	seen := make(map[string]bool, len(a)+len(b))

	for field, av := range a {
		seen[field] = true
		ca, aScalar := scalar(av)
		bv, inB := b[field]
		cb, bScalar := scalar(bv)
		if !aScalar || (inB && !bScalar) {
			continue
		}
		if !inB {
			changes[field] = Change{A: ca}
			continue
		}
		if ca != cb {
			changes[field] = Change{A: ca, B: cb}
		}
	}
	for field, bv := range b {
		if seen[field] {
			continue
		}
		cb, ok := scalar(bv)
		if !ok {
			continue
		}
		changes[field] = Change{B: cb}
	}
	return changes
}

// scalar canonicalizes v for comparison. ok is false for collection values.
// Canonical forms: nil, string, bool, float64.
func scalar(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil, true
		}
		return t.UTC().Format(time.RFC3339Nano), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, true
		}
		return t.UTC().Format(time.RFC3339Nano), true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return scalar(t)
		}
	}
	return nil, false
}
