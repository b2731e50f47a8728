package filestore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
)

// dateLayouts are the accepted textual date formats, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// camel converts a snake_case column name to its camelCase alias.
func camel(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// field looks up key, then its camelCase alias. Keys are plain column
// names and never contain gjson path syntax.
func field(r gjson.Result, key string) gjson.Result {
	if v := r.Get(key); v.Exists() {
		return v
	}
	if alt := camel(key); alt != key {
		return r.Get(alt)
	}
	return gjson.Result{}
}

// Str returns the field as trimmed text. Numbers and booleans are rendered
// as their JSON text; missing and null yield "".
func Str(r gjson.Result, key string) string {
	v := field(r, key)
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.JSON:
		return ""
	default:
		return strings.TrimSpace(v.Raw)
	}
}

// RequiredStr is Str that fails with ErrMissingField on empty values.
func RequiredStr(r gjson.Result, key string) (string, error) {
	s := Str(r, key)
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return s, nil
}

// Int returns the field as an integer, accepting numeric strings. def is
// returned when the field is missing or null.
func Int(r gjson.Result, key string, def int) (int, error) {
	v := field(r, key)
	switch v.Type {
	case gjson.Null:
		return def, nil
	case gjson.Number:
		if v.Num != float64(int(v.Num)) {
			return 0, fmt.Errorf("%w: %s=%s is not an integer", ErrInvalidValue, key, v.Raw)
		}
		return int(v.Num), nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return def, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, key, v.Str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s has unexpected type %s", ErrInvalidValue, key, v.Type)
	}
}

// Time parses a date field. Text in one of dateLayouts and epoch
// milliseconds are accepted. Missing, null and empty values yield nil.
func Time(r gjson.Result, key string) (*time.Time, error) {
	v := field(r, key)
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		t := time.UnixMilli(v.Int()).UTC()
		return &t, nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return nil, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t, nil
			}
		}
		return nil, fmt.Errorf("%w: %s=%q is not a date", ErrInvalidValue, key, v.Str)
	default:
		return nil, fmt.Errorf("%w: %s has unexpected type %s", ErrInvalidValue, key, v.Type)
	}
}

// Array returns the elements of an array field; anything else yields nil.
func Array(r gjson.Result, key string) []gjson.Result {
	v := field(r, key)
	if !v.IsArray() {
		return nil
	}
	return v.Array()
}
