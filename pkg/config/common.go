package config

import (
	"fmt"
	"strings"
)

// StringList is a comma separated list usable as a cleanenv field.
type StringList []string

// SetValue implements cleanenv.Setter
func (l *StringList) SetValue(s string) error {
	*l = splitAndTrim(s, ",")
	return nil
}

// TagMap is a `tag=value,tag=value` list usable as a cleanenv field. Values
// may themselves contain ':' (URLs), which rules out cleanenv's own map syntax.
type TagMap map[string]string

// SetValue implements cleanenv.Setter
func (m *TagMap) SetValue(s string) error {
	parsed := TagMap{}
	for _, item := range splitAndTrim(s, ",") {
		tag, value, ok := strings.Cut(item, "=")
		tag, value = strings.TrimSpace(tag), strings.TrimSpace(value)
		if !ok || tag == "" || value == "" {
			return fmt.Errorf("invalid tag=value item %q", item)
		}
		parsed[tag] = value
	}
	*m = parsed
	return nil
}

// splitAndTrim splits a string by separator and trims each part
// Empty parts are filtered out
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := []string{}
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
