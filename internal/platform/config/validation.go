package config

import (
	"slices"
	"strings"
)

// ValidationError names every field that is missing or out of range.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields [" + strings.Join(e.Fields, ", ") + "]"
}

type validation struct {
	fields []string
}

func (v *validation) require(ok bool, field string) {
	if !ok && !slices.Contains(v.fields, field) {
		v.fields = append(v.fields, field)
	}
}

// oneOf reports whether value is allowed, recording field otherwise.
func (v *validation) oneOf(value, field string, allowed ...string) bool {
	ok := slices.Contains(allowed, value)
	v.require(ok, field)
	return ok
}

func (v *validation) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}
