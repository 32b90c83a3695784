// Package utils holds small generic helpers shared across the module.
package utils

import (
	"bytes"
	"text/template"
)

// Ptr returns a pointer to v. Handy for building structs with optional
// (pointer) fields from literals.
func Ptr[T any](v T) *T {
	return &v
}

// ExecuteTemplate renders a parsed template against data and returns the
// rendered string.
func ExecuteTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
