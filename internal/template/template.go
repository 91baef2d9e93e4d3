// Package template renders {{.key}} placeholders against a string context.
package template

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// ErrTemplate is returned for syntax errors and unresolved placeholders.
var ErrTemplate = errors.New("template error")

// Context maps placeholder names to their values.
type Context map[string]string

// NewContext builds a context from key/value pairs.
func NewContext(pairs ...[2]string) Context {
	ctx := make(Context, len(pairs))
	for _, p := range pairs {
		ctx[p[0]] = p[1]
	}
	return ctx
}

// With returns a copy of ctx with key set to value.
func (c Context) With(key, value string) Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[key] = value
	return out
}

// Render resolves placeholders in tmpl. Strings without "{{" are returned as is.
func Render(ctx Context, tmpl string) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("vml").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplate, err)
	}

	var b strings.Builder
	if err := t.Execute(&b, map[string]string(ctx)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	return b.String(), nil
}

// RenderAll renders every item of tmpls, stopping at the first failure.
func RenderAll(ctx Context, tmpls []string) ([]string, error) {
	if tmpls == nil {
		return nil, nil
	}
	out := make([]string, len(tmpls))
	for i, t := range tmpls {
		r, err := Render(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
