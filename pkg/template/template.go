// Package template renders message and payload templates against the
// execution context of a running workflow.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

func funcMap() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"default": func(fallback string, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
	}
}

// Render executes a text/template string against the execution context.
// Context keys are addressed as {{.key}}.
func Render(templateStr string, data map[string]any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.New("render").Funcs(funcMap()).Option("missingkey=zero").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", templateStr, err)
	}

	// missingkey=zero prints "<no value>" for nil map values; normalize to
	// empty so emptiness checks downstream behave.
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// RenderMap renders every string leaf of a payload map against the context,
// leaving non-string values untouched.
func RenderMap(payload map[string]any, data map[string]any) (map[string]any, error) {
	rendered := make(map[string]any, len(payload))

	for key, value := range payload {
		switch v := value.(type) {
		case string:
			out, err := Render(v, data)
			if err != nil {
				return nil, err
			}

			rendered[key] = out
		case map[string]any:
			out, err := RenderMap(v, data)
			if err != nil {
				return nil, err
			}

			rendered[key] = out
		default:
			rendered[key] = value
		}
	}

	return rendered, nil
}
