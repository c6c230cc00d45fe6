package core

import (
	"regexp"
	"strings"
)

// placeholderPattern matches {{name}} and {{ name }}. Nothing else in a
// command template is interpreted: no filters, expressions or control flow.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Renderer expands {{name}} placeholders in block command templates.
type Renderer struct {
	// Strict makes an unknown placeholder an error instead of rendering it empty.
	Strict bool
}

// Render substitutes every placeholder in tpl with its value from params.
// An unknown placeholder renders as "" unless r.Strict is set, in which case
// the first one is reported as a *MissingParameterError.
func (r Renderer) Render(tpl string, params map[string]string) (string, error) {
	var missing error
	out := placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := params[name]; ok {
			return v
		}
		if r.Strict && missing == nil {
			missing = &MissingParameterError{Name: name}
		}
		return ""
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}
