package routing

import (
	"fmt"
	"strings"
)

// RenderError reports a template placeholder that could not be resolved. A
// failed render must never fall back to an empty substitution: publishing a
// topic with a missing segment would silently misroute the message.
type RenderError struct {
	Template    string
	Placeholder string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %q: unresolved placeholder {%s}", e.Template, e.Placeholder)
}

// Render substitutes {name} placeholders in template with values from the
// capture set. The reserved capture original_topic is resolved like any other
// name. A '{' without a matching '}' is treated as literal text.
func Render(template string, captures Captures) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		value, ok := captures[name]
		if !ok {
			return "", &RenderError{Template: template, Placeholder: name}
		}
		b.WriteString(value)
		rest = rest[open+closing+1:]
	}
}
