package engine

import (
	"fmt"
	"strings"

	"skyward/internal/model"
)

// TemplateError means a DM template cannot be rendered. The same defect
// would recur for every recipient, so the DM phase stops.
type TemplateError struct {
	Template string
	Offset   int
	Reason   string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("dm template: %s at offset %d", e.Reason, e.Offset)
}

// Render substitutes {handle}, {displayName} and {did} from u. Literal braces
// are written as {{ and }}. An empty display name renders as "".
func Render(tmpl string, u model.CandidateUser) (string, error) {
	values := map[string]string{
		"handle":      u.Handle,
		"displayName": u.DisplayName,
		"did":         u.DID,
	}

	var b strings.Builder
	b.Grow(len(tmpl) + 32)
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", &TemplateError{Template: tmpl, Offset: i, Reason: "unclosed '{'"}
			}
			name := tmpl[i+1 : i+1+end]
			v, ok := values[name]
			if !ok {
				return "", &TemplateError{Template: tmpl, Offset: i, Reason: fmt.Sprintf("unknown placeholder {%s}", name)}
			}
			b.WriteString(v)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", &TemplateError{Template: tmpl, Offset: i, Reason: "single '}' encountered"}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
