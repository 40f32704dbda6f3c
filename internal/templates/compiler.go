// Package templates compiles message content with {{name}} placeholders into a
// form that renders without reparsing.
package templates

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"whatsapp-campaigns/internal/apperrors"
)

// Builtin variables filled from the recipient at render time.
const (
	VarName      = "name"
	VarFirstName = "first_name"
	VarPhone     = "phone"
	VarPoints    = "points"
)

var builtins = map[string]bool{VarName: true, VarFirstName: true, VarPhone: true, VarPoints: true}

// IsBuiltin reports whether the dispatcher supplies the variable per recipient.
func IsBuiltin(name string) bool {
	return builtins[name]
}

type segment struct {
	text        string
	placeholder string
}

// Compiled is parsed content ready for repeated rendering.
type Compiled struct {
	segments     []segment
	placeholders []string
}

// Compile parses content once. Unterminated or malformed placeholders are
// validation errors.
func Compile(content string) (*Compiled, error) {
	c := &Compiled{}
	seen := map[string]bool{}
	rest := content
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if strings.Contains(rest, "}}") {
				return nil, apperrors.NewValidation("content", "unmatched '}}'")
			}
			c.appendText(rest)
			break
		}
		if strings.Contains(rest[:open], "}}") {
			return nil, apperrors.NewValidation("content", "unmatched '}}'")
		}
		c.appendText(rest[:open])
		rest = rest[open+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, apperrors.NewValidation("content", "unterminated placeholder")
		}
		name := strings.TrimSpace(rest[:end])
		if !validName(name) {
			return nil, apperrors.NewValidation("content", "invalid placeholder %q", rest[:end])
		}
		c.segments = append(c.segments, segment{placeholder: name})
		if !seen[name] {
			seen[name] = true
			c.placeholders = append(c.placeholders, name)
		}
		rest = rest[end+2:]
	}
	return c, nil
}

func (c *Compiled) appendText(text string) {
	if text == "" {
		return
	}
	c.segments = append(c.segments, segment{text: text})
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && ((r >= '0' && r <= '9') || r == '.'):
		default:
			return false
		}
	}
	return true
}

// Placeholders lists distinct placeholder names in order of first appearance.
func (c *Compiled) Placeholders() []string {
	out := make([]string, len(c.placeholders))
	copy(out, c.placeholders)
	return out
}

// Missing returns placeholders absent from vars, sorted.
func (c *Compiled) Missing(vars map[string]string) []string {
	var missing []string
	for _, p := range c.placeholders {
		if _, ok := vars[p]; !ok {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}

// Render substitutes every placeholder. Any missing variable is an error.
func (c *Compiled) Render(vars map[string]string) (string, error) {
	if missing := c.Missing(vars); len(missing) > 0 {
		return "", apperrors.NewValidation("variables", "missing %s", strings.Join(missing, ", "))
	}
	var b strings.Builder
	for _, s := range c.segments {
		if s.placeholder == "" {
			b.WriteString(s.text)
			continue
		}
		b.WriteString(vars[s.placeholder])
	}
	return b.String(), nil
}

// ContentVariables maps placeholder values to the positional keys ("1", "2",
// ...) used by provider-side content templates.
func (c *Compiled) ContentVariables(vars map[string]string) (string, error) {
	if missing := c.Missing(vars); len(missing) > 0 {
		return "", apperrors.NewValidation("variables", "missing %s", strings.Join(missing, ", "))
	}
	positional := make(map[string]string, len(c.placeholders))
	for i, p := range c.placeholders {
		positional[strconv.Itoa(i+1)] = vars[p]
	}
	b, err := json.Marshal(positional)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodePlaceholders serializes the placeholder list for storage.
func EncodePlaceholders(names []string) string {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(names)
	return string(b)
}

// DecodeVariables reads a stored JSON object of campaign variables. Non-string
// values are formatted with %v.
func DecodeVariables(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, apperrors.NewValidation("variables", "must be a JSON object: %v", err)
	}
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out, nil
}
