package templates

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"crm-inbox/internal/models"
)

// GenericText is shown for template messages whose text cannot be reconstructed.
const GenericText = "Template message sent"

// ErrTemplateParams is returned by Fill when the parameter count does not match.
var ErrTemplateParams = errors.New("template parameter count mismatch")

// placeholders are stored bodies that carry no real text; compared lowercased.
var placeholders = map[string]struct{}{
	"template":              {},
	"[template]":            {},
	"template message":      {},
	"[template message]":    {},
	"template message sent": {},
}

var (
	bracketMarker = regexp.MustCompile(`(?i)\[\s*template\s*:\s*([^\]]+?)\s*\]`)
	prefixMarker  = regexp.MustCompile(`(?i)template_marker\s*:\s*(\S[^\r\n]*)`)
	paramPattern  = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)
)

// RequiredParams returns the number of parameters the template expects.
func RequiredParams(t models.Template) int {
	if t.Params < 0 {
		return 0
	}
	return t.Params
}

// Render returns the text to display for msg. Rules in order: a template_id found in the
// catalog, a legacy text marker naming a template, the generic text for empty or placeholder
// template bodies, and otherwise the stored body unchanged.
func Render(msg models.Message, catalog *Catalog) string {
	body := strings.TrimSpace(msg.Body)

	if id := models.Deref(msg.TemplateID); id != "" {
		if t, ok := catalog.ByID(id); ok {
			return renderFound(t, body, msg.Body)
		}
	}

	if name, rest, ok := parseMarker(msg.Body); ok {
		if t, found := catalog.ByName(name); found {
			return renderFound(t, rest, rest)
		}
	}

	if body == "" || isPlaceholder(body) {
		if msg.IsTemplate() || body != "" {
			return GenericText
		}
	}
	return msg.Body
}

func renderFound(t models.Template, trimmed, raw string) string {
	if RequiredParams(t) == 0 {
		return t.Content
	}
	if trimmed != "" && !isPlaceholder(trimmed) && !hasMarker(trimmed) {
		return raw
	}
	if t.Content != "" {
		return t.Content
	}
	return GenericText
}

func isPlaceholder(body string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(body))]
	return ok
}

func hasMarker(body string) bool {
	return bracketMarker.MatchString(body) || prefixMarker.MatchString(body)
}

// parseMarker extracts a template name from "[Template: X]" or "TEMPLATE_MARKER:X" and
// returns the body with the marker removed.
func parseMarker(body string) (name, rest string, ok bool) {
	for _, re := range []*regexp.Regexp{bracketMarker, prefixMarker} {
		loc := re.FindStringSubmatchIndex(body)
		if loc == nil {
			continue
		}
		name = strings.TrimSpace(body[loc[2]:loc[3]])
		rest = strings.TrimSpace(body[:loc[0]] + body[loc[1]:])
		return name, rest, name != ""
	}
	return "", "", false
}

// Fill substitutes {{1}}..{{n}} in the template content with params.
func Fill(t models.Template, params []string) (string, error) {
	want := RequiredParams(t)
	if len(params) != want {
		return "", fmt.Errorf("%w: template %q expects %d, got %d", ErrTemplateParams, t.Title, want, len(params))
	}
	if want == 0 {
		return t.Content, nil
	}

	var missing []string
	out := paramPattern.ReplaceAllStringFunc(t.Content, func(m string) string {
		n, err := strconv.Atoi(paramPattern.FindStringSubmatch(m)[1])
		if err != nil || n < 1 || n > len(params) {
			missing = append(missing, m)
			return m
		}
		return params[n-1]
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: template %q references %s", ErrTemplateParams, t.Title, strings.Join(missing, ", "))
	}
	return out, nil
}
