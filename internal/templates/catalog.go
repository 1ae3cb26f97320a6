// Package templates reconstructs the display text of template messages and fills
// templates for outbound sends.
package templates

import (
	"strings"

	"crm-inbox/internal/models"
)

// Catalog indexes templates by id and by lowercased title and name360.
type Catalog struct {
	all    []models.Template
	byID   map[string]models.Template
	byName map[string]models.Template
}

// NewCatalog builds a catalog. When two templates share a name the first one wins.
func NewCatalog(templates []models.Template) *Catalog {
	c := &Catalog{
		all:    append([]models.Template(nil), templates...),
		byID:   make(map[string]models.Template, len(templates)),
		byName: make(map[string]models.Template, 2*len(templates)),
	}
	for _, t := range templates {
		if t.ID != "" {
			if _, exists := c.byID[t.ID]; !exists {
				c.byID[t.ID] = t
			}
		}
		for _, name := range []string{t.Title, t.Name360} {
			key := nameKey(name)
			if key == "" {
				continue
			}
			if _, exists := c.byName[key]; !exists {
				c.byName[key] = t
			}
		}
	}
	return c
}

// ByID looks a template up by id.
func (c *Catalog) ByID(id string) (models.Template, bool) {
	if c == nil {
		return models.Template{}, false
	}
	t, ok := c.byID[strings.TrimSpace(id)]
	return t, ok
}

// ByName looks a template up by title or name360, case-insensitively.
func (c *Catalog) ByName(name string) (models.Template, bool) {
	if c == nil {
		return models.Template{}, false
	}
	t, ok := c.byName[nameKey(name)]
	return t, ok
}

// All returns every template in catalog order.
func (c *Catalog) All() []models.Template {
	if c == nil {
		return nil
	}
	return append([]models.Template(nil), c.all...)
}

// Active returns the templates that may be used for new sends.
func (c *Catalog) Active() []models.Template {
	var out []models.Template
	for _, t := range c.All() {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.all)
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
