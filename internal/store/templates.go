package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"crm-inbox/internal/models"
)

type templateRow struct {
	ID       string `db:"id"`
	Title    string `db:"title"`
	Name360  string `db:"name360"`
	Content  string `db:"content"`
	Params   string `db:"params"`
	Active   bool   `db:"active"`
	Language string `db:"language"`
}

const templatesQuery = `
SELECT CAST(id AS TEXT) AS id,
       COALESCE(title, '') AS title,
       COALESCE(name360, '') AS name360,
       COALESCE(content, '') AS content,
       COALESCE(CAST(params AS TEXT), '0') AS params,
       COALESCE(active, TRUE) AS active,
       COALESCE(language, '') AS language
FROM whatsapp_templates
ORDER BY id`

// FetchTemplates returns the whole template catalog. The params column is stored as text
// in older rows; anything unparsable counts as zero parameters.
func (s *SQLStore) FetchTemplates(ctx context.Context) ([]models.Template, error) {
	var rows []templateRow
	if err := s.db.SelectContext(ctx, &rows, templatesQuery); err != nil {
		return nil, fmt.Errorf("failed to fetch templates: %w", err)
	}

	out := make([]models.Template, 0, len(rows))
	for _, r := range rows {
		params, err := strconv.Atoi(strings.TrimSpace(r.Params))
		if err != nil || params < 0 {
			params = 0
		}
		out = append(out, models.Template{
			ID:       r.ID,
			Title:    r.Title,
			Name360:  r.Name360,
			Content:  r.Content,
			Params:   params,
			Active:   r.Active,
			Language: r.Language,
		})
	}
	return out, nil
}
