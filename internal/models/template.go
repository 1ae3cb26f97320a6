package models

// Template is a pre-approved WhatsApp message template from the catalog.
type Template struct {
	ID       string `json:"id" db:"id"`
	Title    string `json:"title" db:"title"`
	Name360  string `json:"name360" db:"name360"`
	Content  string `json:"content" db:"content"`
	Params   int    `json:"params" db:"params"`
	Active   bool   `json:"active" db:"active"`
	Language string `json:"language" db:"language"`
}
