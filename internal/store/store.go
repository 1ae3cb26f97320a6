// Package store reads clients, messages and templates from the hosted CRM database and
// issues the few targeted updates the inbox needs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"crm-inbox/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MessageQuery selects messages newer than Since. Scope and Phones narrow the result to one
// conversation; Phones are matched exactly against phone_number.
type MessageQuery struct {
	Since  time.Time
	Scope  *models.ClientRef
	Phones []string
	Limit  int
}

// Reader is the read side used by the inbox.
type Reader interface {
	FetchClients(ctx context.Context) ([]models.Client, error)
	FetchMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	FetchTemplates(ctx context.Context) ([]models.Template, error)
}

// Writer holds the targeted updates.
type Writer interface {
	MarkRead(ctx context.Context, ids []string) (int64, error)
	FixStatuses(ctx context.Context) (int64, error)
}

// Store is the full hosted-database surface.
type Store interface {
	Reader
	Writer
}

// SQLStore implements Store over Postgres or sqlite.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open connects to the hosted database. dbType is "postgres" or "sqlite".
func Open(ctx context.Context, dbType, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var driver string
	switch dbType {
	case "postgres", "":
		driver = "postgres"
	case "sqlite":
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	log.Info().Str("driver", driver).Msg("Hosted database connection established")
	return db, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}
