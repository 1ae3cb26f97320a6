package db

import (
	"fmt"
	stlog "log"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"crm-inbox/internal/models"
)

// Open opens the audit database at dsn and migrates the audit tables.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit database DSN cannot be empty")
	}

	newLogger := gormlogger.New(
		stlog.New(log.Logger, "", 0), // GORM writes through the global zerolog logger
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond, // gorm's default logger threshold
			LogLevel:                  gormLevel(log.Logger.GetLevel()),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	if err := Migrate(gdb, &models.ResolutionIssue{}, &models.SendAttempt{}); err != nil {
		return nil, err
	}

	log.Info().Str("dsn", dsn).Msg("Audit database connection established")
	return gdb, nil
}

// Migrate runs AutoMigrate for the given models.
func Migrate(gdb *gorm.DB, modelsToMigrate ...interface{}) error {
	if gdb == nil {
		return fmt.Errorf("database not initialized")
	}
	if len(modelsToMigrate) == 0 {
		return fmt.Errorf("no models provided for migration")
	}
	if err := gdb.AutoMigrate(modelsToMigrate...); err != nil {
		return fmt.Errorf("failed to auto-migrate audit database: %w", err)
	}
	log.Debug().Int("models_migrated", len(modelsToMigrate)).Msg("Audit database migration completed")
	return nil
}

func gormLevel(level zerolog.Level) gormlogger.LogLevel {
	switch {
	case level == zerolog.Disabled:
		return gormlogger.Silent
	case level >= zerolog.ErrorLevel:
		return gormlogger.Error
	case level == zerolog.WarnLevel:
		return gormlogger.Warn
	case level <= zerolog.DebugLevel:
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
