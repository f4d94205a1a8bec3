package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// NewDB opens the journal database at path and applies migrations.
func NewDB(path string, log *slog.Logger) (*sqlx.DB, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errs.Database("failed to connect to journal database", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := ApplyMigrations(db.DB, log); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Error closing journal database after migration failure", "error", closeErr)
		}
		return nil, err
	}

	log.Info("Journal database ready", "path", path)
	return db, nil
}

// CloseDB closes the database, logging any error.
func CloseDB(db *sqlx.DB, log *slog.Logger) {
	if db == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing journal database", "error", err)
		return
	}
	log.Info("Journal database closed")
}

// ApplyMigrations runs the embedded migrations against db.
func ApplyMigrations(db *sql.DB, log *slog.Logger) error {
	if db == nil {
		return errs.Database("database connection is nil, cannot apply migrations", nil)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return errs.Database("failed to open embedded migrations", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return errs.Database("failed to create sqlite migration driver", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return errs.Database("failed to create migrator", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("No journal migrations to apply")
			return nil
		}
		return errs.Database("failed to apply migrations", fmt.Errorf("migrate up: %w", err))
	}

	log.Info("Journal migrations applied")
	return nil
}
