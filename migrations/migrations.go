// Package migrations embeds the SQL schema for every relational driver.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Up applies every pending migration of dialect to databaseURL. The URL
// scheme selects the migrate driver: sqlite3://path or pgx5://dsn.
// It reports applied=false when the schema was already current.
func Up(dialect, databaseURL string) (applied bool, err error) {
	const op = "migrations.Up"

	src, err := iofs.New(FS, dialect)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

// SQLiteURL turns a file path into a migrate database URL.
func SQLiteURL(path string) string {
	return "sqlite3://" + path
}

// PostgresURL rewrites a postgres:// DSN for the pgx/v5 migrate driver.
func PostgresURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}
