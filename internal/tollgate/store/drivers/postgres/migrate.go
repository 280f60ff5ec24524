package postgres

import (
	"errors"
	"strings"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/store/drivers/postgres/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations applies the embedded migrations through golang-migrate's
// pgx/v5 driver, which opens its own connection from the DSN.
func (s *Store) ApplyMigrations() error {
	migrationsFilesystem, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithSourceInstance("iofs", migrationsFilesystem, migrateURL(s.dsn))
	if err != nil {
		return err
	}
	defer func() { _, _ = instance.Close() }()

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// migrateURL rewrites a postgres:// DSN to the pgx5:// scheme the migrate
// driver registers under.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
