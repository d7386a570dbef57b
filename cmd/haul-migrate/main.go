// README: Applies or rolls back the SQL migrations under migrations/.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"haul/internal/config"
	"haul/internal/infra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := infra.NewLogger(os.Stdout, cfg.Log.Level)

	dsn := flag.String("dsn", cfg.DB.DSN, "Postgres DSN (defaults to HAUL_DB_DSN)")
	dir := flag.String("path", "migrations", "migrations directory")
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("HAUL_DB_DSN or -dsn is required")
	}

	if err := runMigrations(*dsn, *dir, *down, logger); err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func runMigrations(dsn, dir string, down bool, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("migrations already current")
		return nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	logger.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty), slog.Bool("down", down))
	return nil
}
