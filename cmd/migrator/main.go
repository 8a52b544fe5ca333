// Command migrator applies database schema migrations.
package main

import (
	"embed"
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		configPath = flag.String("config", ".", "path to config directory")
		down       = flag.Bool("down", false, "roll back all migrations instead of applying them")
		steps      = flag.Int("steps", 0, "number of migrations to apply (0 means all)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer m.Close()

	switch {
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("No migrations to apply")
			return
		}
		log.Fatal().Err(err).Msg("Migration failed")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatal().Err(err).Msg("Failed to read migration version")
	}

	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Migrations applied")
}
