package main

import (
	"flag"

	"github.com/gofamint/content-sync/internal/config"
	"github.com/gofamint/content-sync/internal/database"
	"github.com/gofamint/content-sync/pkg/logger"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down (one step)")
	path := flag.String("path", "", "migrations directory (defaults to MIGRATIONS_PATH)")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	migrationsPath := cfg.Database.MigrationsPath
	if *path != "" {
		migrationsPath = *path
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	switch *direction {
	case "up":
		err = db.RunMigrations(migrationsPath)
	case "down":
		err = db.MigrateDown(migrationsPath)
	default:
		log.Fatal().Str("direction", *direction).Msg("Unknown migration direction")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
