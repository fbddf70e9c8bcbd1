// Command migrate applies the embedded schema migrations to the database
// named by STOREFRONT_DATABASE_URL.
package main

import (
	"flag"
	"log"

	"storefront/cmd/internal/app"
	"storefront/cmd/internal/db"
)

func main() {
	direction := flag.String("direction", db.DirectionUp, "migration direction: up or down")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	if err := db.Migrate(cfg.DatabaseURL, *direction); err != nil {
		logger.Error("migrate.fail", "direction", *direction, "err", err)
		log.Fatal(err)
	}
	logger.Info("migrate.done", "direction", *direction)
}
