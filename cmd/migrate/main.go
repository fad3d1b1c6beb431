// Package main applies or rolls back database schema migrations using
// golang-migrate against db/migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/mergeci/controlplane/internal/config"
)

func main() {
	dir := flag.String("dir", "db/migrations", "path to migration files")
	steps := flag.Int("steps", 0, "migrate N steps (negative to roll back); 0 migrates to latest")
	flag.Parse()

	cfg := config.Load()
	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("init migrator: %v", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Printf("close migration source: %v", srcErr)
		}
		if dbErr != nil {
			log.Printf("close migration database: %v", dbErr)
		}
	}()

	if *steps != 0 {
		err = m.Steps(*steps)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatalf("read schema version: %v", err)
	}
	fmt.Printf("schema version: %d (dirty=%v)\n", version, dirty)
}
