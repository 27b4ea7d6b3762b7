package main

import (
	"flag"
	"log"
	"os"

	"github.com/ironlayer/ironlayer/pkg/storage"
)

var (
	dsn    = flag.String("dsn", "", "Postgres DSN (defaults to IRONLAYER_POSTGRES_DSN)")
	status = flag.Bool("status", false, "Print migration status instead of migrating")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("IronLayer Schema Migration Tool")

	target := *dsn
	if target == "" {
		target = os.Getenv("IRONLAYER_POSTGRES_DSN")
	}
	if target == "" {
		log.Fatal("no DSN: pass -dsn or set IRONLAYER_POSTGRES_DSN")
	}

	if *status {
		if err := storage.MigrationStatus(target); err != nil {
			log.Fatalf("Status check failed: %v", err)
		}
		return
	}

	if err := storage.Migrate(target); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✓ Migrations applied successfully")
}
