// Command migrate applies goose SQL migrations from internal/db/migrations.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

const defaultDir = "internal/db/migrations"

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", defaultDir, "directory with migration files")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	db, err := goose.OpenDBWithDriver("pgx", databaseURL())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	if err := goose.Run(command, db, *dir, flag.Args()[1:]...); err != nil {
		log.Fatalf("goose %s: %v", command, err)
	}
}

func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(envOr("DB_USER", "postgres"), envOr("DB_PASSWORD", "postgres")),
		Host:   envOr("DB_HOST", "localhost") + ":" + envOr("DB_PORT", "5432"),
		Path:   "/" + envOr("DB_NAME", "billing"),
	}
	q := url.Values{}
	q.Set("sslmode", envOr("DB_SSL_MODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Print(`Usage: migrate [-dir DIR] COMMAND

Commands:
    up                   Apply all pending migrations
    up-by-one            Apply the next pending migration
    up-to VERSION        Migrate up to VERSION
    down                 Roll back one migration
    down-to VERSION      Roll back to VERSION
    redo                 Re-run the latest migration
    status               Print migration status
    version              Print the current schema version
    create NAME sql      Create a new migration file
`)
}
