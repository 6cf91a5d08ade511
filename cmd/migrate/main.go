// Command migrate applies the CryptoGuard schema with goose.
//
// Usage:
//
//	go run ./cmd/migrate up              # apply pending migrations
//	go run ./cmd/migrate down            # roll back the last migration
//	go run ./cmd/migrate status          # list applied and pending files
//	go run ./cmd/migrate -dir db/sql up  # use another migrations directory
//
// DATABASE_URL selects the database; a .env file is honoured.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/cryptoguard/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the goose .sql files")
	timeout := flag.Duration("timeout", 2*time.Minute, "give up after this long")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dir path] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, reset, up-to <v>, down-to <v>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	if err := run(*dir, *timeout, flag.Arg(0), flag.Args()[1:], logger); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(dir string, timeout time.Duration, command string, args []string, logger *slog.Logger) error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	start := time.Now()
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return err
	}
	logger.Info("migration finished", "command", command, "dir", dir, "took", time.Since(start).Round(time.Millisecond))
	return nil
}
