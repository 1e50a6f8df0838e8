package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"supportchat/internal/database"
	"supportchat/internal/dialogue"
	"supportchat/internal/migrations"
	"supportchat/internal/security"

	"github.com/fatih/color"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./supportchat.db", "Path to the database file")
	seedPath := flag.String("seed", "", "YAML rule file imported when the chatbot_responses table is empty")
	flag.Parse()

	if err := run(context.Background(), *dbPath, *seedPath); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, seedPath string) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}

	applied, skipped, err := migrate(ctx, dbPath)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Printf("Database: %s\n", dbPath)
	for _, v := range skipped {
		yellow.Printf("  = %s (already applied)\n", v)
	}
	for _, v := range applied {
		green.Printf("  + %s\n", v)
	}

	if seedPath == "" {
		green.Printf("Schema up to date (%d applied, %d skipped)\n", len(applied), len(skipped))
		return nil
	}

	n, err := seedRules(ctx, dbPath, seedPath)
	if err != nil {
		return err
	}
	if n == 0 {
		yellow.Println("Response rules already present, seed skipped")
	} else {
		green.Printf("Imported %d response rules from %s\n", n, seedPath)
	}
	return nil
}

// migrate applies every embedded migration not yet listed in
// schema_migrations, each in its own transaction
func migrate(ctx context.Context, dbPath string) (applied, skipped []string, err error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	all, err := migrations.All()
	if err != nil {
		return nil, nil, err
	}

	for _, m := range all {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return applied, skipped, fmt.Errorf("failed to check migration %s: %w", m.Version, err)
		}
		if count > 0 {
			skipped = append(skipped, m.Version)
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, skipped, fmt.Errorf("failed to begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return applied, skipped, fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			_ = tx.Rollback()
			return applied, skipped, fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, skipped, fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, skipped, nil
}

// seedRules imports a rule file into an empty rules table and returns the
// number of rules written
func seedRules(ctx context.Context, dbPath, seedPath string) (int, error) {
	rules, err := dialogue.LoadFile(seedPath)
	if err != nil {
		return 0, err
	}

	db, err := database.New(dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	existing, err := db.CountResponseRules(ctx)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, nil
	}

	for _, r := range rules {
		if _, err := db.InsertResponseRule(ctx, r); err != nil {
			return 0, fmt.Errorf("failed to import rule %q: %w", r.Key, err)
		}
	}
	return len(rules), nil
}
