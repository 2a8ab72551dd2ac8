package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"mailcampaign/internal/config"
	"mailcampaign/internal/database"
	"mailcampaign/internal/logging"
	"mailcampaign/internal/migrate"
	"mailcampaign/migrations"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func main() {
	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	command := "help"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up", "down", "status", "reset":
	case "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.GetDatabaseDSN(), database.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		fail("%v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, migrations.Files)
	if err := runner.EnsureTable(ctx); err != nil {
		fail("%v", err)
	}

	switch command {
	case "up":
		done, err := runner.Up(ctx)
		if err != nil {
			fail("Migration failed: %v", err)
		}
		if len(done) == 0 {
			printColor(colorGreen, "✓ All migrations are up to date")
			return
		}
		printColor(colorGreen, fmt.Sprintf("✓ Successfully applied %d migration(s)", len(done)))
	case "down":
		m, err := runner.Down(ctx)
		if err != nil {
			fail("Rollback failed: %v", err)
		}
		if m == nil {
			printColor(colorYellow, "No migrations to rollback")
			return
		}
		printColor(colorGreen, fmt.Sprintf("✓ Rolled back migration %03d_%s", m.Version, m.Name))
	case "reset":
		done, err := runner.Reset(ctx)
		if err != nil {
			fail("Reset failed: %v", err)
		}
		printColor(colorGreen, fmt.Sprintf("✓ Database reset, %d migration(s) reapplied", len(done)))
	case "status":
		status, err := runner.Status(ctx)
		if err != nil {
			fail("Failed to show status: %v", err)
		}
		printStatus(status)
	}
}

func printStatus(status []migrate.Migration) {
	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n", colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	applied := 0
	for _, m := range status {
		state, color, at := "pending", colorYellow, "-"
		if m.Applied {
			applied++
			state, color = "applied", colorGreen
			if m.AppliedAt != nil {
				at = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Printf("%-10s %-40s %s%-12s%s %-20s\n", fmt.Sprintf("%03d", m.Version), m.Name, color, state, colorReset, at)
	}

	fmt.Println(strings.Repeat("-", 85))
	printColor(colorCyan, fmt.Sprintf("Summary: %d/%d migrations applied", applied, len(status)))
}

func printColor(color, msg string) {
	fmt.Printf("%s%s%s\n", color, msg, colorReset)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

func printUsage() {
	printColor(colorCyan, "=== Mail Campaign Migration Runner ===")
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  up       - Apply all pending migrations")
	fmt.Println("  down     - Rollback the last applied migration")
	fmt.Println("  status   - Show current migration status")
	fmt.Println("  reset    - Rollback all migrations and reapply them")
	fmt.Println("  help     - Show this help message")
	fmt.Println("\nMigrations are embedded from migrations/*.sql and tracked in 'schema_migrations'.")
}
