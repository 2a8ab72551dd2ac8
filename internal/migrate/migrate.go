package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Migration is one schema step: NNN_name.sql with an optional NNN_name.down.sql
type Migration struct {
	Version   int
	Name      string
	UpFile    string
	DownFile  string
	Applied   bool
	AppliedAt *time.Time
}

// Pattern: 001_name.sql (down files carry an extra ".down")
var filePattern = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)(\.down)?\.sql$`)

// Runner applies and rolls back migrations read from files
type Runner struct {
	db    *sql.DB
	files fs.FS
}

// NewRunner creates a new migration runner
func NewRunner(db *sql.DB, files fs.FS) *Runner {
	return &Runner{db: db, files: files}
}

// EnsureTable creates the schema_migrations tracking table
func (r *Runner) EnsureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// Load lists the migration files in version order
func (r *Runner) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(r.files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := filePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = m
		} else if m.Name != matches[2] {
			return nil, fmt.Errorf("migration %03d has conflicting names %q and %q", version, m.Name, matches[2])
		}

		if matches[3] != "" {
			m.DownFile = entry.Name()
		} else {
			m.UpFile = entry.Name()
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpFile == "" {
			return nil, fmt.Errorf("migration %03d_%s has no up file", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (r *Runner) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status returns every known migration marked with whether it is applied
func (r *Runner) Status(ctx context.Context) ([]Migration, error) {
	migrations, err := r.Load()
	if err != nil {
		return nil, err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	for i := range migrations {
		if at, ok := applied[migrations[i].Version]; ok {
			migrations[i].Applied = true
			migrations[i].AppliedAt = &at
		}
	}
	return migrations, nil
}

// Up applies all pending migrations, each in its own transaction
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	migrations, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, m := range migrations {
		if m.Applied {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return done, fmt.Errorf("failed to apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		done = append(done, m)
	}
	return done, nil
}

// Down rolls back the most recently applied migration. It returns nil when
// nothing is applied.
func (r *Runner) Down(ctx context.Context) (*Migration, error) {
	migrations, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if !m.Applied {
			continue
		}
		if err := r.rollback(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to rollback migration %03d_%s: %w", m.Version, m.Name, err)
		}
		return &m, nil
	}
	return nil, nil
}

// Reset rolls back every applied migration and reapplies them all
func (r *Runner) Reset(ctx context.Context) ([]Migration, error) {
	for {
		m, err := r.Down(ctx)
		if err != nil {
			return nil, err
		}
		if m == nil {
			break
		}
	}
	return r.Up(ctx)
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	content, err := fs.ReadFile(r.files, m.UpFile)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		logrus.WithField("migration", fmt.Sprintf("%03d_%s", m.Version, m.Name)).Info("Migration applied")
		return nil
	})
}

func (r *Runner) rollback(ctx context.Context, m Migration) error {
	if m.DownFile == "" {
		return fmt.Errorf("no rollback defined for migration version %d", m.Version)
	}
	content, err := fs.ReadFile(r.files, m.DownFile)
	if err != nil {
		return fmt.Errorf("failed to read rollback file: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if strings.TrimSpace(string(content)) != "" {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute rollback SQL: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version); err != nil {
			return fmt.Errorf("failed to remove migration record: %w", err)
		}
		logrus.WithField("migration", fmt.Sprintf("%03d_%s", m.Version, m.Name)).Info("Migration rolled back")
		return nil
	})
}

func (r *Runner) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
