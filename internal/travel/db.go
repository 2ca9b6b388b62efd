// Package travel provides the travel database and the flight, hotel, car
// rental, excursion, policy and web search tools used by the assistant.
package travel

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/log"
)

//go:embed schema.sql
var schemaSQL string

//go:embed seed.sql
var seedSQL string

// DB is the travel database: flights, tickets, bookings, hotels, car
// rentals and trip recommendations.
//
// The schema matches the public travel2.sqlite benchmark database, so a
// downloaded copy can be opened directly. Seed loads a small demo data set
// instead.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens the SQLite database at path and creates any missing tables.
//
// The database is configured with:
//   - a single connection, since SQLite has one writer and ":memory:"
//     databases are per connection
//   - a 5-second busy timeout for lock contention
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open travel database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to travel database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragma: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQL returns the underlying handle for direct queries.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Path returns the path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// Seed inserts the demo data set. Existing rows are kept, so Seed is
// idempotent.
func (d *DB) Seed(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, seedSQL); err != nil {
		return fmt.Errorf("failed to seed travel database: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to path, replacing any
// existing file.
func (d *DB) Backup(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace backup: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// Download fetches the database from url into path and writes a pristine
// copy to backupPath, which Reset restores from.
func Download(ctx context.Context, http *tool.HTTPTool, url, path, backupPath string) error {
	out, err := http.Call(ctx, map[string]interface{}{"url": url})
	if err != nil {
		return fmt.Errorf("failed to download travel database: %w", err)
	}
	if status, _ := out["status_code"].(int); status != 200 {
		return fmt.Errorf("failed to download travel database: status %v", out["status_code"])
	}
	body, _ := out["body"].(string)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write travel database: %w", err)
	}
	if err := copyFile(path, backupPath); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	log.Infof("downloaded travel database to %s (%d bytes)", path, len(body))
	return nil
}

// EnsureLocal downloads the database unless path already exists.
func EnsureLocal(ctx context.Context, http *tool.HTTPTool, url, path, backupPath string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return Download(ctx, http, url, path, backupPath)
}

// Reset restores path from backupPath and shifts every flight and booking
// timestamp so that the latest actual departure is now. The database must
// not be open elsewhere.
func Reset(ctx context.Context, path, backupPath string) error {
	if err := copyFile(backupPath, path); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	db, err := Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	shift, err := db.ShiftDates(ctx, now())
	if err != nil {
		return err
	}
	log.Infof("reset travel database %s (dates shifted by %s)", path, shift)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
