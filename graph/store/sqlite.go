package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It stores thread checkpoints in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments that must survive restarts
//
// Appends run in a transaction that reads MAX(seq) and inserts the next
// row; the (thread_id, seq) primary key rejects any duplicate that could slip
// past. The pool is limited to one connection, which serializes writers.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	codec  codec
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./dev.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and table, enables WAL
// mode and sets a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore[graph.State]("./threads.db", store.WithCompression())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string, opts ...Option) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open (required for :memory:)
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	o := buildOptions(opts)
	store := &SQLiteStore[S]{
		db:    db,
		path:  path,
		codec: codec{compress: o.compress},
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			state BLOB NOT NULL,
			next_node TEXT NOT NULL,
			interrupts TEXT NOT NULL DEFAULT '[]',
			node TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_created: %w", err)
	}

	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore[S]) Append(ctx context.Context, threadID string, cp Checkpoint[S]) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	stateData, err := s.codec.encode(cp.State)
	if err != nil {
		return 0, err
	}
	interrupts, err := json.Marshal(nonNil(cp.Interrupts))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal interrupts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM checkpoints WHERE thread_id = ?",
		threadID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}

	cp = prepare(threadID, seq, cp)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, seq, state, next_node, interrupts, node, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, threadID, seq, stateData, cp.NextNode, string(interrupts), cp.Node, cp.Source, cp.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return seq, nil
}

// Latest implements Store.
func (s *SQLiteStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, seq, state, next_node, interrupts, node, source, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, threadID)

	cp, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Store.
func (s *SQLiteStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, seq, state, next_node, interrupts, node, source, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Checkpoint[S], 0)
	for rows.Next() {
		cp, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore[S]) scan(row rowScanner) (Checkpoint[S], error) {
	var (
		cp         Checkpoint[S]
		stateData  []byte
		interrupts string
		createdAt  int64
	)
	if err := row.Scan(&cp.ThreadID, &cp.Seq, &stateData, &cp.NextNode, &interrupts, &cp.Node, &cp.Source, &createdAt); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := s.codec.decode(stateData, &cp.State); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal([]byte(interrupts), &cp.Interrupts); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal interrupts: %w", err)
	}
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	return cp, nil
}

// Close closes the database connection.
//
// After Close, all operations will return ErrClosed.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
