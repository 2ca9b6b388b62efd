package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for:
//   - Production deployments where several processes serve the same threads
//   - Long-running conversations that must survive process restarts
//   - Audit trails of every step taken by the agent
//
// Per-thread serialization uses a row lock: each append locks the thread's
// row in checkpoint_threads (SELECT ... FOR UPDATE), assigns the next
// sequence number and inserts the checkpoint in the same transaction.
// Appends to different threads lock different rows and proceed in parallel.
//
// Schema:
//   - checkpoint_threads: one row per thread holding the last sequence number
//   - checkpoints: the checkpoint records
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	codec  codec
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Read the DSN from the
//	environment (CHECKPOINT_DSN) or the config file.
//
// Example:
//
//	st, err := store.NewMySQLStore[graph.State]("user:pass@tcp(localhost:3306)/travel")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore[S any](dsn string, opts ...Option) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Max connection lifetime (prevent stale connections)
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	o := buildOptions(opts)
	store := &MySQLStore[S]{
		db:    db,
		codec: codec{compress: o.compress},
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	threadsTable := `
		CREATE TABLE IF NOT EXISTS checkpoint_threads (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			last_seq BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, threadsTable); err != nil {
		return fmt.Errorf("failed to create checkpoint_threads table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			seq BIGINT NOT NULL,
			state LONGBLOB NOT NULL,
			next_node VARCHAR(255) NOT NULL,
			interrupts JSON NOT NULL,
			node VARCHAR(255) NOT NULL DEFAULT '',
			source VARCHAR(32) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (thread_id, seq),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Append implements Store.
func (m *MySQLStore[S]) Append(ctx context.Context, threadID string, cp Checkpoint[S]) (int64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	stateData, err := m.codec.encode(cp.State)
	if err != nil {
		return 0, err
	}
	interrupts, err := json.Marshal(nonNil(cp.Interrupts))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal interrupts: %w", err)
	}

	var seq int64
	err = m.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO checkpoint_threads (thread_id, last_seq) VALUES (?, -1)",
			threadID,
		); err != nil {
			return fmt.Errorf("failed to register thread: %w", err)
		}

		var last int64
		if err := tx.QueryRowContext(ctx,
			"SELECT last_seq FROM checkpoint_threads WHERE thread_id = ? FOR UPDATE",
			threadID,
		).Scan(&last); err != nil {
			return fmt.Errorf("failed to lock thread: %w", err)
		}
		seq = last + 1

		cp = prepare(threadID, seq, cp)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (thread_id, seq, state, next_node, interrupts, node, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, threadID, seq, stateData, cp.NextNode, string(interrupts), cp.Node, cp.Source, cp.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE checkpoint_threads SET last_seq = ? WHERE thread_id = ?",
			seq, threadID,
		); err != nil {
			return fmt.Errorf("failed to advance sequence: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Latest implements Store.
func (m *MySQLStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT thread_id, seq, state, next_node, interrupts, node, source, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, threadID)

	cp, err := m.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Store.
func (m *MySQLStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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
		cp, err := m.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (m *MySQLStore[S]) scan(row rowScanner) (Checkpoint[S], error) {
	var (
		cp         Checkpoint[S]
		stateData  []byte
		interrupts []byte
		createdAt  int64
	)
	if err := row.Scan(&cp.ThreadID, &cp.Seq, &stateData, &cp.NextNode, &interrupts, &cp.Node, &cp.Source, &createdAt); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := m.codec.decode(stateData, &cp.State); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal(interrupts, &cp.Interrupts); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal interrupts: %w", err)
	}
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	return cp, nil
}

// Close closes the database connection pool.
//
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics for monitoring.
func (m *MySQLStore[S]) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.db.Stats()
}

// WithTransaction runs fn inside a READ COMMITTED transaction, committing on
// success and rolling back on error.
func (m *MySQLStore[S]) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
