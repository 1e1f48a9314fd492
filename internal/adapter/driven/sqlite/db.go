// Package sqlite persists credential records in a SQLite database using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB provides dual reader/writer connections with WAL mode enabled.
// The writer pool holds a single connection to avoid "database is locked"
// errors; readers get up to 4.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// Open creates the dual-connection database at dbPath and applies pending
// migrations. The pragmas set WAL mode, a 5s busy timeout, synchronous
// NORMAL and a 64MB cache.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)",
		dbPath,
	)

	db, err := openDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}
	db.path = dbPath

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openDSN(ctx context.Context, dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: dsn}, nil
}

// Path returns the database file the connections were opened on.
func (db *DB) Path() string {
	return db.path
}

// Ping checks the writer connection. It backs the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
