package store

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a durable Store implementation backed by a single key-value
// table. CompareAndSwap runs inside an immediate transaction so
// concurrent swaps on the same key serialize at the database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			UNIQUE(bucket, key)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate store schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLite) Get(bucket, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put implements Store.
func (s *SQLite) Put(bucket, key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value)
	return err
}

// Delete implements Store.
func (s *SQLite) Delete(bucket, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key)
	return err
}

// CompareAndSwap implements Store.
func (s *SQLite) CompareAndSwap(bucket, key string, old, new []byte) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRow(`SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key).Scan(&current)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, err
	}

	if old == nil {
		if exists {
			return false, nil
		}
		if _, err := tx.Exec(`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)`, bucket, key, new); err != nil {
			return false, err
		}
	} else {
		if !exists || !bytes.Equal(current, old) {
			return false, nil
		}
		if _, err := tx.Exec(`UPDATE kv SET value = ? WHERE bucket = ? AND key = ?`, new, bucket, key); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Keys implements Store.
func (s *SQLite) Keys(bucket string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE bucket = ? ORDER BY seq`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Interface conformance checks.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)
