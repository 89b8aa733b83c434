package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps every document as a row of a single table, for hosts
// where one database file is easier to back up than a directory
type SQLiteStorage struct {
	db *sql.DB
}

// Ensure SQLiteStorage implements StorageInterface
var _ StorageInterface = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating it if needed) the database at dbPath
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	logrus.Debugf("Using SQLite storage at %s", dbPath)
	return &SQLiteStorage{db: db}, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Store replaces the whole document
func (s *SQLiteStorage) Store(filename string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, filename, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", filename, err)
	}
	return nil
}

// Retrieve returns a document, or ErrNotFound
func (s *SQLiteStorage) Retrieve(filename string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM documents WHERE name = ?`, filename).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return data, nil
}

// List returns the names of the documents starting with prefix
func (s *SQLiteStorage) List(prefix string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.Query(`SELECT name FROM documents WHERE name LIKE ? ESCAPE '\' ORDER BY name`, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *SQLiteStorage) Delete(filename string) error {
	if _, err := s.db.Exec(`DELETE FROM documents WHERE name = ?`, filename); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	return nil
}
