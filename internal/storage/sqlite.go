package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	sqlStore
}

// NewSQLiteStorage opens (or creates) a database file. Writes are serialised through a
// single connection.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite db: %w", err)
	}
	if err := initializeSchema(db, "migrations/sqlite.sql"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStorage{sqlStore{db: db, dialect: dialectSQLite}}, nil
}
