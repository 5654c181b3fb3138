package storage

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	sqlStore
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{sqlStore{db: db, dialect: dialectPostgres}}
	if err := initializeSchema(db, "migrations/postgres.sql"); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

func initializeSchema(db *sql.DB, name string) error {
	migrationSQL, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}
