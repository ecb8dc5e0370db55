// Package db opens the backing database from a single URL, selecting
// the driver by scheme.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the database named by url and verifies the
// connection. Supported schemes:
//
//	postgres:// or postgresql:// - PostgreSQL via lib/pq
//	sqlite://<path>              - embedded SQLite via modernc.org/sqlite
func Open(url string) (*sql.DB, error) {
	driver, dsn, err := splitURL(url)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

func splitURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", strings.TrimPrefix(url, "sqlite://"), nil
	}
	return "", "", fmt.Errorf("unsupported database URL %q (expected postgres:// or sqlite://)", url)
}
