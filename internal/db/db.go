package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	defaultDBName = "stepline.db"
	workspaceDir  = ".stepline"
)

type Config struct {
	Workspace string
	// Path overrides the workspace-derived database file when set.
	Path string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

const readerConns = 4

// Open opens the SQLite database with foreign keys on. Write transactions
// begin IMMEDIATE so a read-then-write transition holds the write lock for
// its whole duration.
func Open(cfg Config) (*sql.DB, error) {
	path, err := resolvePath(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", dsn(path, "journal_mode(WAL)")+"&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single writer; also keeps every statement of a transaction on one connection
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// OpenReader opens a query-only pool on the same file. WAL lets its
// connections read while the writer holds its lock. Open (and migrate)
// the writer first so the file and its journal mode exist.
func OpenReader(cfg Config) (*sql.DB, error) {
	path, err := resolvePath(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", dsn(path, "query_only(1)"))
	if err != nil {
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	conn.SetMaxOpenConns(readerConns)
	return conn, nil
}

func resolvePath(cfg Config) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return "", err
	}
	return dbPath(cfg.Workspace), nil
}

func dsn(path string, pragmas ...string) string {
	v := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	for _, p := range pragmas {
		v += "&_pragma=" + p
	}
	return v
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
