// internal/store/store.go
// Package store keeps the list of known agent servers in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrServerNotFound = errors.New("server not found")
	ErrDuplicateName  = errors.New("server name already in use")
)

// Backend kinds a server can speak
const (
	BackendNative   = "native"
	BackendOpencode = "opencode"
)

// Server is a known remote endpoint
type Server struct {
	ID        string
	Name      string
	URL       string
	Backend   string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the server list as seen by the CLI
type Repository interface {
	List() ([]Server, error)
	Get(ref string) (*Server, error)
	Add(name, url, backend string) (*Server, error)
	Remove(ref string) error
	Update(s Server) error
	Default() (*Server, error)
	SetDefault(ref string) error
}

type Store struct {
	db *sql.DB
}

var _ Repository = (*Store)(nil)

// Open opens the store under $XDG_DATA_HOME/ineffable
func Open() (*Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenPath(filepath.Join(dir, "servers.db"))
}

// OpenPath opens the store at an explicit database path
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open server store: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate server store: %w", err)
	}
	return store, nil
}

func dataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "ineffable"), nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		backend TEXT NOT NULL DEFAULT 'native',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const serverColumns = `id, name, url, backend, is_default, created_at, updated_at`

func scanServer(row interface{ Scan(...any) error }) (*Server, error) {
	var srv Server
	if err := row.Scan(&srv.ID, &srv.Name, &srv.URL, &srv.Backend, &srv.IsDefault, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
		return nil, err
	}
	return &srv, nil
}

// List returns all servers ordered by name
func (s *Store) List() ([]Server, error) {
	rows, err := s.db.Query(`SELECT ` + serverColumns + ` FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// Get finds a server by id or name
func (s *Store) Get(ref string) (*Server, error) {
	row := s.db.QueryRow(`SELECT `+serverColumns+` FROM servers WHERE id = ? OR name = ?`, ref, ref)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, ref)
	}
	return srv, err
}

// Add registers a server. The first server added becomes the default.
func (s *Store) Add(name, url, backend string) (*Server, error) {
	name = strings.TrimSpace(name)
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if name == "" || url == "" {
		return nil, errors.New("server name and url are required")
	}
	if backend == "" {
		backend = BackendNative
	}
	if backend != BackendNative && backend != BackendOpencode {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	if _, err := s.Get(name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM servers`).Scan(&count); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO servers (id, name, url, backend, is_default) VALUES (?, ?, ?, ?, ?)`,
		id, name, url, backend, count == 0,
	)
	if err != nil {
		return nil, fmt.Errorf("add server: %w", err)
	}
	return s.Get(id)
}

// Remove deletes a server by id or name
func (s *Store) Remove(ref string) error {
	srv, err := s.Get(ref)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM servers WHERE id = ?`, srv.ID)
	return err
}

// Update saves the name, url and backend of an existing server
func (s *Store) Update(srv Server) error {
	if other, err := s.Get(srv.Name); err == nil && other.ID != srv.ID {
		return fmt.Errorf("%w: %s", ErrDuplicateName, srv.Name)
	}

	result, err := s.db.Exec(
		`UPDATE servers SET name = ?, url = ?, backend = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		srv.Name, strings.TrimRight(srv.URL, "/"), srv.Backend, srv.ID,
	)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrServerNotFound, srv.ID)
	}
	return nil
}

// Default returns the server marked as default
func (s *Store) Default() (*Server, error) {
	row := s.db.QueryRow(`SELECT ` + serverColumns + ` FROM servers WHERE is_default = 1 LIMIT 1`)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServerNotFound
	}
	return srv, err
}

// SetDefault marks one server as the default
func (s *Store) SetDefault(ref string) error {
	srv, err := s.Get(ref)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE servers SET is_default = 0 WHERE is_default = 1`); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE servers SET is_default = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, srv.ID); err != nil {
		return err
	}
	return tx.Commit()
}
