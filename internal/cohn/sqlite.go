package cohn

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists credentials in a single SQLite file with WAL
// journaling, one row per camera.
type SQLiteStore struct {
	db *sql.DB
}

const ddlCredentials = `
CREATE TABLE IF NOT EXISTS cohn_credentials (
    camera_id   TEXT NOT NULL PRIMARY KEY,
    ip_address  TEXT NOT NULL,
    username    TEXT NOT NULL,
    password    TEXT NOT NULL,
    certificate TEXT NOT NULL,
    updated_at  INTEGER NOT NULL -- Unix seconds
);
`

// OpenSQLiteStore opens (or creates) the credential database at path,
// creating parent directories as needed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cohn: create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("cohn: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cohn: ping: %w", err)
	}
	// Limit writer concurrency to 1; WAL allows concurrent readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddlCredentials); err != nil {
		db.Close()
		return nil, fmt.Errorf("cohn: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(cameraID string) (Credentials, bool, error) {
	var c Credentials
	err := s.db.QueryRow(
		`SELECT ip_address, username, password, certificate
		 FROM cohn_credentials WHERE camera_id = ?`, cameraID,
	).Scan(&c.IP, &c.Username, &c.Password, &c.Certificate)
	if err == sql.ErrNoRows {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("cohn: load credentials: %w", err)
	}
	return c, true, nil
}

func (s *SQLiteStore) Save(cameraID string, creds Credentials) error {
	_, err := s.db.Exec(
		`INSERT INTO cohn_credentials (camera_id, ip_address, username, password, certificate, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(camera_id) DO UPDATE SET
		     ip_address = excluded.ip_address,
		     username = excluded.username,
		     password = excluded.password,
		     certificate = excluded.certificate,
		     updated_at = excluded.updated_at`,
		cameraID, creds.IP, creds.Username, creds.Password, creds.Certificate, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cohn: save credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(cameraID string) error {
	if _, err := s.db.Exec(`DELETE FROM cohn_credentials WHERE camera_id = ?`, cameraID); err != nil {
		return fmt.Errorf("cohn: delete credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT camera_id, ip_address, username, password, certificate, updated_at
		 FROM cohn_credentials ORDER BY camera_id`)
	if err != nil {
		return nil, fmt.Errorf("cohn: list credentials: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var updated int64
		if err := rows.Scan(&r.CameraID, &r.Creds.IP, &r.Creds.Username,
			&r.Creds.Password, &r.Creds.Certificate, &updated); err != nil {
			return nil, fmt.Errorf("cohn: scan credentials: %w", err)
		}
		r.UpdatedAt = time.Unix(updated, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cohn: list credentials: %w", err)
	}
	return records, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
