package identity

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrUnknownSession means the presented token maps to no user; the caller
// should treat the browser as logged out.
var ErrUnknownSession = errors.New("unknown session")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS sessions_username ON sessions(username);`

// Store maps opaque browser session tokens to usernames. It is durable so a
// server restart does not log every browser out.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Establish creates a session for the username and returns its token.
func (s *Store) Establish(username string) (string, error) {
	token := uuid.NewString()
	_, err := s.db.Exec(`
        INSERT INTO sessions (token, username, created_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)`, token, username)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Lookup resolves a token to its username.
func (s *Store) Lookup(token string) (string, error) {
	var username string
	err := s.db.QueryRow("SELECT username FROM sessions WHERE token = ?", token).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownSession
	}
	if err != nil {
		return "", err
	}
	return username, nil
}

// Clear removes a session. Clearing an unknown token is not an error.
func (s *Store) Clear(token string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE token = ?", token)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
