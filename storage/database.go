// Package storage persists the chat transcript and file-offer log to
// a SQLite database under the application data directory. It is an
// optional layer: the protocol core runs identically with history
// disabled.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "history.db"

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"

	OfferStatusPending  = "pending"
	OfferStatusAccepted = "accepted"
	OfferStatusRejected = "rejected"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  message_id TEXT PRIMARY KEY,
  peer_addr  TEXT NOT NULL,
  peer_name  TEXT NOT NULL,
  direction  TEXT NOT NULL CHECK(direction IN ('sent','received')),
  body       TEXT NOT NULL,
  sent_at    INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_peer_time
ON messages (peer_addr, sent_at);
`,
	`
CREATE TABLE IF NOT EXISTS file_offers (
  offer_id   TEXT PRIMARY KEY,
  peer_addr  TEXT NOT NULL,
  peer_name  TEXT NOT NULL,
  direction  TEXT NOT NULL CHECK(direction IN ('sent','received')),
  filename   TEXT NOT NULL,
  size       INTEGER NOT NULL,
  hash       TEXT NOT NULL,
  status     TEXT NOT NULL CHECK(status IN ('pending','accepted','rejected')) DEFAULT 'pending',
  offered_at INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_file_offers_peer_time
ON file_offers (peer_addr, offered_at);
`,
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database under dataDir and applies
// migrations. It returns the store and the database file path.
func Open(dataDir string) (*Store, string, error) {
	dbPath := filepath.Join(dataDir, DefaultDBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, "", fmt.Errorf("open database %q: %w", dbPath, err)
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	return &Store{db: db}, dbPath, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func validateDirection(direction string) error {
	switch direction {
	case DirectionSent, DirectionReceived:
		return nil
	default:
		return fmt.Errorf("storage: invalid direction %q", direction)
	}
}

func validateOfferStatus(status string) error {
	switch status {
	case OfferStatusPending, OfferStatusAccepted, OfferStatusRejected:
		return nil
	default:
		return fmt.Errorf("storage: invalid offer status %q", status)
	}
}
