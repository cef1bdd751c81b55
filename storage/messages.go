package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one transcript row. PeerAddr identifies the conversation;
// Direction distinguishes local from remote lines.
type Message struct {
	MessageID string
	PeerAddr  string
	PeerName  string
	Direction string
	Body      string
	SentAt    time.Time
}

// AppendMessage inserts one transcript row. A missing MessageID is
// filled with a fresh UUID.
func (s *Store) AppendMessage(msg Message) error {
	if msg.PeerAddr == "" {
		return errors.New("storage: peer_addr is required")
	}
	if err := validateDirection(msg.Direction); err != nil {
		return err
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (message_id, peer_addr, peer_name, direction, body, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID,
		msg.PeerAddr,
		msg.PeerName,
		msg.Direction,
		msg.Body,
		msg.SentAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", msg.MessageID, err)
	}
	return nil
}

// RecentMessages returns up to limit transcript rows exchanged with
// peerAddr, oldest first.
func (s *Store) RecentMessages(peerAddr string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT message_id, peer_addr, peer_name, direction, body, sent_at
		 FROM (
			SELECT message_id, peer_addr, peer_name, direction, body, sent_at
			FROM messages
			WHERE peer_addr = ?
			ORDER BY sent_at DESC
			LIMIT ?
		 )
		 ORDER BY sent_at ASC`,
		peerAddr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for %q: %w", peerAddr, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var sentAt int64
		if err := rows.Scan(&msg.MessageID, &msg.PeerAddr, &msg.PeerName, &msg.Direction, &msg.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.SentAt = time.UnixMilli(sentAt)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
