package store

import (
	"fmt"
	"math/rand"
)

// defaultQuickReplies is the seed content installed on first startup.
var defaultQuickReplies = []string{
	"OK",
	"On my way",
	"Sounds good",
	"Thanks!",
	"Can't talk now, later?",
	"What's up?",
}

// ListQuickReplies returns all quick replies ordered by id.
func (s *Store) ListQuickReplies() ([]QuickReply, error) {
	rows, err := s.db.Query(`SELECT id, message FROM quick_replies ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var replies []QuickReply
	for rows.Next() {
		var qr QuickReply
		if err := rows.Scan(&qr.ID, &qr.Message); err != nil {
			return nil, err
		}
		replies = append(replies, qr)
	}
	return replies, rows.Err()
}

// RandomQuickReply returns one quick reply at random, or nil when the table
// is empty.
func (s *Store) RandomQuickReply() (*QuickReply, error) {
	replies, err := s.ListQuickReplies()
	if err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, nil
	}
	return &replies[rand.Intn(len(replies))], nil
}

// seedQuickReplies installs the defaults exactly once. Guarded by a count
// check so Initialize stays idempotent across restarts, and survives Logout
// (which keeps quick replies).
func (s *Store) seedQuickReplies() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM quick_replies`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range defaultQuickReplies {
		if _, err := tx.Exec(`INSERT INTO quick_replies (message) VALUES (?)`, msg); err != nil {
			return fmt.Errorf("insert quick reply: %w", mapErr(err))
		}
	}
	return tx.Commit()
}
