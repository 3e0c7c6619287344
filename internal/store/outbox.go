package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueOutbox enqueues a locally written message for publishing. The row
// survives restarts, so an in-flight send is retried by the next daemon run.
func (s *Store) QueueOutbox(messageID uuid.UUID) error {
	_, err := s.db.Exec(`
		INSERT INTO outbox (message_id, status, created_at)
		VALUES (?, 'queued', ?)`,
		messageID.String(), time.Now().UnixMilli())
	return mapErr(err)
}

// PendingOutbox returns queued entries in enqueue order. Entries stuck in
// 'sending' from a crashed run are included so they get retried.
func (s *Store) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, message_id, status, error_message
		FROM outbox
		WHERE status IN ('queued', 'sending')
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var raw string
		if err := rows.Scan(&e.ID, &raw, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if e.MessageID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("outbox message id %q: %w", raw, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxSending flags an entry as in flight.
func (s *Store) MarkOutboxSending(messageID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE outbox SET status = 'sending' WHERE message_id = ?`, messageID.String())
	return err
}

// MarkOutboxSent flags an entry as published.
func (s *Store) MarkOutboxSent(messageID uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE outbox SET status = 'sent', error_message = '' WHERE message_id = ?`, messageID.String())
	return err
}

// MarkOutboxFailed records a publish failure.
func (s *Store) MarkOutboxFailed(messageID uuid.UUID, reason string) error {
	_, err := s.db.Exec(`UPDATE outbox SET status = 'failed', error_message = ? WHERE message_id = ?`, reason, messageID.String())
	return err
}
