package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetMessage returns a message by id, or nil if absent.
func (s *Store) GetMessage(id uuid.UUID) (*Message, error) {
	row := s.db.QueryRow(`
		SELECT id, dialog_id, sender_id, receiver_id, sender_name, content, timestamp
		FROM messages WHERE id = ?`, id.String())
	m, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns all messages of a dialog ordered by timestamp
// ascending, ties broken by insertion order.
func (s *Store) ListMessages(dialogID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, dialog_id, sender_id, receiver_id, sender_name, content, timestamp
		FROM messages
		WHERE dialog_id = ?
		ORDER BY timestamp ASC, rowid ASC`, dialogID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// InsertMessages appends a batch of messages in a single transaction.
// Messages already present (by id) are skipped, which makes duplicate
// delivery from the broker harmless. For each new message the target dialog
// is resolved by id, then by participant pair; a message whose pair already
// has a dialog under a different id is re-homed to it so the
// one-dialog-per-pair invariant holds. A dialog that does not exist at all
// is created implicitly (first inbound message from a new peer). The
// dialog's latest-message pointer and update timestamp move in the same
// transaction. After commit exactly one MessagesAppended event covers the
// whole batch; an empty or all-duplicate batch emits nothing.
func (s *Store) InsertMessages(msgs []Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := insertMessagesTx(tx, msgs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.publishAppended(inserted)
	return inserted, nil
}

// InsertOutboundMessage appends a locally authored message and queues it on
// the outbox in the same transaction, so a crash can never leave a committed
// message that was silently dropped from sending. Emits MessagesAppended
// like InsertMessages; a duplicate id is skipped without queuing and returns
// nil.
func (s *Store) InsertOutboundMessage(msg Message) (*Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := insertMessagesTx(tx, []Message{msg})
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.Exec(`
		INSERT INTO outbox (message_id, status, created_at)
		VALUES (?, 'queued', ?)`,
		inserted[0].ID.String(), time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("queue outbox %s: %w", inserted[0].ID, mapErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.publishAppended(inserted)
	return &inserted[0], nil
}

func (s *Store) publishAppended(inserted []Message) {
	if len(inserted) == 0 {
		return
	}
	s.logger.Debug("messages appended", zap.Int("count", len(inserted)))
	s.publish(EventMessagesAppended, MessagesAppended{Messages: inserted})
}

func insertMessagesTx(tx *sql.Tx, msgs []Message) ([]Message, error) {
	var inserted []Message
	for _, m := range msgs {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ?`, m.ID.String()).Scan(&exists); err != nil {
			return nil, fmt.Errorf("dedup check %s: %w", m.ID, err)
		}
		if exists > 0 {
			continue
		}

		dialogID, err := resolveDialog(tx, &m)
		if err != nil {
			return nil, err
		}
		m.DialogID = dialogID

		if _, err := tx.Exec(`
			INSERT INTO messages (id, dialog_id, sender_id, receiver_id, sender_name, content, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID.String(), m.DialogID.String(), m.SenderID.String(), m.ReceiverID.String(),
			m.SenderName, m.Content, m.Timestamp); err != nil {
			return nil, fmt.Errorf("insert message %s: %w", m.ID, mapErr(err))
		}

		// Advance the denormalized pointer only for the newest message;
		// on a timestamp tie the later insert wins, matching list order.
		if _, err := tx.Exec(`
			UPDATE dialogs
			SET latest_message_id = ?, latest_update_timestamp = ?
			WHERE id = ? AND (latest_message_id IS NULL OR latest_update_timestamp <= ?)`,
			m.ID.String(), m.Timestamp, m.DialogID.String(), m.Timestamp); err != nil {
			return nil, fmt.Errorf("update dialog %s: %w", m.DialogID, mapErr(err))
		}

		inserted = append(inserted, m)
	}
	return inserted, nil
}

// resolveDialog finds the dialog a message belongs to within tx, creating it
// when neither the dialog id nor the sender/receiver pair is known yet.
func resolveDialog(tx *sql.Tx, m *Message) (uuid.UUID, error) {
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM dialogs WHERE id = ?`, m.DialogID.String()).Scan(&exists); err != nil {
		return uuid.Nil, fmt.Errorf("dialog lookup %s: %w", m.DialogID, err)
	}
	if exists > 0 {
		return m.DialogID, nil
	}

	var raw string
	err := tx.QueryRow(`
		SELECT id FROM dialogs
		WHERE (participant_a = ? AND participant_b = ?)
		   OR (participant_a = ? AND participant_b = ?)`,
		m.SenderID.String(), m.ReceiverID.String(),
		m.ReceiverID.String(), m.SenderID.String()).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`
			INSERT INTO dialogs (id, participant_a, participant_b, title, latest_update_timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			m.DialogID.String(), m.SenderID.String(), m.ReceiverID.String(),
			m.SenderName, m.Timestamp); err != nil {
			return uuid.Nil, fmt.Errorf("create dialog %s: %w", m.DialogID, mapErr(err))
		}
		return m.DialogID, nil
	case err != nil:
		return uuid.Nil, fmt.Errorf("pair lookup: %w", err)
	}
	return uuid.Parse(raw)
}

func scanMessageRow(row rowScanner) (*Message, error) {
	var m Message
	var id, dialogID, senderID, receiverID string
	if err := row.Scan(&id, &dialogID, &senderID, &receiverID, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
		return nil, err
	}

	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("message id %q: %w", id, err)
	}
	if m.DialogID, err = uuid.Parse(dialogID); err != nil {
		return nil, fmt.Errorf("dialog id %q: %w", dialogID, err)
	}
	if m.SenderID, err = uuid.Parse(senderID); err != nil {
		return nil, fmt.Errorf("sender id %q: %w", senderID, err)
	}
	if m.ReceiverID, err = uuid.Parse(receiverID); err != nil {
		return nil, fmt.Errorf("receiver id %q: %w", receiverID, err)
	}
	return &m, nil
}
