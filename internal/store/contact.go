package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ListContacts returns all contacts ordered by name ascending.
func (s *Store) ListContacts() ([]Contact, error) {
	rows, err := s.db.Query(`SELECT id, name FROM contacts ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var id string
		if err := rows.Scan(&id, &c.Name); err != nil {
			return nil, err
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("contact id %q: %w", id, err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContact returns a contact by id, or nil if absent.
func (s *Store) GetContact(id uuid.UUID) (*Contact, error) {
	var c Contact
	var raw string
	err := s.db.QueryRow(`SELECT id, name FROM contacts WHERE id = ?`, id.String()).
		Scan(&raw, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

// InsertContacts inserts all contacts in one transaction, all-or-nothing.
// Duplicate ids fail the whole batch with ErrConstraint. Bulk seeding is
// silent: no event is emitted (only dialog opening and messaging announce).
func (s *Store) InsertContacts(contacts []Contact) ([]Contact, error) {
	if len(contacts) == 0 {
		return nil, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`INSERT INTO contacts (id, name, updated_at) VALUES (?, ?, ?)`,
			c.ID.String(), c.Name, now); err != nil {
			return nil, fmt.Errorf("insert contact %s: %w", c.ID, mapErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return contacts, nil
}

// DeleteContacts removes the given contacts together with every dialog they
// participate in and all messages under those dialogs, atomically. Emits a
// single ContactsDeleted event batching the affected dialog ids.
func (s *Store) DeleteContacts(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}

	dialogIDs, err := collectDialogIDs(tx, placeholders, args)
	if err != nil {
		return err
	}

	pairArgs := append(append([]any{}, args...), args...)
	for _, q := range []string{
		`DELETE FROM messages WHERE dialog_id IN (
			SELECT id FROM dialogs WHERE participant_a IN (` + placeholders + `) OR participant_b IN (` + placeholders + `))`,
		`DELETE FROM dialogs WHERE participant_a IN (` + placeholders + `) OR participant_b IN (` + placeholders + `)`,
	} {
		if _, err := tx.Exec(q, pairArgs...); err != nil {
			return fmt.Errorf("cascade delete: %w", mapErr(err))
		}
	}
	if _, err := tx.Exec(`DELETE FROM contacts WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete contacts: %w", mapErr(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("contacts deleted",
		zap.Int("contacts", len(ids)),
		zap.Int("dialogs", len(dialogIDs)))
	s.publish(EventContactsDeleted, ContactsDeleted{DialogIDs: dialogIDs})
	return nil
}

func collectDialogIDs(tx *sql.Tx, placeholders string, args []any) ([]uuid.UUID, error) {
	pairArgs := append(append([]any{}, args...), args...)
	rows, err := tx.Query(
		`SELECT id FROM dialogs WHERE participant_a IN (`+placeholders+`) OR participant_b IN (`+placeholders+`)`,
		pairArgs...)
	if err != nil {
		return nil, fmt.Errorf("collect dialog ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("dialog id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
