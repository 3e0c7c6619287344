package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DialogExists reports whether any dialog has the given peer as a
// participant. The store holds one identity's data, so a peer appears in at
// most one dialog.
func (s *Store) DialogExists(peerID uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dialogs WHERE participant_a = ? OR participant_b = ?`,
		peerID.String(), peerID.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// OpenDialogWithPeer finds the dialog between self and peer, creating it if
// absent (titled after the peer contact when known). Emits ContactOpened on
// success; calling it again for the same pair returns the same dialog id
// without creating a duplicate.
func (s *Store) OpenDialogWithPeer(selfID, peerID uuid.UUID) (uuid.UUID, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.dialogIDForPair(selfID, peerID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != uuid.Nil {
		s.publish(EventContactOpened, ContactOpened{DialogID: existing})
		return existing, nil
	}

	title := ""
	if contact, err := s.GetContact(peerID); err == nil && contact != nil {
		title = contact.Name
	}

	dialog := Dialog{
		ID:                    uuid.New(),
		ParticipantA:          selfID,
		ParticipantB:          peerID,
		Title:                 title,
		LatestUpdateTimestamp: time.Now().Unix(),
	}
	if _, err := s.insertDialogs([]Dialog{dialog}); err != nil {
		return uuid.Nil, err
	}
	return dialog.ID, nil
}

// InsertDialogs creates the given dialog rows in one transaction and emits
// one ContactOpened event per created dialog after commit.
func (s *Store) InsertDialogs(dialogs []Dialog) ([]Dialog, error) {
	if len(dialogs) == 0 {
		return nil, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertDialogs(dialogs)
}

func (s *Store) insertDialogs(dialogs []Dialog) ([]Dialog, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range dialogs {
		var latest any
		if d.LatestMessageID != nil {
			latest = d.LatestMessageID.String()
		}
		if _, err := tx.Exec(`
			INSERT INTO dialogs (id, participant_a, participant_b, title, latest_update_timestamp, latest_message_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID.String(), d.ParticipantA.String(), d.ParticipantB.String(),
			d.Title, d.LatestUpdateTimestamp, latest); err != nil {
			return nil, fmt.Errorf("insert dialog %s: %w", d.ID, mapErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	for _, d := range dialogs {
		s.publish(EventContactOpened, ContactOpened{DialogID: d.ID})
	}
	return dialogs, nil
}

// ListAllDialogs returns every dialog ordered by latest update descending,
// each hydrated with its latest message. One extra query per dialog is fine
// at this scale.
func (s *Store) ListAllDialogs() ([]Dialog, error) {
	rows, err := s.db.Query(`
		SELECT id, participant_a, participant_b, title, latest_update_timestamp, latest_message_id
		FROM dialogs
		ORDER BY latest_update_timestamp DESC`)
	if err != nil {
		return nil, err
	}
	return s.scanDialogs(rows)
}

// ListDialogs hydrates the dialogs with the given ids, used to resolve
// single dialogs after a bus notification without a full re-list.
func (s *Store) ListDialogs(ids []uuid.UUID) ([]Dialog, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	rows, err := s.db.Query(`
		SELECT id, participant_a, participant_b, title, latest_update_timestamp, latest_message_id
		FROM dialogs
		WHERE id IN (`+placeholders+`)
		ORDER BY latest_update_timestamp DESC`, args...)
	if err != nil {
		return nil, err
	}
	return s.scanDialogs(rows)
}

func (s *Store) scanDialogs(rows *sql.Rows) ([]Dialog, error) {
	defer func() { _ = rows.Close() }()

	var dialogs []Dialog
	for rows.Next() {
		d, err := scanDialogRow(rows)
		if err != nil {
			return nil, err
		}
		dialogs = append(dialogs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range dialogs {
		if dialogs[i].LatestMessageID == nil {
			continue
		}
		msg, err := s.GetMessage(*dialogs[i].LatestMessageID)
		if err != nil {
			return nil, fmt.Errorf("hydrate dialog %s: %w", dialogs[i].ID, err)
		}
		dialogs[i].LatestMessage = msg
	}
	return dialogs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDialogRow(row rowScanner) (*Dialog, error) {
	var d Dialog
	var id, pa, pb string
	var latest sql.NullString
	if err := row.Scan(&id, &pa, &pb, &d.Title, &d.LatestUpdateTimestamp, &latest); err != nil {
		return nil, err
	}

	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("dialog id %q: %w", id, err)
	}
	if d.ParticipantA, err = uuid.Parse(pa); err != nil {
		return nil, fmt.Errorf("participant %q: %w", pa, err)
	}
	if d.ParticipantB, err = uuid.Parse(pb); err != nil {
		return nil, fmt.Errorf("participant %q: %w", pb, err)
	}
	if latest.Valid {
		mid, err := uuid.Parse(latest.String)
		if err != nil {
			return nil, fmt.Errorf("latest message id %q: %w", latest.String, err)
		}
		d.LatestMessageID = &mid
	}
	return &d, nil
}

// dialogIDForPair returns the dialog id for an unordered participant pair,
// or uuid.Nil when no such dialog exists.
func (s *Store) dialogIDForPair(a, b uuid.UUID) (uuid.UUID, error) {
	var raw string
	err := s.db.QueryRow(`
		SELECT id FROM dialogs
		WHERE (participant_a = ? AND participant_b = ?)
		   OR (participant_a = ? AND participant_b = ?)`,
		a.String(), b.String(), b.String(), a.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}
