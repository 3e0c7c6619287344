package store

import "github.com/google/uuid"

// Change bus event kinds emitted by the store. Each kind carries the payload
// type of the same name. The set is closed: consumers switch on these and
// re-apply idempotently (the bus never coalesces or dedups).
const (
	EventContactOpened    = "store.contact_opened"
	EventContactsDeleted  = "store.contacts_deleted"
	EventMessagesAppended = "store.messages_appended"
)

// ContactOpened announces that a dialog was created or explicitly opened.
type ContactOpened struct {
	DialogID uuid.UUID
}

// ContactsDeleted announces a contact cascade delete; DialogIDs lists every
// dialog removed by it. Emitted once per DeleteContacts call.
type ContactsDeleted struct {
	DialogIDs []uuid.UUID
}

// MessagesAppended announces a committed message batch. One event covers the
// whole batch so a push of N messages updates views in a single pass.
type MessagesAppended struct {
	Messages []Message
}
