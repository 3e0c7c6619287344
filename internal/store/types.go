package store

import "github.com/google/uuid"

// Contact is a remote party the local account can converse with.
type Contact struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Dialog is a conversation between exactly two participants. At most one
// dialog exists per unordered participant pair. LatestMessageID is a
// denormalized pointer to the newest message, maintained in the same
// transaction as every message insert so list renders skip the join.
type Dialog struct {
	ID                    uuid.UUID  `json:"id"`
	ParticipantA          uuid.UUID  `json:"participantA"`
	ParticipantB          uuid.UUID  `json:"participantB"`
	Title                 string     `json:"title"`
	LatestUpdateTimestamp int64      `json:"latestUpdateTimestamp"`
	LatestMessageID       *uuid.UUID `json:"latestMessageId,omitempty"`

	// LatestMessage is hydrated on reads, never persisted as a column.
	LatestMessage *Message `json:"latestMessage,omitempty"`
}

// Peer returns the participant that is not self. Returns self's zero pair
// partner unchanged if self is not a participant.
func (d *Dialog) Peer(self uuid.UUID) uuid.UUID {
	if d.ParticipantA == self {
		return d.ParticipantB
	}
	return d.ParticipantA
}

// Message is an immutable chat message. The JSON shape doubles as the wire
// payload published to the peer's topic.
type Message struct {
	ID         uuid.UUID `json:"id"`
	DialogID   uuid.UUID `json:"dialogId"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  int64     `json:"timestamp"`
}

// QuickReply is a canned response, seeded once at first startup.
type QuickReply struct {
	ID      int64
	Message string
}

// OutboxEntry is a queued outbound publish for a locally written message.
type OutboxEntry struct {
	ID           int64
	MessageID    uuid.UUID
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
