package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/adaspace/chatcore/internal/store"
)

// The wire payload is the JSON encoding of a store.Message. Payloads arrive
// from untrusted peer devices; DecodeMessage validates the fields a store
// write depends on and the caller drops anything malformed.

// EncodeMessage serializes a message for publishing.
func EncodeMessage(m store.Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses and validates an inbound payload.
func DecodeMessage(payload []byte) (store.Message, error) {
	var m store.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return store.Message{}, fmt.Errorf("decode message: %w", err)
	}
	for name, id := range map[string]uuid.UUID{
		"id":         m.ID,
		"dialogId":   m.DialogID,
		"senderId":   m.SenderID,
		"receiverId": m.ReceiverID,
	} {
		if id == uuid.Nil {
			return store.Message{}, fmt.Errorf("decode message: missing %s", name)
		}
	}
	return m, nil
}
