package transport

import (
	"testing"

	"github.com/google/uuid"

	"github.com/adaspace/chatcore/internal/store"
)

func TestCodecRoundTrip(t *testing.T) {
	msg := store.Message{
		ID: uuid.New(), DialogID: uuid.New(),
		SenderID: uuid.New(), ReceiverID: uuid.New(),
		SenderName: "Alice", Content: "hello there", Timestamp: 1710000000,
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != msg {
		t.Errorf("round trip = %+v, want %+v", got, msg)
	}
}

func TestDecodeRejectsMissingIDs(t *testing.T) {
	valid := store.Message{
		ID: uuid.New(), DialogID: uuid.New(),
		SenderID: uuid.New(), ReceiverID: uuid.New(),
		Content: "x", Timestamp: 1,
	}

	cases := []struct {
		name   string
		mutate func(*store.Message)
	}{
		{"nil id", func(m *store.Message) { m.ID = uuid.Nil }},
		{"nil dialog", func(m *store.Message) { m.DialogID = uuid.Nil }},
		{"nil sender", func(m *store.Message) { m.SenderID = uuid.Nil }},
		{"nil receiver", func(m *store.Message) { m.ReceiverID = uuid.Nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := valid
			tc.mutate(&m)
			payload, err := EncodeMessage(m)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := DecodeMessage(payload); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte("{{{")); err == nil {
		t.Error("expected decode error for invalid JSON")
	}
}

func TestTopicForIdentityDeterministic(t *testing.T) {
	id := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	want := "chat/client/f47ac10b-58cc-4372-a567-0e02b2c3d479"
	if got := TopicForIdentity(id); got != want {
		t.Errorf("topic = %q, want %q", got, want)
	}
	if TopicForIdentity(id) != TopicForIdentity(id) {
		t.Error("topic derivation must be deterministic")
	}
}
