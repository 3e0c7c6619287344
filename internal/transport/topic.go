package transport

import "github.com/google/uuid"

// Topics are derived deterministically from identity ids so a peer always
// knows where to publish: every identity listens on its own inbound topic.

const topicPrefix = "chat/client/"

// TopicForIdentity returns the inbound topic for an identity.
func TopicForIdentity(id uuid.UUID) string {
	return topicPrefix + id.String()
}

// ClientID returns the broker client id for an identity.
func ClientID(id uuid.UUID) string {
	return "chatcore-" + id.String()
}
