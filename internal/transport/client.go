package transport

import "github.com/google/uuid"

// Callbacks notify the session of connection lifecycle changes driven by
// the underlying client, including its automatic reconnects.
type Callbacks struct {
	OnConnected      func()
	OnConnectionLost func(error)
	OnReconnecting   func()
}

// Client is the narrow broker surface the session needs. The live
// implementation wraps paho; tests substitute a fake.
type Client interface {
	Connect() error
	Disconnect()
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, payload []byte) error
	IsConnected() bool
}

// ClientFactory builds a client bound to one identity. A fresh client is
// built per identity so logout and re-login never reuse broker state.
type ClientFactory func(id uuid.UUID, cb Callbacks) Client
