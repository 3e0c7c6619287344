package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaspace/chatcore/internal/bus"
	"github.com/adaspace/chatcore/internal/store"
)

// Event kinds published by the session beyond state changes.
const (
	// EventMessage carries a decoded inbound store.Message.
	EventMessage = "transport.message"
	// EventSubscribed carries the []string of topics now subscribed.
	EventSubscribed = "transport.subscribed"
	// EventSubscribeFailed carries a *SubscribeError.
	EventSubscribeFailed = "transport.subscribe_failed"
)

// ErrNotConnected is returned by operations that require a live connection.
var ErrNotConnected = errors.New("session not connected")

// SubscribeError reports topics that could not be subscribed. Non-fatal: the
// connection stays up and the next connected transition retries.
type SubscribeError struct {
	Topics []string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe failed for topics %v", e.Topics)
}

// Session owns one broker connection scoped to one identity. It translates
// the client's callbacks into ordered bus events (state changes, subscribe
// acks, decoded inbound messages) and tracks the subscribed-topic set, which
// is voided on every disconnect.
type Session struct {
	mu         sync.Mutex
	factory    ClientFactory
	client     Client
	identity   uuid.UUID
	machine    *Machine
	bus        *bus.Bus
	logger     *zap.Logger
	subscribed map[string]struct{}
}

// NewSession creates a session with no client; Connect builds one.
func NewSession(factory ClientFactory, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{
		factory:    factory,
		machine:    NewMachine(b),
		bus:        b,
		logger:     logger,
		subscribed: make(map[string]struct{}),
	}
}

// State returns the current connectivity state.
func (s *Session) State() State {
	return s.machine.Current()
}

// Identity returns the identity the session is bound to, or uuid.Nil.
func (s *Session) Identity() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SubscribedTopics returns a snapshot of the subscribed-topic set.
func (s *Session) SubscribedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.subscribed))
	for t := range s.subscribed {
		topics = append(topics, t)
	}
	return topics
}

// Connect builds a client bound to the identity (if needed) and initiates
// the connection. Valid only from Disconnected. The call does not wait for
// the broker: completion arrives as a state-change event, and callers
// needing a deadline apply it externally.
func (s *Session) Connect(identity uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.machine.Current(); current != Disconnected {
		return fmt.Errorf("connect: session is %s", current)
	}
	if s.client == nil || s.identity != identity {
		s.identity = identity
		s.client = s.factory(identity, Callbacks{
			OnConnected:      s.handleConnected,
			OnConnectionLost: s.handleConnectionLost,
			OnReconnecting:   s.handleReconnecting,
		})
	}
	if err := s.machine.Transition(Connecting); err != nil {
		return err
	}

	client := s.client
	go func() {
		if err := client.Connect(); err != nil {
			s.logger.Warn("broker connect failed", zap.Error(err))
			s.mu.Lock()
			defer s.mu.Unlock()
			_ = s.machine.Transition(Disconnected)
		}
	}()
	return nil
}

// SubscribeInbound subscribes to the identity's inbound topic at QoS 1.
// Failure is reported (error + bus event) but does not tear the connection
// down.
func (s *Session) SubscribeInbound() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.Current() != Connected || s.client == nil {
		return ErrNotConnected
	}
	topic := TopicForIdentity(s.identity)
	if err := s.client.Subscribe(topic, 1, s.handleInbound); err != nil {
		s.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
		subErr := &SubscribeError{Topics: []string{topic}}
		s.publish(EventSubscribeFailed, subErr)
		return subErr
	}
	s.subscribed[topic] = struct{}{}
	s.publish(EventSubscribed, []string{topic})
	return nil
}

// Publish sends a message to the receiver's identity-derived topic at QoS 1.
// Valid only while connected; no application-level acknowledgment is
// awaited beyond the transport QoS handshake.
func (s *Session) Publish(msg store.Message) error {
	s.mu.Lock()
	client := s.client
	state := s.machine.Current()
	s.mu.Unlock()

	if state != Connected || client == nil {
		return ErrNotConnected
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if err := client.Publish(TopicForIdentity(msg.ReceiverID), 1, payload); err != nil {
		return fmt.Errorf("publish message %s: %w", msg.ID, err)
	}
	return nil
}

// Disconnect tears the connection down. All subscriptions become void and
// must be re-established after the next connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
}

// Logout discards the client and the bound identity entirely; the next
// Connect builds a fresh client for whatever identity it is given.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
	s.client = nil
	s.identity = uuid.Nil
}

func (s *Session) disconnectLocked() {
	if s.client != nil {
		for topic := range s.subscribed {
			if err := s.client.Unsubscribe(topic); err != nil {
				s.logger.Debug("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
			}
		}
		s.client.Disconnect()
	}
	s.subscribed = make(map[string]struct{})
	if s.machine.Current() != Disconnected {
		_ = s.machine.Transition(Disconnected)
	}
}

func (s *Session) handleConnected() {
	if err := s.machine.Transition(Connected); err != nil {
		s.logger.Debug("ignoring connect callback", zap.Error(err))
	}
}

func (s *Session) handleConnectionLost(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Subscriptions do not survive the connection.
	s.subscribed = make(map[string]struct{})
	if terr := s.machine.Transition(Disconnected); terr != nil {
		s.logger.Debug("ignoring disconnect callback", zap.Error(terr))
	}
}

func (s *Session) handleReconnecting() {
	if err := s.machine.Transition(Connecting); err != nil {
		s.logger.Debug("ignoring reconnect callback", zap.Error(err))
	}
}

// handleInbound decodes a wire payload and publishes it as a message event.
// Malformed payloads come from an untrusted peer device and are dropped
// without surfacing an error.
func (s *Session) handleInbound(topic string, payload []byte) {
	msg, err := DecodeMessage(payload)
	if err != nil {
		s.logger.Debug("dropping malformed payload",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	s.publish(EventMessage, msg)
}

func (s *Session) publish(kind string, payload any) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
