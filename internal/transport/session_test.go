package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaspace/chatcore/internal/bus"
	"github.com/adaspace/chatcore/internal/store"
)

// fakeClient simulates a broker client; tests drive the lifecycle through
// the stored callbacks.
type fakeClient struct {
	mu          sync.Mutex
	cb          Callbacks
	connectErr  error
	subErr      error
	pubErr      error
	connected   bool
	subscribed  map[string]func(string, []byte)
	published   []string // topics in publish order
	payloads    [][]byte
	unsubscribe []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscribed: make(map[string]func(string, []byte))}
}

func (c *fakeClient) factory() ClientFactory {
	return func(_ uuid.UUID, cb Callbacks) Client {
		c.mu.Lock()
		c.cb = cb
		c.mu.Unlock()
		return c
	}
}

func (c *fakeClient) Connect() error {
	c.mu.Lock()
	err := c.connectErr
	if err == nil {
		c.connected = true
	}
	cb := c.cb
	c.mu.Unlock()
	if err != nil {
		return err
	}
	cb.OnConnected()
	return nil
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.subscribed[topic] = handler
	return nil
}

func (c *fakeClient) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = append(c.unsubscribe, topics...)
	for _, t := range topics {
		delete(c.subscribed, t)
	}
	return nil
}

func (c *fakeClient) Publish(topic string, _ byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return c.pubErr
	}
	c.published = append(c.published, topic)
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) hasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[topic]
	return ok
}

// deliver simulates an inbound broker message on a subscribed topic.
func (c *fakeClient) deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	handler := c.subscribed[topic]
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(topic, payload)
	return true
}

// dropConnection simulates a network loss followed by auto-reconnect.
func (c *fakeClient) dropConnection() {
	c.mu.Lock()
	cb := c.cb
	c.connected = false
	c.subscribed = make(map[string]func(string, []byte))
	c.mu.Unlock()
	cb.OnConnectionLost(errors.New("network down"))
	cb.OnReconnecting()
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	cb.OnConnected()
}

func testSession(t *testing.T) (*Session, *fakeClient, *bus.Bus) {
	t.Helper()
	client := newFakeClient()
	b := bus.New()
	return NewSession(client.factory(), b, zap.NewNop()), client, b
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func TestConnectLifecycle(t *testing.T) {
	s, _, b := testSession(t)
	ch, unsub := b.Subscribe(EventStateChanged, 10)
	defer unsub()

	identity := uuid.New()
	if err := s.Connect(identity); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)

	// Observed transitions: Disconnected->Connecting->Connected.
	wantTransitions := []StateChange{
		{From: Disconnected, To: Connecting},
		{From: Connecting, To: Connected},
	}
	for _, want := range wantTransitions {
		select {
		case evt := <-ch:
			if got := evt.Payload.(StateChange); got != want {
				t.Errorf("transition = %+v, want %+v", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for state event")
		}
	}
	if s.Identity() != identity {
		t.Errorf("identity = %s, want %s", s.Identity(), identity)
	}
}

func TestConnectOnlyFromDisconnected(t *testing.T) {
	s, _, _ := testSession(t)
	identity := uuid.New()
	if err := s.Connect(identity); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)

	if err := s.Connect(identity); err == nil {
		t.Error("second Connect while connected should fail")
	}
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	s, client, _ := testSession(t)
	client.connectErr = errors.New("broker unreachable")

	if err := s.Connect(uuid.New()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Disconnected)
}

func TestSubscribeInboundRequiresConnection(t *testing.T) {
	s, _, _ := testSession(t)
	if err := s.SubscribeInbound(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeInboundTracksTopic(t *testing.T) {
	s, client, b := testSession(t)
	identity := uuid.New()
	if err := s.Connect(identity); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)

	ch, unsub := b.Subscribe(EventSubscribed, 10)
	defer unsub()

	if err := s.SubscribeInbound(); err != nil {
		t.Fatal(err)
	}

	topic := TopicForIdentity(identity)
	if got := s.SubscribedTopics(); len(got) != 1 || got[0] != topic {
		t.Errorf("subscribed topics = %v, want [%s]", got, topic)
	}
	if !client.hasSubscription(topic) {
		t.Errorf("client not subscribed to %s", topic)
	}

	select {
	case evt := <-ch:
		if topics := evt.Payload.([]string); len(topics) != 1 || topics[0] != topic {
			t.Errorf("event topics = %v, want [%s]", topics, topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestSubscribeFailureIsNonFatal(t *testing.T) {
	s, client, b := testSession(t)
	if err := s.Connect(uuid.New()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)
	client.subErr = errors.New("broker rejected")

	ch, unsub := b.Subscribe(EventSubscribeFailed, 10)
	defer unsub()

	err := s.SubscribeInbound()
	var subErr *SubscribeError
	if !errors.As(err, &subErr) {
		t.Fatalf("err = %v, want *SubscribeError", err)
	}

	// Still connected: subscribe failure does not force a disconnect.
	if s.State() != Connected {
		t.Errorf("state = %s, want Connected", s.State())
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe_failed event")
	}
}

func TestInboundMessagePublishedOnBus(t *testing.T) {
	s, client, b := testSession(t)
	identity := uuid.New()
	if err := s.Connect(identity); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)
	if err := s.SubscribeInbound(); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(EventMessage, 10)
	defer unsub()

	msg := store.Message{
		ID: uuid.New(), DialogID: uuid.New(),
		SenderID: uuid.New(), ReceiverID: identity,
		SenderName: "Alice", Content: "hello", Timestamp: 100,
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !client.deliver(TopicForIdentity(identity), payload) {
		t.Fatal("no handler registered for inbound topic")
	}

	select {
	case evt := <-ch:
		got := evt.Payload.(store.Message)
		if got.ID != msg.ID || got.Content != "hello" {
			t.Errorf("decoded message = %+v, want %+v", got, msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message event")
	}
}

func TestMalformedInboundDroppedSilently(t *testing.T) {
	s, client, b := testSession(t)
	identity := uuid.New()
	if err := s.Connect(identity); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)
	if err := s.SubscribeInbound(); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(EventMessage, 10)
	defer unsub()

	for _, payload := range [][]byte{
		[]byte("not json"),
		[]byte(`{"id":"not-a-uuid"}`),
		[]byte(`{}`),
	} {
		client.deliver(TopicForIdentity(identity), payload)
	}

	select {
	case evt := <-ch:
		t.Errorf("malformed payload surfaced as %v", evt.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	s, _, _ := testSession(t)
	err := s.Publish(store.Message{ID: uuid.New(), ReceiverID: uuid.New()})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestPublishTargetsReceiverTopic(t *testing.T) {
	s, client, _ := testSession(t)
	if err := s.Connect(uuid.New()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)

	receiver := uuid.New()
	msg := store.Message{
		ID: uuid.New(), DialogID: uuid.New(),
		SenderID: s.Identity(), ReceiverID: receiver,
		Content: "hi", Timestamp: 1,
	}
	if err := s.Publish(msg); err != nil {
		t.Fatal(err)
	}

	if len(client.published) != 1 || client.published[0] != TopicForIdentity(receiver) {
		t.Errorf("published to %v, want [%s]", client.published, TopicForIdentity(receiver))
	}
	decoded, err := DecodeMessage(client.payloads[0])
	if err != nil {
		t.Fatalf("published payload does not round-trip: %v", err)
	}
	if decoded.ID != msg.ID {
		t.Errorf("payload id = %s, want %s", decoded.ID, msg.ID)
	}
}

func TestDisconnectVoidsSubscriptions(t *testing.T) {
	s, client, _ := testSession(t)
	if err := s.Connect(uuid.New()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)
	if err := s.SubscribeInbound(); err != nil {
		t.Fatal(err)
	}

	s.Disconnect()
	if s.State() != Disconnected {
		t.Errorf("state = %s, want Disconnected", s.State())
	}
	if got := s.SubscribedTopics(); len(got) != 0 {
		t.Errorf("subscribed topics after disconnect = %v, want none", got)
	}
	if len(client.unsubscribe) == 0 {
		t.Error("underlying subscription not closed on disconnect")
	}
}

func TestConnectionLossVoidsSubscriptions(t *testing.T) {
	s, client, _ := testSession(t)
	if err := s.Connect(uuid.New()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)
	if err := s.SubscribeInbound(); err != nil {
		t.Fatal(err)
	}

	client.dropConnection()
	waitState(t, s, Connected)

	// The reconnect produced a fresh connection with no subscriptions; the
	// coordinator is responsible for re-subscribing.
	if got := s.SubscribedTopics(); len(got) != 0 {
		t.Errorf("subscribed topics after reconnect = %v, want none until resubscribe", got)
	}
}

func TestLogoutDiscardsClientAndIdentity(t *testing.T) {
	s, _, _ := testSession(t)
	if err := s.Connect(uuid.New()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)

	s.Logout()
	if s.State() != Disconnected {
		t.Errorf("state = %s, want Disconnected", s.State())
	}
	if s.Identity() != uuid.Nil {
		t.Errorf("identity = %s, want Nil", s.Identity())
	}

	// A fresh connect binds a new identity cleanly.
	next := uuid.New()
	if err := s.Connect(next); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, Connected)
	if s.Identity() != next {
		t.Errorf("identity = %s, want %s", s.Identity(), next)
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine(bus.New())
	if err := m.Transition(Connected); err == nil {
		t.Error("Disconnected->Connected should be invalid")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Connecting); err == nil {
		t.Error("Connecting->Connecting should be invalid")
	}
}
