// Package sync bridges transport events into store writes and owns the
// rule "connect only while an identity exists, tear down on logout".
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaspace/chatcore/internal/bus"
	"github.com/adaspace/chatcore/internal/identity"
	"github.com/adaspace/chatcore/internal/store"
	"github.com/adaspace/chatcore/internal/transport"
)

// ErrNoIdentity is returned by commands that require a logged-in account.
var ErrNoIdentity = errors.New("no identity")

// Transport is the session surface the coordinator drives.
type Transport interface {
	Connect(identity uuid.UUID) error
	SubscribeInbound() error
	Logout()
	State() transport.State
}

// Coordinator consumes transport and identity events from the bus, applies
// inbound messages to the store (which emits the change-bus events UI
// surfaces consume) and drives connect/resubscribe policy.
type Coordinator struct {
	store     *store.Store
	transport Transport
	identity  *identity.Provider
	bus       *bus.Bus
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a coordinator.
func New(s *store.Store, t Transport, p *identity.Provider, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     s,
		transport: t,
		identity:  p,
		bus:       b,
		logger:    logger,
	}
}

// Start subscribes to transport and identity events and, when an identity
// already exists, boots the sync subsystem. A store bootstrap failure at
// startup is fatal and returned.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	transportCh, unsubTransport := c.bus.Subscribe("transport.", 256)
	identityCh, unsubIdentity := c.bus.Subscribe("identity.", 16)

	if acct, err := c.identity.Current(); err != nil {
		unsubTransport()
		unsubIdentity()
		return fmt.Errorf("read identity: %w", err)
	} else if acct != nil {
		if err := c.begin(*acct); err != nil {
			unsubTransport()
			unsubIdentity()
			return err
		}
	}

	go func() {
		defer close(c.done)
		defer unsubTransport()
		defer unsubIdentity()
		for {
			select {
			case evt := <-transportCh:
				c.handleTransportEvent(evt)
			case evt := <-identityCh:
				c.handleIdentityEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop cancels the event loop and waits for it to unsubscribe.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Operations exposes the read-only stream of committed store mutations for
// UI surfaces. The caller must invoke the cancel func when the surface goes
// away.
func (c *Coordinator) Operations(bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe("store.", bufSize)
}

// Connectivity exposes the read-only stream of connection state changes.
func (c *Coordinator) Connectivity(bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(transport.EventStateChanged, bufSize)
}

// begin boots the sync subsystem for an account: schema first, then the
// broker connection. Subscription happens when the connected event arrives.
func (c *Coordinator) begin(acct identity.Account) error {
	if err := c.store.Initialize(); err != nil {
		return fmt.Errorf("store bootstrap: %w", err)
	}
	if err := c.transport.Connect(acct.ID); err != nil {
		// Non-fatal: the next lifecycle signal retries.
		c.logger.Warn("transport connect failed", zap.Error(err))
	}
	return nil
}

func (c *Coordinator) handleTransportEvent(evt bus.Event) {
	switch evt.Kind {
	case transport.EventStateChanged:
		change, ok := evt.Payload.(transport.StateChange)
		if !ok {
			return
		}
		// Subscriptions are void after every disconnect; re-issue on each
		// connected transition, and only then.
		if change.To == transport.Connected {
			if err := c.transport.SubscribeInbound(); err != nil {
				c.logger.Warn("resubscribe failed", zap.Error(err))
			}
		}
	case transport.EventMessage:
		msg, ok := evt.Payload.(store.Message)
		if !ok {
			return
		}
		if _, err := c.store.InsertMessages([]store.Message{msg}); err != nil {
			c.logger.Error("failed to ingest inbound message",
				zap.Error(err), zap.String("msg_id", msg.ID.String()))
		}
	}
}

func (c *Coordinator) handleIdentityEvent(evt bus.Event) {
	switch evt.Kind {
	case identity.EventLogin:
		acct, ok := evt.Payload.(identity.Account)
		if !ok {
			return
		}
		if err := c.begin(acct); err != nil {
			c.logger.Error("sync bootstrap failed", zap.Error(err))
		}
	case identity.EventLogout:
		c.transport.Logout()
		if err := c.store.Logout(); err != nil {
			c.logger.Error("store logout failed", zap.Error(err))
		}
	}
}

// OpenOrCreateDialog finds or creates the dialog with peerID for the
// current account. The store emits ContactOpened.
func (c *Coordinator) OpenOrCreateDialog(peerID uuid.UUID) (uuid.UUID, error) {
	acct, err := c.requireIdentity()
	if err != nil {
		return uuid.Nil, err
	}
	return c.store.OpenDialogWithPeer(acct.ID, peerID)
}

// SendMessage writes a message to the store (emitting MessagesAppended) and
// queues it for publishing to the peer's topic. The local write succeeds
// even while disconnected; the outbox drains once the session comes up.
func (c *Coordinator) SendMessage(dialogID uuid.UUID, content string) (*store.Message, error) {
	acct, err := c.requireIdentity()
	if err != nil {
		return nil, err
	}

	dialogs, err := c.store.ListDialogs([]uuid.UUID{dialogID})
	if err != nil {
		return nil, err
	}
	if len(dialogs) == 0 {
		return nil, fmt.Errorf("dialog %s not found", dialogID)
	}

	msg := store.Message{
		ID:         uuid.New(),
		DialogID:   dialogID,
		SenderID:   acct.ID,
		ReceiverID: dialogs[0].Peer(acct.ID),
		SenderName: acct.Name,
		Content:    content,
		Timestamp:  time.Now().Unix(),
	}
	return c.store.InsertOutboundMessage(msg)
}

// DeleteContacts removes contacts and everything under them. The store
// emits ContactsDeleted.
func (c *Coordinator) DeleteContacts(ids []uuid.UUID) error {
	if _, err := c.requireIdentity(); err != nil {
		return err
	}
	return c.store.DeleteContacts(ids)
}

func (c *Coordinator) requireIdentity() (*identity.Account, error) {
	acct, err := c.identity.Current()
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNoIdentity
	}
	return acct, nil
}
