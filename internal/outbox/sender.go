package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adaspace/chatcore/internal/bus"
	"github.com/adaspace/chatcore/internal/store"
	"github.com/adaspace/chatcore/internal/transport"
)

// Event kinds published by the sender.
const (
	EventSent       = "outbox.sent"
	EventSendFailed = "outbox.send_failed"
)

// Publisher is the slice of the transport session the sender needs.
type Publisher interface {
	Publish(msg store.Message) error
	State() transport.State
}

// Sender drains the outbox serially and publishes queued messages to the
// broker. Entries are only drained while the session is connected, so the
// sender never races the broker handshake.
type Sender struct {
	store     *store.Store
	publisher Publisher
	bus       *bus.Bus
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(s *store.Store, p Publisher, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		store:     s,
		publisher: p,
		bus:       b,
		logger:    logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending() {
	if s.publisher.State() != transport.Connected {
		return
	}

	pending, err := s.store.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.store.MarkOutboxSending(entry.MessageID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("message_id", entry.MessageID.String()))
			continue
		}

		msg, err := s.store.GetMessage(entry.MessageID)
		if err != nil || msg == nil {
			s.logger.Error("outbox entry without message", zap.Error(err), zap.String("message_id", entry.MessageID.String()))
			_ = s.store.MarkOutboxFailed(entry.MessageID, "message not found")
			continue
		}

		if err := s.publisher.Publish(*msg); err != nil {
			s.logger.Error("failed to publish message", zap.Error(err), zap.String("message_id", entry.MessageID.String()))
			_ = s.store.MarkOutboxFailed(entry.MessageID, err.Error())
			s.bus.Publish(bus.Event{
				Kind:      EventSendFailed,
				Timestamp: time.Now(),
				Payload: map[string]string{
					"message_id": entry.MessageID.String(),
					"error":      err.Error(),
				},
			})
			// The entry is out of the queue; the drain stays serial, so
			// later entries still publish in queue order.
			continue
		}

		if err := s.store.MarkOutboxSent(entry.MessageID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("message_id", entry.MessageID.String()))
		}

		s.logger.Info("message published", zap.String("message_id", entry.MessageID.String()), zap.String("dialog_id", msg.DialogID.String()))
		s.bus.Publish(bus.Event{
			Kind:      EventSent,
			Timestamp: time.Now(),
			Payload:   map[string]string{"message_id": entry.MessageID.String()},
		})
	}
}
